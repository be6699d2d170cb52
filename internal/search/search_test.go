package search_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/search"
	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/sqliteutil"
)

func newTestEngine(t *testing.T) (*search.Engine, *core.Store, *soil.Store) {
	t.Helper()
	ctx := context.Background()
	db, err := sqliteutil.Open(ctx, filepath.Join(t.TempDir(), "garden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	entities := core.New(db, nil, nil)
	facts := soil.New(db, nil, nil)
	return search.New(entities, facts), entities, facts
}

func TestSearchMatchesEntityNameCaseInsensitively(t *testing.T) {
	eng, entities, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := entities.CreateEntity(ctx, "person", json.RawMessage(`{"name":"Ada Lovelace"}`))
	require.NoError(t, err)
	_, err = entities.CreateEntity(ctx, "person", json.RawMessage(`{"name":"Grace Hopper"}`))
	require.NoError(t, err)

	results, err := eng.Search(ctx, "lovelace", search.TargetAny, search.CoverageNames, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "entity", results[0].Kind)
}

func TestSearchExcludesSupersededEntities(t *testing.T) {
	eng, entities, _ := newTestEngine(t)
	ctx := context.Background()
	a, err := entities.CreateEntity(ctx, "person", json.RawMessage(`{"name":"Obsolete Record"}`))
	require.NoError(t, err)
	b, err := entities.CreateEntity(ctx, "tombstone", nil)
	require.NoError(t, err)
	require.NoError(t, entities.Supersede(ctx, a.UUID, b.UUID))

	results, err := eng.Search(ctx, "obsolete", search.TargetAny, search.CoverageNames, 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchRestrictsToTargetType(t *testing.T) {
	eng, entities, facts := newTestEngine(t)
	ctx := context.Background()
	_, err := entities.CreateEntity(ctx, "person", json.RawMessage(`{"name":"shared keyword"}`))
	require.NoError(t, err)
	_, err = facts.CreateFact(ctx, soil.Fact{Type: "Note", Data: json.RawMessage(`{"name":"shared keyword"}`)})
	require.NoError(t, err)

	entityOnly, err := eng.Search(ctx, "shared", search.TargetEntity, search.CoverageNames, 10)
	require.NoError(t, err)
	require.Len(t, entityOnly, 1)
	require.Equal(t, "entity", entityOnly[0].Kind)

	factOnly, err := eng.Search(ctx, "shared", search.TargetFact, search.CoverageNames, 10)
	require.NoError(t, err)
	require.Len(t, factOnly, 1)
	require.Equal(t, "fact", factOnly[0].Kind)
}

func TestSearchCoverageContentScansBodyFields(t *testing.T) {
	eng, entities, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := entities.CreateEntity(ctx, "note", json.RawMessage(`{"name":"shopping list","body":"remember the milk"}`))
	require.NoError(t, err)

	notFound, err := eng.Search(ctx, "milk", search.TargetAny, search.CoverageNames, 10)
	require.NoError(t, err)
	require.Empty(t, notFound)

	found, err := eng.Search(ctx, "milk", search.TargetAny, search.CoverageContent, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestSearchRespectsLimitAcrossStores(t *testing.T) {
	eng, entities, facts := newTestEngine(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := entities.CreateEntity(ctx, "note", json.RawMessage(`{"name":"match me"}`))
		require.NoError(t, err)
	}
	_, err := facts.CreateFact(ctx, soil.Fact{Type: "Note", Data: json.RawMessage(`{"name":"match me"}`)})
	require.NoError(t, err)

	results, err := eng.Search(ctx, "match", search.TargetAny, search.CoverageNames, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
}
