package soil_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/sqliteutil"
	"github.com/memogarden/memogarden/internal/verrs"
)

func newTestStore(t *testing.T) *soil.Store {
	t.Helper()
	ctx := context.Background()
	db, err := sqliteutil.Open(ctx, filepath.Join(t.TempDir(), "garden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return soil.New(db, nil, nil)
}

func TestCreateFactAssignsUUIDAndHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, err := s.CreateFact(ctx, soil.Fact{Type: "Note", Data: json.RawMessage(`{"name":"grocery list"}`)})
	require.NoError(t, err)
	require.NotEmpty(t, f.UUID)
	require.NotEmpty(t, f.IntegrityHash)
	require.Equal(t, "full", f.Fidelity)

	got, err := s.GetFact(ctx, f.UUID)
	require.NoError(t, err)
	require.Equal(t, f.IntegrityHash, got.IntegrityHash)
}

func TestCreateFactRejectsUnknownType(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateFact(context.Background(), soil.Fact{Type: "NotARealType"})
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.ValidationError, ve.Code)
}

func TestGetFactNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetFact(context.Background(), "does-not-exist")
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.NotFound, ve.Code)
}

func TestMarkSupersededIsIdempotentButRejectsConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	original, err := s.CreateFact(ctx, soil.Fact{Type: "Note"})
	require.NoError(t, err)
	replacement, err := s.CreateFact(ctx, soil.Fact{Type: "Note"})
	require.NoError(t, err)

	now := replacement.RealizedAt
	require.NoError(t, s.MarkSuperseded(ctx, original.UUID, replacement.UUID, now))
	// calling again with the same successor is a no-op
	require.NoError(t, s.MarkSuperseded(ctx, original.UUID, replacement.UUID, now))

	other, err := s.CreateFact(ctx, soil.Fact{Type: "Note"})
	require.NoError(t, err)
	err = s.MarkSuperseded(ctx, original.UUID, other.UUID, now)
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.ValidationError, ve.Code)
}

func TestListFactsExcludesSupersededByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateFact(ctx, soil.Fact{Type: "Note"})
	require.NoError(t, err)
	b, err := s.CreateFact(ctx, soil.Fact{Type: "Note"})
	require.NoError(t, err)
	require.NoError(t, s.MarkSuperseded(ctx, a.UUID, b.UUID, b.RealizedAt))

	page, err := s.ListFacts(ctx, soil.ListFactsFilter{Type: "Note"})
	require.NoError(t, err)
	require.Len(t, page.Facts, 1)
	require.Equal(t, b.UUID, page.Facts[0].UUID)

	withSuperseded, err := s.ListFacts(ctx, soil.ListFactsFilter{Type: "Note", IncludeSuperseded: true})
	require.NoError(t, err)
	require.Len(t, withSuperseded.Facts, 2)
}

func TestSearchFactsSubstringMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateFact(ctx, soil.Fact{Type: "Note", Data: json.RawMessage(`{"name":"buy milk"}`)})
	require.NoError(t, err)
	_, err = s.CreateFact(ctx, soil.Fact{Type: "Note", Data: json.RawMessage(`{"name":"call dentist"}`)})
	require.NoError(t, err)

	results, err := s.SearchFacts(ctx, "milk", soil.CoverageNames, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestExploreLineageReturnsEdgesOnEitherSide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateFact(ctx, soil.Fact{Type: "Action"})
	require.NoError(t, err)
	b, err := s.CreateFact(ctx, soil.Fact{Type: "ActionResult"})
	require.NoError(t, err)
	_, err = s.CreateSystemRelation(ctx, soil.SystemRelation{
		Kind: "result_of", Source: b.UUID, SourceType: "fact", Target: a.UUID, TargetType: "fact",
	})
	require.NoError(t, err)

	edgesFromA, err := s.ExploreLineage(ctx, a.UUID)
	require.NoError(t, err)
	require.Len(t, edgesFromA, 1)

	edgesFromB, err := s.ExploreLineage(ctx, b.UUID)
	require.NoError(t, err)
	require.Len(t, edgesFromB, 1)
	require.Equal(t, edgesFromA[0].UUID, edgesFromB[0].UUID)
}
