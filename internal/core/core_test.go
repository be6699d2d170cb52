package core_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/sqliteutil"
	"github.com/memogarden/memogarden/internal/uid"
	"github.com/memogarden/memogarden/internal/verrs"
)

func newTestStore(t *testing.T, opts ...core.Option) *core.Store {
	t.Helper()
	ctx := context.Background()
	db, err := sqliteutil.Open(ctx, filepath.Join(t.TempDir(), "garden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return core.New(db, nil, nil, opts...)
}

func TestCreateEntityStartsAtVersionOneWithNoPreviousHash(t *testing.T) {
	s := newTestStore(t)
	e, err := s.CreateEntity(context.Background(), "person", json.RawMessage(`{"name":"Ada"}`))
	require.NoError(t, err)
	require.Equal(t, 1, e.Version)
	require.Nil(t, e.PreviousHash)
	require.Equal(t, e.UUID, e.GroupID)

	ok, err := s.VerifyChain(e)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUpdateDataChainsHashAndIncrementsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e, err := s.CreateEntity(ctx, "person", json.RawMessage(`{"name":"Ada"}`))
	require.NoError(t, err)

	updated, err := s.UpdateData(ctx, e.UUID, json.RawMessage(`{"age":30}`), 0, "")
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)
	require.Equal(t, e.Hash, *updated.PreviousHash)
	require.NotEqual(t, e.Hash, updated.Hash)

	var data map[string]any
	require.NoError(t, json.Unmarshal(updated.Data, &data))
	require.Equal(t, "Ada", data["name"])
	require.EqualValues(t, 30, data["age"])

	ok, err := s.VerifyChain(updated)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUpdateDataLockConflictOnStaleVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e, err := s.CreateEntity(ctx, "person", nil)
	require.NoError(t, err)

	_, err = s.UpdateData(ctx, e.UUID, json.RawMessage(`{"a":1}`), 99, "")
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.LockConflict, ve.Code)
}

func TestUpdateDataLockConflictOnStaleHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e, err := s.CreateEntity(ctx, "person", nil)
	require.NoError(t, err)

	_, err = s.UpdateData(ctx, e.UUID, json.RawMessage(`{"a":1}`), 0, "not-the-real-hash")
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.LockConflict, ve.Code)
}

func TestSupersedeIsIdempotentButRejectsConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	original, err := s.CreateEntity(ctx, "person", nil)
	require.NoError(t, err)
	tombstoneA, err := s.CreateEntity(ctx, "tombstone", nil)
	require.NoError(t, err)
	tombstoneB, err := s.CreateEntity(ctx, "tombstone", nil)
	require.NoError(t, err)

	require.NoError(t, s.Supersede(ctx, original.UUID, tombstoneA.UUID))
	require.NoError(t, s.Supersede(ctx, original.UUID, tombstoneA.UUID)) // idempotent

	err = s.Supersede(ctx, original.UUID, tombstoneB.UUID)
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.ValidationError, ve.Code)
}

func TestQueryWithFiltersExcludesSupersededByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, err := s.CreateEntity(ctx, "person", nil)
	require.NoError(t, err)
	b, err := s.CreateEntity(ctx, "person", nil)
	require.NoError(t, err)
	require.NoError(t, s.Supersede(ctx, a.UUID, b.UUID))

	rows, total, err := s.QueryWithFilters(ctx, core.QueryFilter{Type: "person"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, rows, 1)
	require.Equal(t, b.UUID, rows[0].UUID)
}

func TestTimeHorizonDecayGrowsOnAccess(t *testing.T) {
	day := 0
	clock := func() time.Time {
		return uid.Epoch.Add(time.Duration(day) * 24 * time.Hour)
	}
	s := newTestStore(t, core.WithClock(clock), core.WithSafetyCoefficient(1.2))
	ctx := context.Background()

	rel, err := s.CreateRelation(ctx, "relates_to", "core_a", "entity", "core_b", "entity", 7, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 7, rel.TimeHorizon)

	day = 5
	updated, err := s.UpdateTimeHorizon(ctx, rel.UUID)
	require.NoError(t, err)
	require.Equal(t, 5, updated.LastAccessAt)
	require.Equal(t, 7+int(5*1.2), updated.TimeHorizon)
}

func TestExpireMakesRelationNotAlive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rel, err := s.CreateRelation(ctx, "relates_to", "a", "entity", "b", "entity", 7, nil, nil)
	require.NoError(t, err)
	require.True(t, s.IsAlive(rel))

	require.NoError(t, s.Expire(ctx, rel.UUID))
	expired, err := s.GetRelation(ctx, rel.UUID)
	require.NoError(t, err)
	require.False(t, s.IsAlive(expired))
}

func TestCreateRelationRejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRelation(context.Background(), "not_a_real_kind", "a", "entity", "b", "entity", 7, nil, nil)
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.ValidationError, ve.Code)
}

func TestCreateEntityRecordsDerivedFrom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	root, err := s.CreateEntity(ctx, "person", nil)
	require.NoError(t, err)
	require.Nil(t, root.DerivedFrom)

	child, err := s.CreateEntity(ctx, "person", nil, root.UUID)
	require.NoError(t, err)
	require.NotNil(t, child.DerivedFrom)
	require.Equal(t, root.UUID, *child.DerivedFrom)

	fetched, err := s.GetEntity(ctx, child.UUID)
	require.NoError(t, err)
	require.NotNil(t, fetched.DerivedFrom)
	require.Equal(t, root.UUID, *fetched.DerivedFrom)
}

func TestUpdateDataUnsetDeletesKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e, err := s.CreateEntity(ctx, "person", json.RawMessage(`{"old":"value","keep":"this"}`))
	require.NoError(t, err)

	updated, err := s.UpdateData(ctx, e.UUID, json.RawMessage(`{"new":"value"}`), 0, "", "old")
	require.NoError(t, err)

	var data map[string]any
	require.NoError(t, json.Unmarshal(updated.Data, &data))
	require.Equal(t, "value", data["new"])
	require.Equal(t, "this", data["keep"])
	require.NotContains(t, data, "old")
}

func TestExploreGraphBFSAndKindFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRelation(ctx, "relates_to", "a", "entity", "b", "entity", 7, nil, nil)
	require.NoError(t, err)
	_, err = s.CreateRelation(ctx, "relates_to", "b", "entity", "c", "entity", 7, nil, nil)
	require.NoError(t, err)

	result, err := s.ExploreGraph(ctx, "a", "outgoing", "", 2, 0)
	require.NoError(t, err)
	require.Len(t, result.Edges, 2)
	require.Equal(t, 2, result.Count)
	require.ElementsMatch(t, []string{"a", "b", "c"}, result.Nodes)
	for _, e := range result.Edges {
		require.Equal(t, "outgoing", e.Direction)
	}

	limited, err := s.ExploreGraph(ctx, "a", "outgoing", "", 2, 1)
	require.NoError(t, err)
	require.Len(t, limited.Edges, 1)

	filtered, err := s.ExploreGraph(ctx, "a", "outgoing", "no_such_kind", 2, 0)
	require.NoError(t, err)
	require.Empty(t, filtered.Edges)
}
