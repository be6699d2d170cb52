package context_test

import (
	stdcontext "context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ctxstore "github.com/memogarden/memogarden/internal/context"
	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/sqliteutil"
	"github.com/memogarden/memogarden/internal/verrs"
)

func newTestStore(t *testing.T) *ctxstore.Store {
	t.Helper()
	ctx := stdcontext.Background()
	db, err := sqliteutil.Open(ctx, filepath.Join(t.TempDir(), "garden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return ctxstore.New(core.New(db, nil, nil))
}

func TestGetContextFrameCreatesOnePerOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := stdcontext.Background()

	f1, err := s.GetContextFrame(ctx, "alice", ctxstore.OwnerOperator, true)
	require.NoError(t, err)
	require.NotEmpty(t, f1.UUID)

	f2, err := s.GetContextFrame(ctx, "alice", ctxstore.OwnerOperator, true)
	require.NoError(t, err)
	require.Equal(t, f1.UUID, f2.UUID)
}

func TestGetContextFrameNotFoundWithoutCreate(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetContextFrame(stdcontext.Background(), "nobody", ctxstore.OwnerOperator, false)
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.NotFound, ve.Code)
}

func TestUpdateContainersIsMoveToFrontBoundedLRU(t *testing.T) {
	s := newTestStore(t)
	ctx := stdcontext.Background()
	f, err := s.GetContextFrame(ctx, "alice", ctxstore.OwnerOperator, true)
	require.NoError(t, err)

	f, err = s.UpdateContainers(ctx, f, "a", 2)
	require.NoError(t, err)
	f, err = s.UpdateContainers(ctx, f, "b", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, f.Containers)

	f, err = s.UpdateContainers(ctx, f, "c", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, f.Containers)

	// revisiting an already-present container moves it to front without growing
	f, err = s.UpdateContainers(ctx, f, "b", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, f.Containers)
}

func TestUpdateContainersRejectsOutOfBoundsSize(t *testing.T) {
	s := newTestStore(t)
	ctx := stdcontext.Background()
	f, err := s.GetContextFrame(ctx, "alice", ctxstore.OwnerOperator, true)
	require.NoError(t, err)
	_, err = s.UpdateContainers(ctx, f, "a", 0)
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.ValidationError, ve.Code)
}

func TestScopeLifecycleSetsAndClearsPrimary(t *testing.T) {
	s := newTestStore(t)
	ctx := stdcontext.Background()
	f, err := s.GetContextFrame(ctx, "alice", ctxstore.OwnerOperator, true)
	require.NoError(t, err)

	f, err = s.EnterScope(ctx, f, "project-x")
	require.NoError(t, err)
	require.Equal(t, []string{"project-x"}, f.ActiveScopes)
	require.NotNil(t, f.PrimaryScope)
	require.Equal(t, "project-x", *f.PrimaryScope)

	_, err = s.EnterScope(ctx, f, "project-x")
	require.Error(t, err)

	f, err = s.EnterScope(ctx, f, "project-y")
	require.NoError(t, err)
	f, err = s.FocusScope(ctx, f, "project-y")
	require.NoError(t, err)
	require.Equal(t, "project-y", *f.PrimaryScope)

	f, err = s.LeaveScope(ctx, f, "project-y")
	require.NoError(t, err)
	require.Nil(t, f.PrimaryScope)
}

func TestEnterScopeRejectsNonOperatorFrame(t *testing.T) {
	s := newTestStore(t)
	ctx := stdcontext.Background()
	f, err := s.GetContextFrame(ctx, "agent-1", ctxstore.OwnerAgent, true)
	require.NoError(t, err)
	_, err = s.EnterScope(ctx, f, "project-x")
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.ValidationError, ve.Code)
}

func TestForkFrameInheritsContainerSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := stdcontext.Background()
	parent, err := s.GetContextFrame(ctx, "alice", ctxstore.OwnerOperator, true)
	require.NoError(t, err)
	parent, err = s.UpdateContainers(ctx, parent, "a", 5)
	require.NoError(t, err)

	child, err := s.ForkFrame(ctx, parent, "alice-subagent", ctxstore.OwnerAgent)
	require.NoError(t, err)
	require.True(t, child.IsSubordinate)
	require.Equal(t, parent.UUID, *child.ParentFrameUUID)
	require.Equal(t, parent.Containers, child.Containers)
}

func TestCreateViewRequiresAtLeastOneActionAndAppendsToTimeline(t *testing.T) {
	s := newTestStore(t)
	ctx := stdcontext.Background()
	f, err := s.GetContextFrame(ctx, "alice", ctxstore.OwnerOperator, true)
	require.NoError(t, err)

	_, err = s.CreateView(ctx, f.UUID, "alice", nil, nil)
	require.Error(t, err)

	now := time.Now().UTC()
	v, err := s.CreateView(ctx, f.UUID, "alice", []ctxstore.Action{
		{Type: "visit", Target: "core_abc", Timestamp: now},
	}, nil)
	require.NoError(t, err)
	require.Equal(t, now, v.StartedAt)

	f, err = s.AppendView(ctx, f, v)
	require.NoError(t, err)
	require.Equal(t, []string{v.UUID}, f.ViewTimeline)
}

func TestEndViewSetsEndedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := stdcontext.Background()
	f, err := s.GetContextFrame(ctx, "alice", ctxstore.OwnerOperator, true)
	require.NoError(t, err)
	v, err := s.CreateView(ctx, f.UUID, "alice", []ctxstore.Action{
		{Type: "visit", Target: "core_abc", Timestamp: time.Now().UTC()},
	}, nil)
	require.NoError(t, err)

	ended, err := s.EndView(ctx, v.UUID, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)
}

func TestIsSubstantiveAndIsPrimitiveAreDisjoint(t *testing.T) {
	require.True(t, ctxstore.IsSubstantive("Artifact"))
	require.False(t, ctxstore.IsPrimitive("Artifact"))
	require.True(t, ctxstore.IsPrimitive("Note"))
	require.False(t, ctxstore.IsSubstantive("Note"))
	require.False(t, ctxstore.IsSubstantive("NotAType"))
	require.False(t, ctxstore.IsPrimitive("NotAType"))
}
