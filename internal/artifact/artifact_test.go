package artifact_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memogarden/memogarden/internal/artifact"
	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/sqliteutil"
	"github.com/memogarden/memogarden/internal/verrs"
)

func newTestEngine(t *testing.T) (*artifact.Engine, *core.Store) {
	t.Helper()
	ctx := context.Background()
	db, err := sqliteutil.Open(ctx, filepath.Join(t.TempDir(), "garden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	entities := core.New(db, nil, nil)
	facts := soil.New(db, nil, nil)
	return artifact.New(entities, facts), entities
}

func newArtifact(t *testing.T, entities *core.Store, content string) core.Entity {
	t.Helper()
	data, err := json.Marshal(artifact.ArtifactData{Content: content})
	require.NoError(t, err)
	e, err := entities.CreateEntity(context.Background(), artifact.ArtifactEntityType, data)
	require.NoError(t, err)
	return e
}

func TestCommitDeltaInsertAndHashChain(t *testing.T) {
	eng, entities := newTestEngine(t)
	ctx := context.Background()
	a := newArtifact(t, entities, "")

	result, err := eng.CommitDelta(ctx, a.UUID, "+1:hello", "", nil, "")
	require.NoError(t, err)
	require.Equal(t, "hello", result.NewContent)
	require.Equal(t, 1, result.LineCount)
	require.NotEmpty(t, result.NewHash)

	next, err := eng.CommitDelta(ctx, a.UUID, "+2:world", result.NewHash, nil, "")
	require.NoError(t, err)
	require.Equal(t, "hello\nworld", next.NewContent)
}

func TestCommitDeltaRejectsStaleBasedOnHash(t *testing.T) {
	eng, entities := newTestEngine(t)
	ctx := context.Background()
	a := newArtifact(t, entities, "line one")

	_, err := eng.CommitDelta(ctx, a.UUID, "+1:nope", "wrong-hash", nil, "")
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.LockConflict, ve.Code)
}

func TestCommitDeltaRemoveAndReplace(t *testing.T) {
	eng, entities := newTestEngine(t)
	ctx := context.Background()
	a := newArtifact(t, entities, "alpha\nbeta\ngamma")

	result, err := eng.CommitDelta(ctx, a.UUID, "~2:beta->bravo", "", nil, "")
	require.NoError(t, err)
	require.Equal(t, "alpha\nbravo\ngamma", result.NewContent)

	result, err = eng.CommitDelta(ctx, a.UUID, "-1", result.NewHash, nil, "")
	require.NoError(t, err)
	require.Equal(t, "bravo\ngamma", result.NewContent)
}

func TestCommitDeltaMoveLine(t *testing.T) {
	eng, entities := newTestEngine(t)
	ctx := context.Background()
	a := newArtifact(t, entities, "one\ntwo\nthree")

	result, err := eng.CommitDelta(ctx, a.UUID, ">1@3", "", nil, "")
	require.NoError(t, err)
	require.Equal(t, "two\nthree\none", result.NewContent)
}

func TestCommitDeltaRejectsMalformedOp(t *testing.T) {
	eng, entities := newTestEngine(t)
	ctx := context.Background()
	a := newArtifact(t, entities, "one")

	_, err := eng.CommitDelta(ctx, a.UUID, "?nonsense", "", nil, "")
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.ValidationError, ve.Code)
}

func TestGetArtifactAtCommitWalksHistory(t *testing.T) {
	eng, entities := newTestEngine(t)
	ctx := context.Background()
	a := newArtifact(t, entities, "")

	first, err := eng.CommitDelta(ctx, a.UUID, "+1:v1", "", nil, "")
	require.NoError(t, err)
	second, err := eng.CommitDelta(ctx, a.UUID, "~1:v1->v2", first.NewHash, nil, "")
	require.NoError(t, err)
	require.NotEqual(t, first.NewHash, second.NewHash)

	atFirst, err := eng.GetArtifactAtCommit(ctx, a.UUID, first.NewHash)
	require.NoError(t, err)
	require.Equal(t, "v1", atFirst.Content)

	atCurrent, err := eng.GetArtifactAtCommit(ctx, a.UUID, second.NewHash)
	require.NoError(t, err)
	require.Equal(t, "v2", atCurrent.Content)
}

func TestGetArtifactAtCommitNotFound(t *testing.T) {
	eng, entities := newTestEngine(t)
	a := newArtifact(t, entities, "content")
	_, err := eng.GetArtifactAtCommit(context.Background(), a.UUID, "never-existed")
	require.Error(t, err)
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.NotFound, ve.Code)
}

func TestDiffCommitsReportsInsertAndChange(t *testing.T) {
	eng, entities := newTestEngine(t)
	ctx := context.Background()
	a := newArtifact(t, entities, "")

	first, err := eng.CommitDelta(ctx, a.UUID, "+1:alpha\n+2:beta", "", nil, "")
	require.NoError(t, err)
	second, err := eng.CommitDelta(ctx, a.UUID, "~1:alpha->ALPHA\n+3:gamma", first.NewHash, nil, "")
	require.NoError(t, err)

	changes, err := eng.DiffCommits(ctx, a.UUID, first.NewHash, second.NewHash)
	require.NoError(t, err)
	require.NotEmpty(t, changes)

	var sawChange, sawInsert bool
	for _, c := range changes {
		if c.Op == "~" {
			sawChange = true
		}
		if c.Op == "+" {
			sawInsert = true
		}
	}
	require.True(t, sawChange)
	require.True(t, sawInsert)
}

func TestFoldCollapsesConversationLog(t *testing.T) {
	eng, entities := newTestEngine(t)
	ctx := context.Background()
	log, err := entities.CreateEntity(ctx, artifact.ConversationLogEntityType, nil)
	require.NoError(t, err)

	err = eng.Fold(ctx, log.UUID, "summary of the conversation", artifact.FoldAuthorAgent, []string{"f1", "f2"})
	require.NoError(t, err)

	got, err := entities.GetEntity(ctx, log.UUID)
	require.NoError(t, err)
	var fold artifact.FoldState
	require.NoError(t, json.Unmarshal(got.Data, &fold))
	require.True(t, fold.Collapsed)
	require.Equal(t, "summary of the conversation", fold.Content)
	require.Equal(t, []string{"f1", "f2"}, fold.FragmentIDs)
}
