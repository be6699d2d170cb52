package txn_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/sqliteutil"
	"github.com/memogarden/memogarden/internal/txn"
	"github.com/memogarden/memogarden/internal/verrs"
)

func newTestCoordinator(t *testing.T) *txn.Coordinator {
	t.Helper()
	ctx := context.Background()
	db, err := sqliteutil.Open(ctx, filepath.Join(t.TempDir(), "garden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return txn.New(db, nil, nil, nil)
}

func TestInitSystemStartsNormal(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.InitSystem(context.Background()))
	require.Equal(t, txn.StatusNormal, c.Status())
}

func TestRunInTransactionCommitsFactBeforeEntityWrites(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.InitSystem(context.Background()))

	err := c.RunInTransaction(context.Background(), func(scope txn.Scope) error {
		_, err := scope.Facts.CreateFact(context.Background(), soil.Fact{Type: "Note"})
		if err != nil {
			return err
		}
		_, err = scope.Entities.CreateEntity(context.Background(), "note", nil)
		return err
	})
	require.NoError(t, err)
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.InitSystem(context.Background()))

	sentinel := errors.New("boom")
	var createdUUID string
	err := c.RunInTransaction(context.Background(), func(scope txn.Scope) error {
		e, err := scope.Entities.CreateEntity(context.Background(), "note", nil)
		if err != nil {
			return err
		}
		createdUUID = e.UUID
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	err = c.RunInTransaction(context.Background(), func(scope txn.Scope) error {
		_, err := scope.Entities.GetEntity(context.Background(), createdUUID)
		return err
	})
	ve, ok := verrs.As(err)
	require.True(t, ok)
	require.Equal(t, verrs.NotFound, ve.Code)
}

func TestCheckConsistencyReportsNormalOnFreshDatabase(t *testing.T) {
	c := newTestCoordinator(t)
	report := c.CheckConsistency(context.Background())
	require.Equal(t, txn.StatusNormal, report.Status)
	for _, chk := range report.Checks {
		require.True(t, chk.OK, chk.Name+": "+chk.Detail)
	}
}
