package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLock(t *testing.T) (*AdvisoryLock, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAdvisoryLock(NewDB(db)), mock
}

func TestHashLockName(t *testing.T) {
	assert.Equal(t, hashLockName("ingestion"), hashLockName("ingestion"))
	assert.NotEqual(t, hashLockName("ingestion"), hashLockName("reindex"))
}

func TestAdvisoryLock_AcquireRelease(t *testing.T) {
	lock, mock := newMockLock(t)
	ctx := context.Background()
	key := hashLockName("ingestion")

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery(`SELECT pg_advisory_unlock\(\$1\)`).WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	acquired, err := lock.Acquire(ctx, "ingestion", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Second acquire from the same instance does not touch the database
	acquired, err = lock.Acquire(ctx, "ingestion", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, lock.Extend(ctx, "ingestion", time.Minute))
	require.NoError(t, lock.Release(ctx, "ingestion"))
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, lock.Extend(ctx, "ingestion", time.Minute), "extend after release")
	assert.NoError(t, lock.Release(ctx, "ingestion"), "release is idempotent")
}

func TestAdvisoryLock_HeldElsewhere(t *testing.T) {
	lock, mock := newMockLock(t)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	acquired, err := lock.Acquire(context.Background(), "ingestion", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}
