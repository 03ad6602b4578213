// Package testutil builds migrated throwaway databases for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/garyjia/finflow/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/finflow/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// NewSQLite opens a migrated SQLite database in a temp dir and closes it when
// the test ends.
func NewSQLite(t testing.TB) *sqldb.DB {
	return NewSQLiteWithTimeout(t, 0)
}

// NewSQLiteWithTimeout is NewSQLite with a per-transaction timeout
func NewSQLiteWithTimeout(t testing.TB, txTimeout time.Duration) *sqldb.DB {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Driver:       database.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
		BusyTimeout:  5 * time.Second,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Run())

	return sqldb.NewDB(db.DB, sqldb.DialectSQLite, txTimeout, logger)
}

// FixedClock returns the same instant until advanced
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant
func (c *FixedClock) Now() time.Time {
	return c.T
}

// Advance moves the clock forward
func (c *FixedClock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}
