package testdb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/coursegen/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

const opTimeout = 10 * time.Second

// The schema is migrated once per test binary.
var (
	migrateOnce sync.Once
	migrateErr  error
)

// URL returns DATABASE_URL, falling back to COURSEGEN_TEST_DB_URL.
func URL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	return os.Getenv("COURSEGEN_TEST_DB_URL")
}

// GetTestDBWithT opens the migrated test database, or skips t when no
// database is configured. The pool is closed when t ends.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()

	dsn := URL()
	if dsn == "" {
		t.Skip("DATABASE_URL or COURSEGEN_TEST_DB_URL not set, skipping integration test")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err, "open test database")
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("close test database: %v", err)
		}
	})
	// Claim tests run many workers against one pool.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "ping test database")

	migrateOnce.Do(func() { migrateErr = postgres.Migrate(ctx, db, "up", nil) })
	require.NoError(t, migrateErr, "migrate test database")
	return db
}

// WithTx runs fn inside a transaction that is always rolled back.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err, "begin transaction")
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("roll back test transaction: %v", err)
		}
	}()
	fn(t, tx)
}

// ResetTables empties the queue and document tables.
func ResetTables(t *testing.T, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := db.ExecContext(ctx,
		`TRUNCATE generation_jobs, generation_batches, document_modules, course_documents`)
	require.NoError(t, err, "truncate tables")
}
