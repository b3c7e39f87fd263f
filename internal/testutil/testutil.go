// Package testutil provides shared helpers for package tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/displex/displex/internal/database"
)

// TestDB is a migrated SQLite database living in a test temp dir.
type TestDB struct {
	DB     *database.DB
	Conn   *sql.DB
	Logger zerolog.Logger
}

// NewTestDB opens and migrates a fresh database. It is closed automatically
// when the test finishes; Close may also be called directly.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	tdb := &TestDB{
		DB:     db,
		Conn:   db.Conn(),
		Logger: zerolog.Nop(),
	}
	t.Cleanup(func() { tdb.Close() })
	return tdb
}

// Close closes the database. Safe to call more than once.
func (tdb *TestDB) Close() {
	tdb.DB.Close()
}

// CountRows returns the number of rows in table.
func (tdb *TestDB) CountRows(t *testing.T, table string) int {
	t.Helper()

	var n int
	if err := tdb.Conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
