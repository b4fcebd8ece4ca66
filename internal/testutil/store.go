// Package testutil holds helpers shared by the package tests: SQLite
// stores in a temporary directory, a manual clock and predictable ids.
package testutil

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/store"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewStore opens a fresh SQLite store named name under t.TempDir and
// closes it when the test ends.
func NewStore(t *testing.T, name string) *store.Store {
	t.Helper()
	if name == "" {
		name = "test"
	}
	s, err := store.Open(filepath.Join(t.TempDir(), name+".db"), store.WithLogger(DiscardLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// NewPooledStore is NewStore with a pool of several connections, so that
// transactions can interleave the way they do against a server database.
func NewPooledStore(t *testing.T, name string) *store.Store {
	t.Helper()
	if name == "" {
		name = "test"
	}
	path := filepath.Join(t.TempDir(), name+".db")
	s, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	t.Cleanup(func() { db.Close() })
	return store.New(db, dal.SQLite, store.WithLogger(DiscardLogger()))
}
