// Package testsupport holds helpers shared by package tests.
package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/hearth/internal/config"
	"github.com/friendsincode/hearth/internal/db"
	"github.com/friendsincode/hearth/internal/storage"
)

// NewConfig returns a config pointing at a SQLite file inside t.TempDir.
func NewConfig(t testing.TB) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Environment:    "test",
		DBBackend:      config.DatabaseSQLite,
		DBDSN:          filepath.Join(dir, "hearth.db"),
		MPVSocket:      filepath.Join(dir, "mpv.sock"),
		IPCTimeout:     time.Second,
		KillGrace:      100 * time.Millisecond,
		LoopInterval:   10 * time.Millisecond,
		StorageBackoff: time.Millisecond,
	}
}

// MustOpenStorage opens a migrated resilient store and closes it at cleanup.
func MustOpenStorage(t testing.TB, cfg *config.Config) *storage.Store {
	t.Helper()
	open := func() (*gorm.DB, error) { return db.Connect(cfg) }
	st, err := storage.New(open, storage.Options{
		Backoff: storage.BackoffFrom(cfg.StorageBackoff, 3),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := db.Migrate(st.DB()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}
