package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/friendsincode/hearth/internal/config"
	"github.com/friendsincode/hearth/internal/models"
	"github.com/friendsincode/hearth/internal/telemetry"
)

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hearth.db", "file:hearth.db?" + sqliteParams},
		{"file:/var/lib/hearth.db", "file:/var/lib/hearth.db?" + sqliteParams},
		{"file:x.db?_busy_timeout=1", "file:x.db?_busy_timeout=1"},
	}
	for _, tt := range tests {
		if got := SQLiteDSN(tt.in); got != tt.want {
			t.Errorf("SQLiteDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConnectRecordsStatementLatency(t *testing.T) {
	cfg := &config.Config{
		DBBackend: config.DatabaseSQLite,
		DBDSN:     filepath.Join(t.TempDir(), "hearth.db"),
	}
	database, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	item := models.QueueItem{URL: "/media/a.mp4", SourceKind: models.SourceLocal, Status: models.QueueStatusPending}
	if err := database.Create(&item).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	var got models.QueueItem
	if err := database.First(&got, item.ID).Error; err != nil {
		t.Fatalf("query: %v", err)
	}

	if n := testutil.CollectAndCount(telemetry.StorageQueryDuration); n < 2 {
		t.Fatalf("expected create and query latency series, got %d", n)
	}
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	_, err := Connect(&config.Config{DBBackend: "oracle", DBDSN: "x"})
	if err == nil || !strings.Contains(err.Error(), "unknown database backend") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}
