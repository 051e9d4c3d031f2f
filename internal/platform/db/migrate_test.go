package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations_OrderAndFiltering(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"010_indexes.sql":   "CREATE INDEX a ON b (c);",
		"002_inventory.sql": "CREATE TABLE inventory_items ();",
		"001_core.sql":      "CREATE TABLE lab_orders ();",
		"readme.sql":        "-- no version",
		"abc_bad.sql":       "-- non-numeric",
		"000_zero.sql":      "-- version must be positive",
		"003_notes.txt":     "not sql",
	})
	if err := os.Mkdir(filepath.Join(dir, "004_dir.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	migs, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []int
	for _, m := range migs {
		got = append(got, m.Version)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 10 {
		t.Fatalf("expected versions [1 2 10], got %v", got)
	}
	if migs[0].Name != "001_core.sql" || migs[0].SQL != "CREATE TABLE lab_orders ();" {
		t.Errorf("unexpected first migration %+v", migs[0])
	}
	if len(migs[0].Checksum) != 64 {
		t.Errorf("expected hex sha256 checksum, got %q", migs[0].Checksum)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"002_a.sql": "SELECT 1;",
		"002_b.sql": "SELECT 2;",
	})
	_, err := NewMigrator(nil, dir).LoadMigrations()
	if err == nil || !strings.Contains(err.Error(), "share version 2") {
		t.Errorf("expected duplicate version error, got %v", err)
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	if _, err := NewMigrator(nil, "/nonexistent/lims/migrations").LoadMigrations(); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestChecksum_ChangesWithContent(t *testing.T) {
	if checksum("SELECT 1;") == checksum("SELECT 1; ") {
		t.Error("checksum must change when content changes")
	}
	if checksum("SELECT 1;") != checksum("SELECT 1;") {
		t.Error("checksum must be deterministic")
	}
}

func TestPendingDriftAndStatus(t *testing.T) {
	migs := []Migration{
		{Version: 1, Name: "001_core.sql", Checksum: checksum("core")},
		{Version: 2, Name: "002_inventory.sql", Checksum: checksum("inventory v2")},
		{Version: 3, Name: "003_indexes.sql", Checksum: checksum("indexes")},
	}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	applied := map[int]appliedMigration{
		1: {checksum: checksum("core"), at: at},
		2: {checksum: checksum("inventory v1"), at: at},
	}

	todo := pending(migs, applied)
	if len(todo) != 1 || todo[0].Version != 3 {
		t.Fatalf("expected only version 3 pending, got %+v", todo)
	}
	if drifted := driftedNames(migs, applied); len(drifted) != 1 || drifted[0] != "002_inventory.sql" {
		t.Errorf("expected 002 to be reported as drifted, got %v", drifted)
	}

	statuses := buildStatus(migs, applied)
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].Drifted || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("unexpected status for 001: %+v", statuses[0])
	}
	if !statuses[1].Applied || !statuses[1].Drifted {
		t.Errorf("expected 002 applied and drifted, got %+v", statuses[1])
	}
	if statuses[2].Applied || statuses[2].AppliedAt != nil {
		t.Errorf("expected 003 pending, got %+v", statuses[2])
	}
}

func TestRepositoryMigrationsLoad(t *testing.T) {
	migs, err := NewMigrator(nil, filepath.Join("..", "..", "..", "migrations")).LoadMigrations()
	if err != nil {
		t.Fatalf("load repository migrations: %v", err)
	}
	if len(migs) == 0 || migs[0].Version != 1 {
		t.Fatalf("expected 001_core.sql first, got %+v", migs)
	}
	for _, table := range []string{"counters", "lab_orders", "order_samples", "audit_log", "inventory_items"} {
		if !strings.Contains(migs[0].SQL, table) {
			t.Errorf("core migration does not mention table %s", table)
		}
	}
}
