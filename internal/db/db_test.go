package db

import (
	"path/filepath"
	"testing"
)

func TestNewDBRunsMigrations(t *testing.T) {
	database, err := NewDB(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer database.Close()

	n, err := database.TableCount("decode_runs")
	if err != nil {
		t.Fatalf("TableCount: %v", err)
	}
	if n != 0 {
		t.Errorf("fresh decode_runs count = %d, want 0", n)
	}
}

func TestNewDBIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.db")

	first, err := NewDB(path)
	if err != nil {
		t.Fatalf("first NewDB: %v", err)
	}
	first.Close()

	// Reopening an already-migrated database must not fail.
	second, err := NewDB(path)
	if err != nil {
		t.Fatalf("second NewDB: %v", err)
	}
	defer second.Close()

	if _, err := second.TableCount("decode_runs"); err != nil {
		t.Fatalf("TableCount after reopen: %v", err)
	}
}
