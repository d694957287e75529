package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenAndMigrate(t *testing.T) {
	for _, path := range []string{":memory:", filepath.Join(t.TempDir(), "sub", "test.db")} {
		db, err := Open(path)
		if err != nil {
			t.Fatalf("Open(%q): %v", path, err)
		}
		if err := Migrate(context.Background(), db, testLogger()); err != nil {
			t.Fatalf("Migrate(%q): %v", path, err)
		}
		// Running again must be a no-op.
		if err := Migrate(context.Background(), db, testLogger()); err != nil {
			t.Fatalf("second Migrate(%q): %v", path, err)
		}

		for _, table := range []string{"settings", "api_clients", "batch_jobs", "batch_job_chunks"} {
			var name string
			err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
			if err != nil {
				t.Errorf("table %s missing in %q: %v", table, path, err)
			}
		}
		db.Close() //nolint:errcheck
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close() //nolint:errcheck
	if err := Migrate(context.Background(), db, testLogger()); err != nil {
		t.Fatal(err)
	}

	insert := `INSERT INTO settings (key, value, updated_at) VALUES ('k', 'v', 'now')`
	if _, err := db.Exec(insert); err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(insert)
	if !IsUniqueViolation(err) {
		t.Errorf("expected unique violation, got %v", err)
	}
	if IsUniqueViolation(nil) {
		t.Error("nil is not a violation")
	}
}
