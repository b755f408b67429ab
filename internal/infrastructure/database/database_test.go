package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen(t *testing.T) {
	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

		db, err := Open(context.Background(), Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
		}
	})

	t.Run("in memory", func(t *testing.T) {
		db, err := Open(context.Background(), Config{Path: MemoryPath, WALMode: true})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := db.ExecContext(context.Background(), "CREATE TABLE t (id INTEGER)"); err != nil {
			t.Fatalf("ExecContext() error = %v", err)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := Open(context.Background(), Config{}); err == nil {
			t.Error("Open() expected error for empty path")
		}
	})
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestClose(t *testing.T) {
	db := openTestDB(t)

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}

func TestWithTx(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE tx_test (id INTEGER PRIMARY KEY, value TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO tx_test (value) VALUES (?)", "committed")
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() commit error = %v", err)
	}

	errBoom := errors.New("boom")
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO tx_test (value) VALUES (?)", "rolled_back"); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("WithTx() error = %v, want errBoom", err)
	}

	tests := []struct {
		value string
		want  int
	}{
		{"committed", 1},
		{"rolled_back", 0},
	}
	for _, tt := range tests {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tx_test WHERE value = ?", tt.value).Scan(&count); err != nil {
			t.Fatalf("SELECT error = %v", err)
		}
		if count != tt.want {
			t.Errorf("%s rows = %d, want %d", tt.value, count, tt.want)
		}
	}
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if got := db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %v, want 1 (SQLite single writer)", got)
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}
