package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20261001_090000_create_widgets.up.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);"),
		},
		"20261001_090000_create_widgets.down.sql": &fstest.MapFile{
			Data: []byte("DROP TABLE widgets;"),
		},
		"20261002_090000_add_gadgets.up.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE gadgets (id INTEGER PRIMARY KEY);"),
		},
		"20261002_090000_add_gadgets.down.sql": &fstest.MapFile{
			Data: []byte("DROP TABLE gadgets;"),
		},
		"README.md": &fstest.MapFile{Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{"widgets", "gadgets"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx, testMigrations())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("expected 2 applied migrations, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	// Idempotent.
	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if err := db.MigrateDown(ctx, testMigrations()); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "gadgets") {
		t.Error("table gadgets should have been dropped")
	}
	if !tableExists(t, db, "widgets") {
		t.Error("table widgets should remain")
	}

	applied, pending, err := db.MigrationStatus(ctx, testMigrations())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 1 and 1", len(applied), len(pending))
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), fstest.MapFS{}); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
	if err := db.MigrateDown(context.Background(), fstest.MapFS{}); err != nil {
		t.Fatalf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestLoadMigrations_MissingUp(t *testing.T) {
	fsys := fstest.MapFS{
		"20261001_090000_orphan.down.sql": &fstest.MapFile{Data: []byte("SELECT 1;")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("LoadMigrations() expected error for down-only migration")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20261016_120000_initial_schema.up.sql", "20261016_120000", "initial_schema", true, true},
		{"20261016_120000_initial_schema.down.sql", "20261016_120000", "initial_schema", false, true},
		{"20261016_120000_add_stale_to_devices.up.sql", "20261016_120000", "add_stale_to_devices", true, true},
		{"readme.txt", "", "", false, false},
		{"20261016_120000_initial_schema.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
		{"2026_12_x.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || isUp != tt.wantIsUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, isUp, tt.wantVersion, tt.wantName, tt.wantIsUp)
			}
		})
	}
}
