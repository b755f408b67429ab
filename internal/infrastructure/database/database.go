package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	msPerSecond = 1000

	// connectionTimeout bounds the initial ping.
	connectionTimeout = 5 * time.Second

	connMaxIdleTime = 30 * time.Minute

	// MemoryPath opens a private in-memory database. Used by tests.
	MemoryPath = ":memory:"
)

// DB wraps a sql.DB connection to the bridge's SQLite store.
type DB struct {
	*sql.DB
	path string
}

// Config contains database connection options.
type Config struct {
	// Path is the SQLite file. Its directory is created if missing.
	Path string

	// WALMode enables Write-Ahead Logging so readers never block the writer.
	WALMode bool

	// BusyTimeout is how long to wait for a lock, in seconds.
	BusyTimeout int
}

// Open connects to the database described by cfg and verifies it with a ping.
//
// SQLite has a single writer, so the pool is capped at one connection. That
// also keeps a MemoryPath database alive for the lifetime of the DB.
//
// Parameters:
//   - ctx: bounds the initial ping
//   - cfg: file path, WAL mode and busy timeout
//
// Returns:
//   - *DB: open database, not yet migrated
//   - error: if the file cannot be opened or the ping fails
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("opening database: path is required")
	}

	inMemory := cfg.Path == MemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// See: https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode && !inMemory {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if !inMemory {
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	}

	db := &DB{DB: sqlDB, path: cfg.Path}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if !inMemory {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may not exist until first write
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to confirm the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing if fn returns nil.
//
// Example:
//
//	err := db.WithTx(ctx, func(tx *sql.Tx) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE devices SET stale = 1")
//	    return err
//	})
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return WithTx(ctx, db.DB, fn)
}

// WithTx runs fn inside a transaction on conn. Repositories holding a plain
// *sql.DB use this form.
func WithTx(ctx context.Context, conn *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
