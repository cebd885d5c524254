// Package db manages the database connection
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Import modernc.org/sqlite as a blank import to register the driver
	_ "modernc.org/sqlite"
)

// DB wraps the SQL database connection with application-specific methods.
type DB struct {
	*sql.DB
	path string
}

// New creates a new database connection and initializes the schema.
func New(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database connection
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := sqlDB.PingContext(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:   sqlDB,
		path: path,
	}

	// Configure database
	if err := db.configure(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	// Create schema
	if err := db.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if err := db.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// configure sets up database pragmas for optimal performance.
func (db *DB) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

func (db *DB) createSchema() error {
	if err := db.createSessionsTable(); err != nil {
		return err
	}
	if err := db.createPollRunsTable(); err != nil {
		return err
	}
	return db.createIndicationPushesTable()
}

func (db *DB) createSessionsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		username TEXT PRIMARY KEY,
		bearer_token TEXT,
		hidden_auth_token TEXT,
		site_key TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.ExecContext(context.Background(), query)
	return err
}

func (db *DB) createPollRunsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS poll_runs (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER DEFAULT 0,
		outcome TEXT NOT NULL,
		contracts INTEGER DEFAULT 0,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_poll_runs_user_time ON poll_runs(username, started_at);
	`
	_, err := db.ExecContext(context.Background(), query)
	return err
}

func (db *DB) createIndicationPushesTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS indication_pushes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		contract TEXT NOT NULL,
		meter TEXT NOT NULL,
		value INTEGER NOT NULL,
		pushed_for DATE NOT NULL,
		success INTEGER DEFAULT 0,
		error_code INTEGER,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_pushes_meter ON indication_pushes(contract, meter, created_at);
	`
	_, err := db.ExecContext(context.Background(), query)
	return err
}

// Close closes the database connection gracefully.
func (db *DB) Close() error {
	// Checkpoint WAL before closing
	_, _ = db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	return db.DB.Close()
}

// Vacuum performs database maintenance to reclaim space.
func (db *DB) Vacuum() error {
	_, err := db.ExecContext(context.Background(), "VACUUM")
	return err
}
