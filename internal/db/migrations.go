package db

import (
	"context"
	"fmt"
)

// migrations are applied in order; PRAGMA user_version holds the count applied.
var migrations = []string{
	// Trim " +0000 UTC" suffixes written by time.Time values bound directly.
	`UPDATE poll_runs
	 SET started_at = SUBSTR(started_at, 1, 19)
	 WHERE length(started_at) > 19 AND started_at LIKE '% UTC'`,

	`UPDATE sessions
	 SET updated_at = SUBSTR(updated_at, 1, 19)
	 WHERE length(updated_at) > 19 AND updated_at LIKE '% UTC'`,
}

// SchemaVersion returns the number of applied migrations.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	if err := db.QueryRowContext(context.Background(), "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (db *DB) migrate() error {
	version, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		if _, err := db.ExecContext(context.Background(), migrations[i]); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
		// PRAGMA does not accept bound parameters
		if _, err := db.ExecContext(context.Background(), fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}
