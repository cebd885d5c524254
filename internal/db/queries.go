package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/j-veylop/mosoblgaz-tui/internal/logger"
	"github.com/j-veylop/mosoblgaz-tui/internal/models"
)

// SaveSession stores the tokens of a login, replacing any previous ones.
func (db *DB) SaveSession(session *models.Session) error {
	query := `
		INSERT INTO sessions (username, bearer_token, hidden_auth_token, site_key, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			bearer_token = excluded.bearer_token,
			hidden_auth_token = excluded.hidden_auth_token,
			site_key = excluded.site_key,
			updated_at = excluded.updated_at
	`

	updatedAt := session.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := db.ExecContext(context.Background(), query,
		session.Username,
		nullString(session.BearerToken),
		nullString(session.HiddenAuthToken),
		nullString(session.SiteKey),
		updatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	session.UpdatedAt = updatedAt
	return nil
}

// GetSession returns the stored session of username, or nil when there is none.
func (db *DB) GetSession(username string) (*models.Session, error) {
	query := `
		SELECT username, bearer_token, hidden_auth_token, site_key, updated_at
		FROM sessions
		WHERE username = ?
	`

	var (
		session                 models.Session
		bearer, hidden, siteKey sql.NullString
		updatedAt               any
	)
	err := db.QueryRowContext(context.Background(), query, username).Scan(
		&session.Username,
		&bearer,
		&hidden,
		&siteKey,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.BearerToken = bearer.String
	session.HiddenAuthToken = hidden.String
	session.SiteKey = siteKey.String
	session.UpdatedAt = parseTime(updatedAt)
	return &session, nil
}

// DeleteSession removes the stored session of username.
func (db *DB) DeleteSession(username string) error {
	_, err := db.ExecContext(context.Background(), "DELETE FROM sessions WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// InsertPollRun records one poll run.
func (db *DB) InsertPollRun(run *models.PollRun) error {
	query := `
		INSERT INTO poll_runs (id, username, started_at, duration_ms, outcome, contracts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	_, err := db.ExecContext(context.Background(), query,
		run.ID,
		run.Username,
		startedAt.UTC().Format(timeLayout),
		run.DurationMs,
		string(run.Outcome),
		run.Contracts,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to insert poll run: %w", err)
	}
	return nil
}

// GetRecentPollRuns returns the newest poll runs of username.
func (db *DB) GetRecentPollRuns(username string, limit int) ([]models.PollRun, error) {
	query := `
		SELECT id, username, started_at, duration_ms, outcome, contracts, error
		FROM poll_runs
		WHERE username = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(context.Background(), query, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query poll runs: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("failed to close rows", "error", err)
		}
	}()

	var runs []models.PollRun
	for rows.Next() {
		var (
			run       models.PollRun
			startedAt any
			outcome   string
			errStr    sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Username, &startedAt, &run.DurationMs, &outcome, &run.Contracts, &errStr); err != nil {
			return nil, fmt.Errorf("failed to scan poll run: %w", err)
		}
		run.StartedAt = parseTime(startedAt)
		run.Outcome = models.PollOutcome(outcome)
		run.Error = errStr.String
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// PrunePollRuns deletes poll runs older than maxAge and returns how many were removed.
func (db *DB) PrunePollRuns(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(timeLayout)
	result, err := db.ExecContext(context.Background(), "DELETE FROM poll_runs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune poll runs: %w", err)
	}
	return result.RowsAffected()
}

// InsertIndicationPush records a submitted meter reading.
func (db *DB) InsertIndicationPush(push *models.IndicationPush) error {
	query := `
		INSERT INTO indication_pushes (
			username, contract, meter, value, pushed_for, success, error_code, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := push.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var errorCode sql.NullInt64
	if push.ErrorCode != 0 {
		errorCode = sql.NullInt64{Int64: int64(push.ErrorCode), Valid: true}
	}

	result, err := db.ExecContext(context.Background(), query,
		push.Username,
		push.Contract,
		push.Meter,
		push.Value,
		push.PushedFor.Format(dateLayout),
		push.Success,
		errorCode,
		nullString(push.Error),
		createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert indication push: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		push.ID = id
	}
	push.CreatedAt = createdAt

	return nil
}

// GetIndicationPushes returns the newest pushes for one meter of a contract.
func (db *DB) GetIndicationPushes(contract, meter string, limit int) ([]models.IndicationPush, error) {
	query := `
		SELECT id, username, contract, meter, value, pushed_for, success, error_code, error, created_at
		FROM indication_pushes
		WHERE contract = ? AND meter = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return db.queryPushes(query, contract, meter, limit)
}

// GetRecentIndicationPushes returns the newest pushes made by username.
func (db *DB) GetRecentIndicationPushes(username string, limit int) ([]models.IndicationPush, error) {
	query := `
		SELECT id, username, contract, meter, value, pushed_for, success, error_code, error, created_at
		FROM indication_pushes
		WHERE username = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	return db.queryPushes(query, username, limit)
}

func (db *DB) queryPushes(query string, args ...any) ([]models.IndicationPush, error) {
	rows, err := db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query indication pushes: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("failed to close rows", "error", err)
		}
	}()

	var pushes []models.IndicationPush
	for rows.Next() {
		var (
			push                 models.IndicationPush
			pushedFor, createdAt any
			errorCode            sql.NullInt64
			errStr               sql.NullString
		)
		err := rows.Scan(
			&push.ID,
			&push.Username,
			&push.Contract,
			&push.Meter,
			&push.Value,
			&pushedFor,
			&push.Success,
			&errorCode,
			&errStr,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indication push: %w", err)
		}
		push.PushedFor = parseTime(pushedFor)
		push.CreatedAt = parseTime(createdAt)
		push.ErrorCode = int(errorCode.Int64)
		push.Error = errStr.String
		pushes = append(pushes, push)
	}

	return pushes, rows.Err()
}

// parseTime accepts the driver's representation of a stored timestamp. The
// sqlite driver returns time.Time for DATE/DATETIME columns it can parse and
// the raw text otherwise.
func parseTime(v any) time.Time {
	var text string
	switch value := v.(type) {
	case time.Time:
		return value
	case string:
		text = value
	case []byte:
		text = string(value)
	default:
		return time.Time{}
	}
	for _, layout := range []string{timeLayout, dateLayout, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// nullString returns a sql.NullString from a string.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
