// Package sqlite keeps the attempt history in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/puzzlegate/internal/storage"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id              TEXT PRIMARY KEY,
	destination_id  TEXT NOT NULL,
	puzzle_id       TEXT NOT NULL,
	rating          INTEGER NOT NULL,
	solved          INTEGER NOT NULL,
	wrong_moves     INTEGER NOT NULL DEFAULT 0,
	hints           INTEGER NOT NULL DEFAULT 0,
	skips           INTEGER NOT NULL DEFAULT 0,
	granted_seconds INTEGER NOT NULL DEFAULT 0,
	started_at      INTEGER NOT NULL,
	ended_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_destination ON attempts(destination_id, ended_at);
CREATE INDEX IF NOT EXISTS idx_attempts_ended ON attempts(ended_at);
`

const defaultQueryLimit = 100

// History implements storage.AttemptLog on SQLite.
type History struct {
	db *sql.DB
}

var _ storage.AttemptLog = (*History)(nil)

// Open creates or opens the history database at path and applies the schema.
func Open(path string) (*History, error) {
	if !strings.HasPrefix(path, "file:") {
		if err := storage.EnsureParentDir(path); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=synchronous(normal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return &History{db: db}, nil
}

// Close closes the underlying database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// AddAttempt records a finished attempt. Re-adding an ID replaces the row.
func (h *History) AddAttempt(ctx context.Context, a storage.AttemptRecord) error {
	if a.ID == "" {
		return errors.New("attempt record requires an id")
	}

	_, err := h.db.ExecContext(ctx, `
INSERT OR REPLACE INTO attempts
	(id, destination_id, puzzle_id, rating, solved, wrong_moves, hints, skips, granted_seconds, started_at, ended_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DestinationID, a.PuzzleID, a.Rating, boolToInt(a.Solved),
		a.WrongMoves, a.Hints, a.Skips, a.GrantedSeconds,
		a.StartedAt.UTC().UnixNano(), a.EndedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// QueryAttempts returns attempts matching filter, newest first.
func (h *History) QueryAttempts(ctx context.Context, filter storage.AttemptFilter) ([]storage.AttemptRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.DestinationID != "" {
		where = append(where, "destination_id = ?")
		args = append(args, filter.DestinationID)
	}
	if filter.SolvedOnly {
		where = append(where, "solved = 1")
	}
	if filter.StartTime != nil {
		where = append(where, "ended_at >= ?")
		args = append(args, filter.StartTime.UTC().UnixNano())
	}
	if filter.EndTime != nil {
		where = append(where, "ended_at < ?")
		args = append(args, filter.EndTime.UTC().UnixNano())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query := `SELECT id, destination_id, puzzle_id, rating, solved, wrong_moves, hints, skips, granted_seconds, started_at, ended_at FROM attempts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ended_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.AttemptRecord
	for rows.Next() {
		var (
			a              storage.AttemptRecord
			solved         int
			started, ended int64
		)
		if err := rows.Scan(&a.ID, &a.DestinationID, &a.PuzzleID, &a.Rating, &solved,
			&a.WrongMoves, &a.Hints, &a.Skips, &a.GrantedSeconds, &started, &ended); err != nil {
			return nil, err
		}
		a.Solved = solved != 0
		a.StartedAt = time.Unix(0, started).UTC()
		a.EndedAt = time.Unix(0, ended).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAttemptsBefore removes attempts that ended before cutoff.
func (h *History) DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM attempts WHERE ended_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
