package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncRun is one provider's outcome within a sync cycle
type SyncRun struct {
	ID         int64
	Source     string
	Reason     string // "timer", "cron", "manual", "reconcile", "import"
	OK         bool
	EventCount int
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// SyncLog records sync outcomes
type SyncLog struct {
	db *DB
}

// NewSyncLog creates a new sync log
func NewSyncLog(db *DB) *SyncLog {
	return &SyncLog{db: db}
}

// Record appends a run
func (l *SyncLog) Record(ctx context.Context, run SyncRun) error {
	_, err := l.db.conn.ExecContext(ctx, `
		INSERT INTO sync_log (
			source, reason, ok, event_count, message, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.Source,
		run.Reason,
		run.OK,
		run.EventCount,
		run.Message,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first
func (l *SyncLog) Recent(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.conn.QueryContext(ctx, `
		SELECT id, source, reason, ok, event_count, message, started_at, finished_at
		FROM sync_log
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync log: %w", err)
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var run SyncRun
		var message sql.NullString
		if err := rows.Scan(
			&run.ID,
			&run.Source,
			&run.Reason,
			&run.OK,
			&run.EventCount,
			&message,
			&run.StartedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		run.Message = message.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastSuccess returns when the source last synced cleanly
func (l *SyncLog) LastSuccess(ctx context.Context, source string) (*time.Time, error) {
	var finished time.Time
	err := l.db.conn.QueryRowContext(ctx, `
		SELECT finished_at FROM sync_log
		WHERE source = ? AND ok = 1
		ORDER BY finished_at DESC, id DESC
		LIMIT 1
	`, source).Scan(&finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last success: %w", err)
	}
	return &finished, nil
}

// Prune drops runs that finished before the cutoff
func (l *SyncLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.conn.ExecContext(ctx, `DELETE FROM sync_log WHERE finished_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune sync log: %w", err)
	}
	return res.RowsAffected()
}
