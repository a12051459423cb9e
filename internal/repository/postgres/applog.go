package postgres

import (
	"context"
	"fmt"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/pkg/database"
)

// LogRepository implements the bounded application log using PostgreSQL.
type LogRepository struct {
	pool database.DBTX
}

// NewLogRepository creates a new PostgreSQL-backed application log repository.
func NewLogRepository(pool database.DBTX) *LogRepository {
	return &LogRepository{pool: pool}
}

// Append stores one log record.
func (r *LogRepository) Append(ctx context.Context, entry *domain.LogEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO application_logs (level, message, component, timestamp)
		 VALUES ($1, $2, $3, $4)`,
		entry.Level, entry.Message, entry.Component, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// ListRecent returns the most recent entries, newest first.
func (r *LogRepository) ListRecent(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, level, message, component, timestamp
		 FROM application_logs ORDER BY id DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.Level, &e.Message, &e.Component, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log entries: %w", err)
	}
	return entries, nil
}

// Clear deletes all entries.
func (r *LogRepository) Clear(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM application_logs`); err != nil {
		return fmt.Errorf("clear log entries: %w", err)
	}
	return nil
}

// Trim keeps only the newest keep entries.
func (r *LogRepository) Trim(ctx context.Context, keep int) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM application_logs
		 WHERE id < (
		     SELECT COALESCE(MIN(id), 0) FROM (
		         SELECT id FROM application_logs ORDER BY id DESC LIMIT $1
		     ) newest
		 )`, keep,
	)
	if err != nil {
		return fmt.Errorf("trim log entries: %w", err)
	}
	return nil
}
