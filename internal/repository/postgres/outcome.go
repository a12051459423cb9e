package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/pkg/database"
)

// OutcomeRepository implements the append-only probe outcome log using PostgreSQL.
type OutcomeRepository struct {
	pool database.DBTX
}

// NewOutcomeRepository creates a new PostgreSQL-backed outcome repository.
func NewOutcomeRepository(pool database.DBTX) *OutcomeRepository {
	return &OutcomeRepository{pool: pool}
}

const insertOutcomeQuery = `
	INSERT INTO monitoring_results (endpoint_id, instance_id, timestamp, is_ok,
		response_time, status, failure_reason, location, check_type, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Append adds one outcome to the log.
func (r *OutcomeRepository) Append(ctx context.Context, o *domain.Outcome) (err error) {
	ctx, end := database.TraceQuery(ctx, "AppendOutcome", insertOutcomeQuery)
	defer func() { end(err) }()

	metadataJSON, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("marshal outcome metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, insertOutcomeQuery,
		o.EndpointID, o.InstanceID, o.Timestamp, boolToInt(o.IsOK),
		o.ResponseTime, o.Status, o.FailureReason, o.Location, o.CheckType, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// AppendBatch adds all outcomes of one heartbeat inside a single transaction,
// so a heartbeat either lands completely or not at all.
func (r *OutcomeRepository) AppendBatch(ctx context.Context, outcomes []domain.Outcome) (err error) {
	if len(outcomes) == 0 {
		return nil
	}

	ctx, end := database.TraceQuery(ctx, "AppendOutcomeBatch", insertOutcomeQuery)
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin outcome batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := range outcomes {
		o := &outcomes[i]
		metadataJSON, err := json.Marshal(o.Metadata)
		if err != nil {
			return fmt.Errorf("marshal outcome metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, insertOutcomeQuery,
			o.EndpointID, o.InstanceID, o.Timestamp, boolToInt(o.IsOK),
			o.ResponseTime, o.Status, o.FailureReason, o.Location, o.CheckType, metadataJSON,
		); err != nil {
			return fmt.Errorf("insert outcome batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit outcome batch: %w", err)
	}
	return nil
}

// ListRange returns outcomes for an endpoint within [from, to], ordered by
// timestamp ascending.
func (r *OutcomeRepository) ListRange(ctx context.Context, endpointID int64, from, to time.Time) ([]domain.Outcome, error) {
	query := `
		SELECT endpoint_id, instance_id, timestamp, is_ok, response_time,
		       status, failure_reason, location, check_type, metadata
		FROM monitoring_results
		WHERE endpoint_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC`

	rows, err := r.pool.Query(ctx, query, endpointID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var (
			o            domain.Outcome
			isOK         int16
			metadataJSON []byte
		)
		if err := rows.Scan(
			&o.EndpointID, &o.InstanceID, &o.Timestamp, &isOK, &o.ResponseTime,
			&o.Status, &o.FailureReason, &o.Location, &o.CheckType, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.IsOK = isOK != 0
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &o.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal outcome metadata: %w", err)
			}
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// DeleteOlderThan removes outcomes past the retention horizon.
func (r *OutcomeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM monitoring_results WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old outcomes: %w", err)
	}
	return ct.RowsAffected(), nil
}
