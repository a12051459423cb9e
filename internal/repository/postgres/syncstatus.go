package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/zateckar/monitor-sub001/pkg/database"
)

// SyncStatusRepository tracks per-endpoint sync freshness using PostgreSQL.
type SyncStatusRepository struct {
	pool database.DBTX
}

// NewSyncStatusRepository creates a new PostgreSQL-backed sync status repository.
func NewSyncStatusRepository(pool database.DBTX) *SyncStatusRepository {
	return &SyncStatusRepository{pool: pool}
}

// Upsert records a successful sync of one endpoint's configuration.
func (r *SyncStatusRepository) Upsert(ctx context.Context, endpointID int64, syncedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO endpoint_sync_status (endpoint_id, last_synced_at, status)
		 VALUES ($1, $2, 'synced')
		 ON CONFLICT (endpoint_id) DO UPDATE SET last_synced_at = EXCLUDED.last_synced_at, status = 'synced'`,
		endpointID, syncedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert sync status: %w", err)
	}
	return nil
}

// DeleteMissing removes rows for endpoints no longer present upstream.
func (r *SyncStatusRepository) DeleteMissing(ctx context.Context, keep []int64) error {
	if len(keep) == 0 {
		if _, err := r.pool.Exec(ctx, `DELETE FROM endpoint_sync_status`); err != nil {
			return fmt.Errorf("clear sync status: %w", err)
		}
		return nil
	}
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM endpoint_sync_status WHERE endpoint_id <> ALL($1)`, keep,
	); err != nil {
		return fmt.Errorf("prune sync status: %w", err)
	}
	return nil
}
