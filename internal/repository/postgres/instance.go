package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/pkg/database"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// InstanceRepository implements the monitoring instance registry using PostgreSQL.
type InstanceRepository struct {
	pool database.DBTX
}

// NewInstanceRepository creates a new PostgreSQL-backed instance repository.
func NewInstanceRepository(pool database.DBTX) *InstanceRepository {
	return &InstanceRepository{pool: pool}
}

const instanceColumns = `instance_id, name, location, sync_url, public_endpoint, version,
	failover_order, last_heartbeat, status, capabilities, system_info, created_at, updated_at`

// Upsert creates or fully replaces an instance row keyed by instance ID.
func (r *InstanceRepository) Upsert(ctx context.Context, inst *domain.Instance) error {
	capsJSON, err := json.Marshal(inst.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	sysJSON, err := json.Marshal(inst.SystemInfo)
	if err != nil {
		return fmt.Errorf("marshal system info: %w", err)
	}

	now := time.Now().UTC()
	inst.UpdatedAt = now
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}

	query := `
		INSERT INTO monitoring_instances (instance_id, name, location, sync_url, public_endpoint,
			version, failover_order, last_heartbeat, status, capabilities, system_info, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (instance_id) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			sync_url = EXCLUDED.sync_url,
			public_endpoint = EXCLUDED.public_endpoint,
			version = EXCLUDED.version,
			failover_order = EXCLUDED.failover_order,
			last_heartbeat = EXCLUDED.last_heartbeat,
			status = EXCLUDED.status,
			capabilities = EXCLUDED.capabilities,
			system_info = EXCLUDED.system_info,
			updated_at = EXCLUDED.updated_at`

	_, err = r.pool.Exec(ctx, query,
		inst.InstanceID, inst.Name, inst.Location, inst.SyncURL, inst.PublicEndpoint,
		inst.Version, inst.FailoverOrder, inst.LastHeartbeat, inst.Status,
		capsJSON, sysJSON, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert instance: %w", err)
	}
	return nil
}

// GetByID retrieves an instance by its UUID.
func (r *InstanceRepository) GetByID(ctx context.Context, instanceID string) (*domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM monitoring_instances WHERE instance_id = $1`

	inst, err := scanInstance(r.pool.QueryRow(ctx, query, instanceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("instance", instanceID)
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

// List returns all registered instances ordered by failover order.
func (r *InstanceRepository) List(ctx context.Context) ([]domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM monitoring_instances ORDER BY failover_order, instance_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return instances, nil
}

// Delete removes an instance from the registry.
func (r *InstanceRepository) Delete(ctx context.Context, instanceID string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM monitoring_instances WHERE instance_id = $1`, instanceID)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("instance", instanceID)
	}
	return nil
}

// UpdateStatus sets the instance lifecycle status.
func (r *InstanceRepository) UpdateStatus(ctx context.Context, instanceID string, status domain.InstanceStatus) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE monitoring_instances SET status = $1, updated_at = $2 WHERE instance_id = $3`,
		status, time.Now().UTC(), instanceID,
	)
	if err != nil {
		return fmt.Errorf("update instance status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("instance", instanceID)
	}
	return nil
}

// UpdateHeartbeat refreshes last_heartbeat and the reported system info.
func (r *InstanceRepository) UpdateHeartbeat(ctx context.Context, instanceID string, at time.Time, systemInfo map[string]any) error {
	sysJSON, err := json.Marshal(systemInfo)
	if err != nil {
		return fmt.Errorf("marshal system info: %w", err)
	}

	ct, err := r.pool.Exec(ctx,
		`UPDATE monitoring_instances SET last_heartbeat = $1, system_info = $2, updated_at = $1 WHERE instance_id = $3`,
		at, sysJSON, instanceID,
	)
	if err != nil {
		return fmt.Errorf("update instance heartbeat: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("instance", instanceID)
	}
	return nil
}

// MarkStale transitions active instances whose last heartbeat is older than
// the cutoff (or missing) to inactive.
func (r *InstanceRepository) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx,
		`UPDATE monitoring_instances
		 SET status = $1, updated_at = $2
		 WHERE status = $3 AND (last_heartbeat IS NULL OR last_heartbeat < $4)`,
		domain.InstanceInactive, time.Now().UTC(), domain.InstanceActive, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale instances: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ClaimPromotion atomically sets the instance to promoting, guarded by the
// absence of any other promoting row. The conditional update makes the claim
// race-free without an explicit lock.
func (r *InstanceRepository) ClaimPromotion(ctx context.Context, instanceID string) (bool, error) {
	ct, err := r.pool.Exec(ctx,
		`UPDATE monitoring_instances
		 SET status = $1, updated_at = $2
		 WHERE instance_id = $3
		   AND NOT EXISTS (
		       SELECT 1 FROM monitoring_instances
		       WHERE status = $1 AND instance_id <> $3
		   )`,
		domain.InstancePromoting, time.Now().UTC(), instanceID,
	)
	if err != nil {
		return false, fmt.Errorf("claim promotion: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// SetFailoverOrder updates the failover order of one instance.
func (r *InstanceRepository) SetFailoverOrder(ctx context.Context, instanceID string, order int) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE monitoring_instances SET failover_order = $1, updated_at = $2 WHERE instance_id = $3`,
		order, time.Now().UTC(), instanceID,
	)
	if err != nil {
		return fmt.Errorf("set failover order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("instance", instanceID)
	}
	return nil
}

func scanInstance(row pgx.Row) (*domain.Instance, error) {
	var (
		inst              domain.Instance
		capsJSON, sysJSON []byte
	)

	err := row.Scan(
		&inst.InstanceID, &inst.Name, &inst.Location, &inst.SyncURL, &inst.PublicEndpoint,
		&inst.Version, &inst.FailoverOrder, &inst.LastHeartbeat, &inst.Status,
		&capsJSON, &sysJSON, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(capsJSON) > 0 {
		if err := json.Unmarshal(capsJSON, &inst.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
	}
	if len(sysJSON) > 0 {
		if err := json.Unmarshal(sysJSON, &inst.SystemInfo); err != nil {
			return nil, fmt.Errorf("unmarshal system info: %w", err)
		}
	}
	return &inst, nil
}
