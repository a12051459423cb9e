package repository

import (
	"context"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
)

// EndpointRepository defines persistence operations for monitored endpoints.
type EndpointRepository interface {
	// Create inserts a new endpoint and assigns its ID.
	Create(ctx context.Context, e *domain.Endpoint) error

	// GetByID retrieves an endpoint by its unique identifier.
	GetByID(ctx context.Context, id int64) (*domain.Endpoint, error)

	// List returns all endpoints.
	List(ctx context.Context) ([]domain.Endpoint, error)

	// ListActive returns all non-paused endpoints.
	ListActive(ctx context.Context) ([]domain.Endpoint, error)

	// Update replaces the endpoint's mutable configuration.
	Update(ctx context.Context, e *domain.Endpoint) error

	// UpdateRuntimeState persists the probe-derived fields only (status,
	// consecutive failure count, last checked time).
	UpdateRuntimeState(ctx context.Context, id int64, status domain.Status, retriesFailed int, lastChecked time.Time) error

	// Delete removes the endpoint.
	Delete(ctx context.Context, id int64) error
}

// OutcomeRepository defines persistence for the append-only probe outcome log.
type OutcomeRepository interface {
	// Append adds one outcome to the log.
	Append(ctx context.Context, o *domain.Outcome) error

	// AppendBatch adds all outcomes of one heartbeat atomically.
	AppendBatch(ctx context.Context, outcomes []domain.Outcome) error

	// ListRange returns outcomes for an endpoint within [from, to], ordered
	// by timestamp ascending.
	ListRange(ctx context.Context, endpointID int64, from, to time.Time) ([]domain.Outcome, error)

	// DeleteOlderThan removes outcomes past the retention horizon and
	// returns the number of rows deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// InstanceRepository defines persistence for the monitoring instance registry.
type InstanceRepository interface {
	// Upsert creates or fully replaces an instance row keyed by instance ID.
	Upsert(ctx context.Context, inst *domain.Instance) error

	// GetByID retrieves an instance by its UUID.
	GetByID(ctx context.Context, instanceID string) (*domain.Instance, error)

	// List returns all registered instances ordered by failover order.
	List(ctx context.Context) ([]domain.Instance, error)

	// Delete removes an instance from the registry.
	Delete(ctx context.Context, instanceID string) error

	// UpdateStatus sets the instance lifecycle status.
	UpdateStatus(ctx context.Context, instanceID string, status domain.InstanceStatus) error

	// UpdateHeartbeat refreshes last_heartbeat and the reported system info.
	UpdateHeartbeat(ctx context.Context, instanceID string, at time.Time, systemInfo map[string]any) error

	// MarkStale transitions active instances whose last heartbeat is older
	// than the cutoff to inactive, returning how many rows changed.
	MarkStale(ctx context.Context, cutoff time.Time) (int64, error)

	// ClaimPromotion atomically sets the instance to promoting, but only if
	// no other instance is currently promoting. Returns false when another
	// instance holds the promotion claim.
	ClaimPromotion(ctx context.Context, instanceID string) (bool, error)

	// SetFailoverOrder updates the failover order of one instance.
	SetFailoverOrder(ctx context.Context, instanceID string, order int) error
}

// TokenRepository defines persistence for instance bearer-token hashes.
type TokenRepository interface {
	// Replace revokes any prior token for the instance and stores the new one.
	Replace(ctx context.Context, token *domain.InstanceToken) error

	// GetByHash retrieves a token record by its sha256 hash.
	GetByHash(ctx context.Context, hash string) (*domain.InstanceToken, error)

	// DeleteForInstance revokes all tokens issued to the instance.
	DeleteForInstance(ctx context.Context, instanceID string) error
}

// ConfigRepository is the durable key/value store for instance configuration.
type ConfigRepository interface {
	// Get returns the value for a key, or apperrors.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes a key with last-writer-wins semantics.
	Set(ctx context.Context, key, value string) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// AggregateRepository defines persistence for per-endpoint aggregated results.
type AggregateRepository interface {
	// Get returns the aggregated row for an endpoint, or apperrors.ErrNotFound.
	Get(ctx context.Context, endpointID int64) (*domain.AggregatedResult, error)

	// Save creates or replaces the aggregated row.
	Save(ctx context.Context, agg *domain.AggregatedResult) error

	// Delete removes the aggregated row for an endpoint.
	Delete(ctx context.Context, endpointID int64) error
}

// SyncStatusRepository tracks when each synced endpoint configuration was
// last refreshed from the primary (dependent side).
type SyncStatusRepository interface {
	// Upsert records a successful sync of one endpoint's configuration.
	Upsert(ctx context.Context, endpointID int64, syncedAt time.Time) error

	// DeleteMissing removes rows for endpoints no longer present upstream.
	DeleteMissing(ctx context.Context, keep []int64) error
}

// LogRepository defines persistence for the bounded application log.
type LogRepository interface {
	// Append stores one log record.
	Append(ctx context.Context, entry *domain.LogEntry) error

	// ListRecent returns the most recent entries, newest first.
	ListRecent(ctx context.Context, limit int) ([]domain.LogEntry, error)

	// Clear deletes all entries.
	Clear(ctx context.Context) error

	// Trim keeps only the newest keep entries.
	Trim(ctx context.Context, keep int) error
}
