package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/repository"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// cacheTTL bounds how long a cached aggregate may outlive its last write.
const cacheTTL = 10 * time.Minute

// Aggregator folds incoming per-instance outcomes into the per-endpoint
// consensus view. Runs on the primary only.
type Aggregator struct {
	// Serializes read-modify-write cycles per process. Heartbeats for
	// different endpoints still contend, but aggregation is cheap.
	mu sync.Mutex

	repo   repository.AggregateRepository
	cache  *redis.Client
	logger *slog.Logger
}

// New creates an aggregator. cache may be nil when Redis is not configured.
func New(repo repository.AggregateRepository, cache *redis.Client, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// Ingest applies one outcome to the endpoint's aggregated row, creating the
// row when absent.
func (a *Aggregator) Ingest(ctx context.Context, o domain.Outcome) error {
	o.Normalize()

	a.mu.Lock()
	defer a.mu.Unlock()

	agg, err := a.repo.Get(ctx, o.EndpointID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		agg = &domain.AggregatedResult{EndpointID: o.EndpointID}
	case err != nil:
		return fmt.Errorf("load aggregate for endpoint %d: %w", o.EndpointID, err)
	}

	agg.Apply(o)

	if err := a.repo.Save(ctx, agg); err != nil {
		return fmt.Errorf("save aggregate for endpoint %d: %w", o.EndpointID, err)
	}

	a.writeCache(ctx, agg)
	return nil
}

// IngestBatch applies all outcomes of one heartbeat. Endpoint rows are
// updated in arrival order.
func (a *Aggregator) IngestBatch(ctx context.Context, outcomes []domain.Outcome) error {
	for _, o := range outcomes {
		if err := a.Ingest(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the aggregated row for an endpoint, preferring the cache.
func (a *Aggregator) Get(ctx context.Context, endpointID int64) (*domain.AggregatedResult, error) {
	if agg := a.readCache(ctx, endpointID); agg != nil {
		return agg, nil
	}
	return a.repo.Get(ctx, endpointID)
}

// Drop removes the aggregated state for a deleted endpoint.
func (a *Aggregator) Drop(ctx context.Context, endpointID int64) error {
	if a.cache != nil {
		if err := a.cache.Del(ctx, cacheKey(endpointID)).Err(); err != nil {
			a.logger.Warn("drop aggregate cache", slog.Int64("endpoint_id", endpointID), slog.Any("error", err))
		}
	}
	return a.repo.Delete(ctx, endpointID)
}

func (a *Aggregator) writeCache(ctx context.Context, agg *domain.AggregatedResult) {
	if a.cache == nil {
		return
	}

	data, err := json.Marshal(agg)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, cacheKey(agg.EndpointID), data, cacheTTL).Err(); err != nil {
		a.logger.Warn("write aggregate cache", slog.Int64("endpoint_id", agg.EndpointID), slog.Any("error", err))
	}
}

func (a *Aggregator) readCache(ctx context.Context, endpointID int64) *domain.AggregatedResult {
	if a.cache == nil {
		return nil
	}

	data, err := a.cache.Get(ctx, cacheKey(endpointID)).Bytes()
	if err != nil {
		return nil
	}

	var agg domain.AggregatedResult
	if err := json.Unmarshal(data, &agg); err != nil {
		return nil
	}
	return &agg
}

func cacheKey(endpointID int64) string {
	return fmt.Sprintf("monitor:aggregate:%d", endpointID)
}
