package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/pkg/database"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// AggregateRepository implements aggregated-result persistence using PostgreSQL.
type AggregateRepository struct {
	pool database.DBTX
}

// NewAggregateRepository creates a new PostgreSQL-backed aggregate repository.
func NewAggregateRepository(pool database.DBTX) *AggregateRepository {
	return &AggregateRepository{pool: pool}
}

// Get returns the aggregated row for an endpoint, or apperrors.ErrNotFound.
func (r *AggregateRepository) Get(ctx context.Context, endpointID int64) (*domain.AggregatedResult, error) {
	var (
		agg           domain.AggregatedResult
		locationsJSON []byte
	)

	err := r.pool.QueryRow(ctx,
		`SELECT endpoint_id, total_locations, successful_locations, avg_response_time,
		        min_response_time, max_response_time, consensus, locations, updated_at
		 FROM aggregated_results WHERE endpoint_id = $1`, endpointID,
	).Scan(
		&agg.EndpointID, &agg.TotalLocations, &agg.SuccessfulLocations, &agg.AvgResponseTime,
		&agg.MinResponseTime, &agg.MaxResponseTime, &agg.Consensus, &locationsJSON, &agg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("aggregated result", strconv.FormatInt(endpointID, 10))
		}
		return nil, fmt.Errorf("get aggregated result: %w", err)
	}

	if len(locationsJSON) > 0 {
		if err := json.Unmarshal(locationsJSON, &agg.Locations); err != nil {
			return nil, fmt.Errorf("unmarshal locations: %w", err)
		}
	}
	return &agg, nil
}

// Save creates or replaces the aggregated row.
func (r *AggregateRepository) Save(ctx context.Context, agg *domain.AggregatedResult) error {
	locationsJSON, err := json.Marshal(agg.Locations)
	if err != nil {
		return fmt.Errorf("marshal locations: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO aggregated_results (endpoint_id, total_locations, successful_locations,
			avg_response_time, min_response_time, max_response_time, consensus, locations, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (endpoint_id) DO UPDATE SET
			total_locations = EXCLUDED.total_locations,
			successful_locations = EXCLUDED.successful_locations,
			avg_response_time = EXCLUDED.avg_response_time,
			min_response_time = EXCLUDED.min_response_time,
			max_response_time = EXCLUDED.max_response_time,
			consensus = EXCLUDED.consensus,
			locations = EXCLUDED.locations,
			updated_at = EXCLUDED.updated_at`,
		agg.EndpointID, agg.TotalLocations, agg.SuccessfulLocations,
		agg.AvgResponseTime, agg.MinResponseTime, agg.MaxResponseTime,
		agg.Consensus, locationsJSON, agg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save aggregated result: %w", err)
	}
	return nil
}

// Delete removes the aggregated row for an endpoint.
func (r *AggregateRepository) Delete(ctx context.Context, endpointID int64) error {
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM aggregated_results WHERE endpoint_id = $1`, endpointID,
	); err != nil {
		return fmt.Errorf("delete aggregated result: %w", err)
	}
	return nil
}
