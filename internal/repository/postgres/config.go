package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zateckar/monitor-sub001/pkg/database"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// ConfigRepository implements the durable key/value config store using PostgreSQL.
type ConfigRepository struct {
	pool database.DBTX
}

// NewConfigRepository creates a new PostgreSQL-backed config repository.
func NewConfigRepository(pool database.DBTX) *ConfigRepository {
	return &ConfigRepository{pool: pool}
}

// Get returns the value for a key, or apperrors.ErrNotFound.
func (r *ConfigRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM instance_config WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("get config %q: %w", key, err)
	}
	return value, nil
}

// Set writes a key with last-writer-wins semantics.
func (r *ConfigRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO instance_config (key, value, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (r *ConfigRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM instance_config WHERE key = $1`, key,
	); err != nil {
		return fmt.Errorf("delete config %q: %w", key, err)
	}
	return nil
}
