package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/pkg/database"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// TokenRepository implements instance token persistence using PostgreSQL.
// Only hashes are stored, never the tokens themselves.
type TokenRepository struct {
	pool database.DBTX
}

// NewTokenRepository creates a new PostgreSQL-backed token repository.
func NewTokenRepository(pool database.DBTX) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// Replace revokes any prior token for the instance and stores the new one in
// a single transaction, preserving the one-active-token-per-instance rule.
func (r *TokenRepository) Replace(ctx context.Context, token *domain.InstanceToken) error {
	permsJSON, err := json.Marshal(token.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin token replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM instance_tokens WHERE instance_id = $1`, token.InstanceID,
	); err != nil {
		return fmt.Errorf("revoke prior tokens: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO instance_tokens (token_hash, instance_id, permissions, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		token.TokenHash, token.InstanceID, permsJSON, token.ExpiresAt, token.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit token replace: %w", err)
	}
	return nil
}

// GetByHash retrieves a token record by its sha256 hash.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*domain.InstanceToken, error) {
	var (
		token     domain.InstanceToken
		permsJSON []byte
	)

	err := r.pool.QueryRow(ctx,
		`SELECT token_hash, instance_id, permissions, expires_at, created_at
		 FROM instance_tokens WHERE token_hash = $1`, hash,
	).Scan(&token.TokenHash, &token.InstanceID, &permsJSON, &token.ExpiresAt, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, fmt.Errorf("get token: %w", err)
	}

	if len(permsJSON) > 0 {
		if err := json.Unmarshal(permsJSON, &token.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshal permissions: %w", err)
		}
	}
	return &token, nil
}

// DeleteForInstance revokes all tokens issued to the instance.
func (r *TokenRepository) DeleteForInstance(ctx context.Context, instanceID string) error {
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM instance_tokens WHERE instance_id = $1`, instanceID,
	); err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}
	return nil
}
