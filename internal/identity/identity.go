package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/zateckar/monitor-sub001/internal/repository"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// Config store keys owned by the identity bootstrap.
const (
	KeyInstanceID     = "instanceId"
	KeyInstanceRole   = "instanceRole"
	KeySharedSecret   = "sharedSecret"
	KeyJWTSecret      = "jwtSecret"
	KeyPrimarySyncURL = "primarySyncURL"
	KeyFailoverOrder  = "failoverOrder"
	KeyLogLevel       = "log_level"
)

// Identity is the persisted identity of this monitoring instance.
type Identity struct {
	InstanceID   string
	JWTSecret    string
	SharedSecret string
}

// Bootstrap loads the persisted identity, generating and persisting any
// missing pieces. The instance UUID and JWT signing secret are created once
// and survive restarts. sharedSecret seeds the stored secret when the store
// has none yet.
func Bootstrap(ctx context.Context, cfg repository.ConfigRepository, sharedSecret string) (*Identity, error) {
	id, err := loadOrInit(ctx, cfg, KeyInstanceID, func() (string, error) {
		return uuid.NewString(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap instance id: %w", err)
	}

	jwtSecret, err := loadOrInit(ctx, cfg, KeyJWTSecret, randomSecret)
	if err != nil {
		return nil, fmt.Errorf("bootstrap jwt secret: %w", err)
	}

	stored, err := cfg.Get(ctx, KeySharedSecret)
	switch {
	case err == nil:
		sharedSecret = stored
	case errors.Is(err, apperrors.ErrNotFound):
		if sharedSecret != "" {
			if err := cfg.Set(ctx, KeySharedSecret, sharedSecret); err != nil {
				return nil, fmt.Errorf("persist shared secret: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("load shared secret: %w", err)
	}

	return &Identity{
		InstanceID:   id,
		JWTSecret:    jwtSecret,
		SharedSecret: sharedSecret,
	}, nil
}

func loadOrInit(ctx context.Context, cfg repository.ConfigRepository, key string, gen func() (string, error)) (string, error) {
	v, err := cfg.Get(ctx, key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return "", err
	}

	v, err = gen()
	if err != nil {
		return "", err
	}
	if err := cfg.Set(ctx, key, v); err != nil {
		return "", err
	}
	return v, nil
}

// randomSecret returns 32 random bytes hex-encoded.
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
