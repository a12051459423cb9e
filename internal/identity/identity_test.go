package identity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// memConfig is an in-memory ConfigRepository for tests.
type memConfig struct {
	values map[string]string
}

func newMemConfig() *memConfig {
	return &memConfig{values: map[string]string{}}
}

func (m *memConfig) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return v, nil
}

func (m *memConfig) Set(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memConfig) Delete(_ context.Context, key string) error {
	delete(m.values, key)
	return nil
}

func TestBootstrap_GeneratesAndPersists(t *testing.T) {
	store := newMemConfig()

	ident, err := Bootstrap(context.Background(), store, "s3cret")
	require.NoError(t, err)

	_, err = uuid.Parse(ident.InstanceID)
	assert.NoError(t, err, "instance id should be a UUID")
	assert.Len(t, ident.JWTSecret, 64, "32 random bytes hex encoded")
	assert.Equal(t, "s3cret", ident.SharedSecret)

	assert.Equal(t, ident.InstanceID, store.values[KeyInstanceID])
	assert.Equal(t, ident.JWTSecret, store.values[KeyJWTSecret])
	assert.Equal(t, "s3cret", store.values[KeySharedSecret])
}

func TestBootstrap_IsIdempotent(t *testing.T) {
	store := newMemConfig()

	first, err := Bootstrap(context.Background(), store, "")
	require.NoError(t, err)

	second, err := Bootstrap(context.Background(), store, "ignored-later")
	require.NoError(t, err)

	assert.Equal(t, first.InstanceID, second.InstanceID)
	assert.Equal(t, first.JWTSecret, second.JWTSecret)
}

func TestBootstrap_StoredSecretWins(t *testing.T) {
	store := newMemConfig()
	require.NoError(t, store.Set(context.Background(), KeySharedSecret, "stored"))

	ident, err := Bootstrap(context.Background(), store, "from-env")
	require.NoError(t, err)

	assert.Equal(t, "stored", ident.SharedSecret)
}
