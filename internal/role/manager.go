package role

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zateckar/monitor-sub001/internal/identity"
	"github.com/zateckar/monitor-sub001/internal/repository"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// Manager holds the instance role and persists transitions through the config
// store.
type Manager struct {
	mu             sync.RWMutex
	store          repository.ConfigRepository
	current        Role
	primarySyncURL string
	logger         *slog.Logger
}

// NewManager computes the effective role from the environment and the config
// store. Environment values seed the store on first boot; persisted values
// win on later boots so promotions survive restarts.
func NewManager(ctx context.Context, store repository.ConfigRepository, envPrimaryURL, envRole string, logger *slog.Logger) (*Manager, error) {
	url, err := loadOrSeed(ctx, store, identity.KeyPrimarySyncURL, envPrimaryURL)
	if err != nil {
		return nil, fmt.Errorf("load primary sync url: %w", err)
	}

	flag, err := loadOrSeed(ctx, store, identity.KeyInstanceRole, envRole)
	if err != nil {
		return nil, fmt.Errorf("load instance role: %w", err)
	}

	m := &Manager{
		store:          store,
		current:        Compute(url, flag == string(Primary)),
		primarySyncURL: url,
		logger:         logger,
	}

	logger.Info("instance role resolved", slog.String("role", string(m.current)))
	return m, nil
}

// Current returns the effective role.
func (m *Manager) Current() Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// PrimarySyncURL returns the configured primary, empty unless dependent.
func (m *Manager) PrimarySyncURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.primarySyncURL
}

// PromoteToPrimary clears the primary sync URL, sets the primary flag and
// persists both.
func (m *Manager) PromoteToPrimary(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Set(ctx, identity.KeyPrimarySyncURL, ""); err != nil {
		return fmt.Errorf("clear primary sync url: %w", err)
	}
	if err := m.store.Set(ctx, identity.KeyInstanceRole, string(Primary)); err != nil {
		return fmt.Errorf("set primary flag: %w", err)
	}

	m.primarySyncURL = ""
	m.current = Primary
	m.logger.Info("promoted to primary")
	return nil
}

// DemoteToDependent sets the primary sync URL, clears the primary flag and
// persists both.
func (m *Manager) DemoteToDependent(ctx context.Context, url string) error {
	if url == "" {
		return errors.New("demote requires a primary sync url")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Set(ctx, identity.KeyPrimarySyncURL, url); err != nil {
		return fmt.Errorf("set primary sync url: %w", err)
	}
	if err := m.store.Set(ctx, identity.KeyInstanceRole, ""); err != nil {
		return fmt.Errorf("clear primary flag: %w", err)
	}

	m.primarySyncURL = url
	m.current = Dependent
	m.logger.Info("demoted to dependent", slog.String("primary", url))
	return nil
}

// ResetToStandalone clears both role inputs and persists.
func (m *Manager) ResetToStandalone(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Set(ctx, identity.KeyPrimarySyncURL, ""); err != nil {
		return fmt.Errorf("clear primary sync url: %w", err)
	}
	if err := m.store.Set(ctx, identity.KeyInstanceRole, ""); err != nil {
		return fmt.Errorf("clear primary flag: %w", err)
	}

	m.primarySyncURL = ""
	m.current = Standalone
	m.logger.Info("reset to standalone")
	return nil
}

func loadOrSeed(ctx context.Context, store repository.ConfigRepository, key, envValue string) (string, error) {
	// A stored value wins even when empty, so a persisted promotion is not
	// undone by a stale environment on restart.
	stored, err := store.Get(ctx, key)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return "", err
	}

	if envValue != "" {
		if err := store.Set(ctx, key, envValue); err != nil {
			return "", err
		}
	}
	return envValue, nil
}
