package applog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/identity"
	"github.com/zateckar/monitor-sub001/internal/repository"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
	"github.com/zateckar/monitor-sub001/pkg/logger"
)

// defaultListLimit is how many recent entries the read API returns.
const defaultListLimit = 1000

var validLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Service exposes the persisted application log and the runtime log level.
type Service struct {
	logs  repository.LogRepository
	cfg   repository.ConfigRepository
	level *slog.LevelVar
}

// NewService creates the application log service. level is the live
// threshold shared with the root logger.
func NewService(logs repository.LogRepository, cfg repository.ConfigRepository, level *slog.LevelVar) *Service {
	return &Service{logs: logs, cfg: cfg, level: level}
}

// Recent returns the most recent entries, newest first. limit <= 0 applies
// the default of 1000.
func (s *Service) Recent(ctx context.Context, limit int) ([]domain.LogEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.logs.ListRecent(ctx, limit)
}

// Clear deletes all persisted entries.
func (s *Service) Clear(ctx context.Context) error {
	return s.logs.Clear(ctx)
}

// Trim drops everything beyond the bounded history.
func (s *Service) Trim(ctx context.Context) error {
	return s.logs.Trim(ctx, maxEntries)
}

// Level returns the current threshold name.
func (s *Service) Level() string {
	return logger.LevelName(s.level.Level())
}

// SetLevel validates, applies and persists a new threshold.
func (s *Service) SetLevel(ctx context.Context, level string) error {
	if _, ok := validLevels[level]; !ok {
		return fmt.Errorf("%w: unknown log level %q", apperrors.ErrInvalidInput, level)
	}

	s.level.Set(logger.ParseLevel(level))

	if err := s.cfg.Set(ctx, identity.KeyLogLevel, level); err != nil {
		return fmt.Errorf("persist log level: %w", err)
	}
	return nil
}

// RestoreLevel applies the persisted threshold, if any.
func (s *Service) RestoreLevel(ctx context.Context) error {
	stored, err := s.cfg.Get(ctx, identity.KeyLogLevel)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	if _, ok := validLevels[stored]; ok {
		s.level.Set(logger.ParseLevel(stored))
	}
	return nil
}
