package applog

import (
	"context"
	"log/slog"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/repository"
	"github.com/zateckar/monitor-sub001/pkg/logger"
)

// maxEntries bounds the persisted application log.
const maxEntries = 10000

// Handler is an slog handler that tees records into the application log
// store while delegating formatting to the wrapped handler. Store failures
// are swallowed: logging must never take the process down.
type Handler struct {
	inner     slog.Handler
	repo      repository.LogRepository
	component string
}

// NewHandler wraps an slog handler with store persistence.
func NewHandler(inner slog.Handler, repo repository.LogRepository) *Handler {
	return &Handler{inner: inner, repo: repo}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	entry := &domain.LogEntry{
		Level:     logger.LevelName(record.Level),
		Message:   record.Message,
		Component: h.component,
		Timestamp: record.Time,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	// Persistence is detached from the request context so cancellation
	// does not drop the record.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	_ = h.repo.Append(storeCtx, entry)

	return h.inner.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == "component" {
			clone.component = a.Value.String()
		}
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithGroup(name)
	return &clone
}
