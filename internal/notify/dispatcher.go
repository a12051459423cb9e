package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zateckar/monitor-sub001/internal/domain"
)

// Dispatcher fans endpoint state changes out to the notifiers bound to each
// endpoint. Channel failures are logged and never propagate to the scheduler.
type Dispatcher struct {
	mu       sync.RWMutex
	bindings map[int64][]Notifier
	defaults []Notifier

	// Dependents suppress emission; only the primary or a standalone
	// instance notifies.
	suppressed atomic.Bool

	logger *slog.Logger
}

// NewDispatcher creates a dispatcher with a default notifier set applied to
// endpoints without explicit bindings.
func NewDispatcher(defaults []Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		bindings: make(map[int64][]Notifier),
		defaults: defaults,
		logger:   logger,
	}
}

// Bind attaches notifiers to a specific endpoint, replacing prior bindings.
func (d *Dispatcher) Bind(endpointID int64, notifiers []Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings[endpointID] = notifiers
}

// Unbind removes an endpoint's notifier bindings.
func (d *Dispatcher) Unbind(endpointID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bindings, endpointID)
}

// SetSuppressed toggles emission. Suppressed dispatch is a silent no-op.
func (d *Dispatcher) SetSuppressed(suppressed bool) {
	d.suppressed.Store(suppressed)
}

// Dispatch invokes every notifier bound to the endpoint in isolation. One
// channel failing must not block another.
func (d *Dispatcher) Dispatch(ctx context.Context, e *domain.Endpoint, status domain.Status) {
	if d.suppressed.Load() {
		return
	}

	d.mu.RLock()
	notifiers, bound := d.bindings[e.ID]
	d.mu.RUnlock()
	if !bound {
		notifiers = d.defaults
	}

	for _, n := range notifiers {
		if err := n.Notify(ctx, e, status); err != nil {
			d.logger.ErrorContext(ctx, "notifier failed",
				slog.String("notifier", n.Name()),
				slog.Int64("endpoint_id", e.ID),
				slog.String("status", string(status)),
				slog.Any("error", err),
			)
		}
	}
}

// DispatchEvent delivers a free-form endpoint event, such as a certificate
// expiry warning, through the same bindings and suppression rules as status
// transitions. Notifiers without event support are skipped.
func (d *Dispatcher) DispatchEvent(ctx context.Context, e *domain.Endpoint, message string) {
	if d.suppressed.Load() {
		return
	}

	d.mu.RLock()
	notifiers, bound := d.bindings[e.ID]
	d.mu.RUnlock()
	if !bound {
		notifiers = d.defaults
	}

	for _, n := range notifiers {
		en, ok := n.(EventNotifier)
		if !ok {
			continue
		}
		if err := en.NotifyEvent(ctx, e, message); err != nil {
			d.logger.ErrorContext(ctx, "event notifier failed",
				slog.String("notifier", n.Name()),
				slog.Int64("endpoint_id", e.ID),
				slog.Any("error", err),
			)
		}
	}
}
