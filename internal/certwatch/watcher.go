package certwatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/repository"
)

// sweepInterval is how often certificate expiries are re-checked. This runs
// on its own schedule, independent of the probe timers.
const sweepInterval = 12 * time.Hour

// ExpiryAlert is invoked when a certificate is inside its warning window.
type ExpiryAlert func(ctx context.Context, e *domain.Endpoint, info *CertInfo)

// Watcher periodically measures TLS certificate expiry for endpoints that
// opted in. TLS failures are logged, never promoted to an endpoint outage.
type Watcher struct {
	endpoints repository.EndpointRepository
	alert     ExpiryAlert
	logger    *slog.Logger

	check func(ctx context.Context, host string, port int) (*CertInfo, error)
}

// NewWatcher creates a certificate watcher.
func NewWatcher(endpoints repository.EndpointRepository, alert ExpiryAlert, logger *slog.Logger) *Watcher {
	return &Watcher{
		endpoints: endpoints,
		alert:     alert,
		logger:    logger,
		check:     CheckTLS,
	}
}

// Run sweeps immediately and then on every tick until the context ends.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	w.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep checks every opted-in HTTPS endpoint once.
func (w *Watcher) Sweep(ctx context.Context) {
	endpoints, err := w.endpoints.ListActive(ctx)
	if err != nil {
		w.logger.Error("list endpoints for cert sweep", slog.Any("error", err))
		return
	}

	for i := range endpoints {
		e := &endpoints[i]
		if !w.eligible(e) {
			continue
		}
		w.checkEndpoint(ctx, e)
	}
}

func (w *Watcher) eligible(e *domain.Endpoint) bool {
	return e.Type == domain.CheckHTTP &&
		e.CheckCertExpiry &&
		strings.HasPrefix(e.URL, "https")
}

func (w *Watcher) checkEndpoint(ctx context.Context, e *domain.Endpoint) {
	host, port, err := HostPort(e.URL)
	if err != nil {
		w.logger.Warn("cert sweep: bad endpoint url",
			slog.Int64("endpoint_id", e.ID),
			slog.Any("error", err),
		)
		return
	}

	info, err := w.check(ctx, host, port)
	if err != nil {
		w.logger.Warn("cert sweep: tls check failed",
			slog.Int64("endpoint_id", e.ID),
			slog.String("host", host),
			slog.Any("error", err),
		)
		return
	}

	threshold := e.CertExpiryThresholdDays
	if threshold <= 0 {
		threshold = 14
	}

	if info.DaysRemaining <= threshold {
		w.logger.Warn("certificate expiring",
			slog.Int64("endpoint_id", e.ID),
			slog.String("host", host),
			slog.Int("days_remaining", info.DaysRemaining),
		)
		if w.alert != nil {
			w.alert(ctx, e, info)
		}
	}
}
