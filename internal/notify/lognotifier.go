package notify

import (
	"context"
	"log/slog"

	"github.com/zateckar/monitor-sub001/internal/domain"
)

// LogNotifier is a notifier that records state changes in the application log
// and always succeeds. It stands in for outbound channel transports.
type LogNotifier struct {
	channel string
	logger  *slog.Logger
}

// NewLogNotifier creates a log-backed notifier for the given channel name.
func NewLogNotifier(channel string, logger *slog.Logger) *LogNotifier {
	return &LogNotifier{
		channel: channel,
		logger:  logger,
	}
}

// Name returns the name of this notifier.
func (n *LogNotifier) Name() string {
	return "log-" + n.channel
}

// Notify logs the endpoint transition.
func (n *LogNotifier) Notify(ctx context.Context, e *domain.Endpoint, status domain.Status) error {
	n.logger.InfoContext(ctx, "endpoint state change",
		slog.String("channel", n.channel),
		slog.Int64("endpoint_id", e.ID),
		slog.String("endpoint", e.Name),
		slog.String("status", string(status)),
	)
	return nil
}

// NotifyEvent logs a free-form endpoint event.
func (n *LogNotifier) NotifyEvent(ctx context.Context, e *domain.Endpoint, message string) error {
	n.logger.WarnContext(ctx, "endpoint event",
		slog.String("channel", n.channel),
		slog.Int64("endpoint_id", e.ID),
		slog.String("endpoint", e.Name),
		slog.String("message", message),
	)
	return nil
}
