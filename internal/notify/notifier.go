package notify

import (
	"context"

	"github.com/zateckar/monitor-sub001/internal/domain"
)

// Notifier delivers an endpoint state-change through a specific channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, e *domain.Endpoint, status domain.Status) error
}

// EventNotifier is optionally implemented by notifiers that can also carry
// free-form endpoint events, such as certificate expiry warnings.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, e *domain.Endpoint, message string) error
}
