package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
)

// DefaultTimeout bounds a single probe when the endpoint does not configure
// its own.
const DefaultTimeout = 10 * time.Second

// Result is the raw verdict of one probe before endpoint-level adjustments.
type Result struct {
	IsOK          bool
	ResponseTime  float64
	FailureReason string
	Metadata      map[string]any
}

// ok builds a successful result with the measured round trip.
func ok(elapsed time.Duration) Result {
	return Result{IsOK: true, ResponseTime: float64(elapsed.Milliseconds())}
}

// fail builds a failed result with a reason. Response time stays 0.
func fail(reason string) Result {
	return Result{FailureReason: reason}
}

// Executor runs one probe against an endpoint. Implementations must not
// mutate the endpoint.
type Executor interface {
	Type() domain.CheckType
	Execute(ctx context.Context, e *domain.Endpoint) Result
}

// Registry holds one executor per check type.
type Registry struct {
	executors map[domain.CheckType]Executor
}

// NewRegistry builds a registry from the given executors.
func NewRegistry(executors ...Executor) *Registry {
	m := make(map[domain.CheckType]Executor, len(executors))
	for _, ex := range executors {
		m[ex.Type()] = ex
	}
	return &Registry{executors: m}
}

// Run executes the endpoint's probe and folds the result into a normalized
// outcome, applying the upside-down inversion.
func (r *Registry) Run(ctx context.Context, e *domain.Endpoint, instanceID, location string) (domain.Outcome, error) {
	ex, found := r.executors[e.Type]
	if !found {
		return domain.Outcome{}, fmt.Errorf("no executor for check type %q", e.Type)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	res := ex.Execute(ctx, e)

	return Finalize(e, res, instanceID, location, time.Now()), nil
}

// Finalize converts a raw result into an outcome for the endpoint, inverting
// the verdict when the endpoint is configured upside down.
func Finalize(e *domain.Endpoint, res Result, instanceID, location string, now time.Time) domain.Outcome {
	isOK := res.IsOK
	if e.UpsideDown {
		isOK = !isOK
	}

	status := domain.StatusDown
	if isOK {
		status = domain.StatusUp
	}

	reason := res.FailureReason
	if isOK {
		reason = ""
	} else if reason == "" && e.UpsideDown {
		reason = "expected failure but probe succeeded"
	}

	return domain.Outcome{
		EndpointID:    e.ID,
		InstanceID:    instanceID,
		Timestamp:     now,
		IsOK:          isOK,
		ResponseTime:  res.ResponseTime,
		Status:        status,
		FailureReason: reason,
		Location:      location,
		CheckType:     e.Type,
		Metadata:      res.Metadata,
	}
}
