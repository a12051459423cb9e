package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/notify"
	"github.com/zateckar/monitor-sub001/internal/probe"
	"github.com/zateckar/monitor-sub001/internal/repository"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// initialDelay staggers the first probe after an endpoint is registered so a
// restart does not stampede every target at once.
const initialDelay = time.Second

// ConnectionCleaner tears down pooled connections when monitoring stops.
type ConnectionCleaner interface {
	Cleanup(endpointID int64)
}

// OutcomeSink receives every locally produced outcome. On a dependent this is
// the sync client's pending buffer.
type OutcomeSink interface {
	Push(o domain.Outcome)
}

// entry tracks one endpoint's running probe loop.
type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns one probe loop per endpoint. A loop probes, applies the
// retry and debounce rules, persists the outcome and re-arms only after the
// probe completes.
type Scheduler struct {
	registry   *probe.Registry
	endpoints  repository.EndpointRepository
	outcomes   repository.OutcomeRepository
	dispatcher *notify.Dispatcher
	cleaner    ConnectionCleaner
	sink       OutcomeSink

	instanceID string
	location   string
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[int64]*entry
}

// New creates a scheduler. cleaner and sink may be nil.
func New(
	registry *probe.Registry,
	endpoints repository.EndpointRepository,
	outcomes repository.OutcomeRepository,
	dispatcher *notify.Dispatcher,
	cleaner ConnectionCleaner,
	instanceID, location string,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		registry:   registry,
		endpoints:  endpoints,
		outcomes:   outcomes,
		dispatcher: dispatcher,
		cleaner:    cleaner,
		instanceID: instanceID,
		location:   location,
		logger:     logger,
		entries:    make(map[int64]*entry),
	}
}

// SetSink installs the outcome sink. Must be called before StartAll.
func (s *Scheduler) SetSink(sink OutcomeSink) {
	s.sink = sink
}

// StartAll begins monitoring every non-paused endpoint.
func (s *Scheduler) StartAll(ctx context.Context) error {
	endpoints, err := s.endpoints.ListActive(ctx)
	if err != nil {
		return err
	}
	for i := range endpoints {
		s.Start(ctx, &endpoints[i])
	}
	return nil
}

// Start arms the probe loop for one endpoint. A second Start for the same id
// is a no-op; Restart is the hot-reload path.
func (s *Scheduler) Start(ctx context.Context, e *domain.Endpoint) {
	if e.Paused {
		return
	}
	if err := e.Validate(); err != nil {
		s.logger.Warn("skipping invalid endpoint",
			slog.Int64("endpoint_id", e.ID),
			slog.Any("error", err),
		)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.entries[e.ID]; running {
		return
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ent := &entry{cancel: cancel, done: make(chan struct{})}
	s.entries[e.ID] = ent

	go s.run(loopCtx, e.ID, ent)

	s.logger.Info("monitoring started",
		slog.Int64("endpoint_id", e.ID),
		slog.String("endpoint", e.Name),
		slog.String("type", string(e.Type)),
	)
}

// Stop cancels the endpoint's loop and tears down its pooled connections.
func (s *Scheduler) Stop(endpointID int64) {
	s.mu.Lock()
	ent, running := s.entries[endpointID]
	delete(s.entries, endpointID)
	s.mu.Unlock()

	if running {
		ent.cancel()
		<-ent.done
	}
	if s.cleaner != nil {
		s.cleaner.Cleanup(endpointID)
	}
	s.logger.Info("monitoring stopped", slog.Int64("endpoint_id", endpointID))
}

// Restart stops the loop and re-reads the endpoint before re-arming. Used
// after a config change.
func (s *Scheduler) Restart(ctx context.Context, endpointID int64) error {
	s.Stop(endpointID)

	e, err := s.endpoints.GetByID(ctx, endpointID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}

	s.Start(ctx, e)
	return nil
}

// StopAll cancels every loop. Pooled connections are cleaned per endpoint.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Stop(id)
	}
}

// Running reports whether the endpoint currently has an armed loop.
func (s *Scheduler) Running(endpointID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.entries[endpointID]
	return running
}

// ActiveCount returns the number of armed loops.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) run(ctx context.Context, endpointID int64, ent *entry) {
	defer close(ent.done)

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next, stop := s.fire(ctx, endpointID)
		if stop {
			s.mu.Lock()
			if s.entries[endpointID] == ent {
				delete(s.entries, endpointID)
			}
			s.mu.Unlock()
			return
		}

		timer.Reset(next)
	}
}

// fire executes one probe cycle. It returns the next period and whether the
// loop should stop.
func (s *Scheduler) fire(ctx context.Context, endpointID int64) (time.Duration, bool) {
	e, err := s.endpoints.GetByID(ctx, endpointID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 0, true
		}
		s.logger.Error("reload endpoint before probe",
			slog.Int64("endpoint_id", endpointID),
			slog.Any("error", err),
		)
		return time.Duration(domain.MinHeartbeatIntervalSeconds) * time.Second, false
	}
	if e.Paused {
		return 0, true
	}

	outcome, err := s.registry.Run(ctx, e, s.instanceID, s.location)
	if err != nil {
		s.logger.Error("probe dispatch failed",
			slog.Int64("endpoint_id", e.ID),
			slog.Any("error", err),
		)
		return e.Interval(), false
	}

	s.applyTransition(ctx, e, outcome)

	if err := s.outcomes.Append(ctx, &outcome); err != nil {
		s.logger.Error("append outcome",
			slog.Int64("endpoint_id", e.ID),
			slog.Any("error", err),
		)
	}
	if s.sink != nil {
		s.sink.Push(outcome)
	}

	if err := s.endpoints.UpdateRuntimeState(ctx, e.ID, e.Status, e.RetriesFailed, outcome.Timestamp); err != nil {
		s.logger.Error("persist endpoint state",
			slog.Int64("endpoint_id", e.ID),
			slog.Any("error", err),
		)
	}

	return e.Interval(), false
}

// applyTransition mutates the endpoint's status fields according to the
// retry and debounce rules and emits notifications on transitions.
func (s *Scheduler) applyTransition(ctx context.Context, e *domain.Endpoint, o domain.Outcome) {
	if o.IsOK {
		e.RetriesFailed = 0
		if e.Status != domain.StatusUp {
			e.Status = domain.StatusUp
			s.dispatcher.Dispatch(ctx, e, domain.StatusUp)
			s.logger.Info("endpoint recovered",
				slog.Int64("endpoint_id", e.ID),
				slog.String("endpoint", e.Name),
			)
		}
		return
	}

	e.RetriesFailed++

	threshold := e.Retries
	if threshold < 1 {
		threshold = 1
	}
	if e.RetriesFailed < threshold {
		return
	}

	if e.Status != domain.StatusDown {
		e.Status = domain.StatusDown
		s.dispatcher.Dispatch(ctx, e, domain.StatusDown)
		s.logger.Warn("endpoint down",
			slog.Int64("endpoint_id", e.ID),
			slog.String("endpoint", e.Name),
			slog.String("reason", o.FailureReason),
		)
	}
}
