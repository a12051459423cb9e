package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zateckar/monitor-sub001/internal/aggregator"
	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/repository"
	"github.com/zateckar/monitor-sub001/internal/uptime"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
	"github.com/zateckar/monitor-sub001/pkg/httputil"
	"github.com/zateckar/monitor-sub001/pkg/pagination"
)

// Monitor is the scheduler surface the endpoint API drives. Satisfied by
// scheduler.Scheduler.
type Monitor interface {
	Start(ctx context.Context, e *domain.Endpoint)
	Restart(ctx context.Context, endpointID int64) error
	Stop(endpointID int64)
}

// EndpointHandler handles the endpoint management API.
type EndpointHandler struct {
	endpoints repository.EndpointRepository
	outcomes  repository.OutcomeRepository
	agg       *aggregator.Aggregator
	monitor   Monitor
	domains   DomainLookup
	logger    *slog.Logger
}

// NewEndpointHandler creates the endpoint management handler. monitor may be
// nil on instances that do not probe locally.
func NewEndpointHandler(
	endpoints repository.EndpointRepository,
	outcomes repository.OutcomeRepository,
	agg *aggregator.Aggregator,
	monitor Monitor,
	domains DomainLookup,
	logger *slog.Logger,
) *EndpointHandler {
	return &EndpointHandler{
		endpoints: endpoints,
		outcomes:  outcomes,
		agg:       agg,
		monitor:   monitor,
		domains:   domains,
		logger:    logger,
	}
}

// Create handles POST /api/endpoints.
func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var e domain.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if err := e.Validate(); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput(err.Error()), h.logger)
		return
	}

	e.ID = 0
	// New endpoints start optimistic so the first passing check does not
	// announce a recovery that never happened.
	e.Status = domain.StatusUp
	e.RetriesFailed = 0

	if err := h.endpoints.Create(r.Context(), &e); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if h.monitor != nil {
		h.monitor.Start(r.Context(), &e)
	}

	h.logger.Info("endpoint created",
		slog.Int64("endpoint_id", e.ID),
		slog.String("endpoint", e.Name),
		slog.String("type", string(e.Type)))

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: e})
}

// Get handles GET /api/endpoints/{id}.
func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	e, err := h.endpoints.GetByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: e})
}

// List handles GET /api/endpoints.
func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.endpoints.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if endpoints == nil {
		endpoints = []domain.Endpoint{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: endpoints})
}

// Update handles PUT /api/endpoints/{id}. A successful update hot-reloads
// the probe loop.
func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var e domain.Endpoint
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	e.ID = id
	if err := e.Validate(); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput(err.Error()), h.logger)
		return
	}

	if err := h.endpoints.Update(r.Context(), &e); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if h.monitor != nil {
		if err := h.monitor.Restart(r.Context(), id); err != nil {
			h.logger.Warn("restart monitoring after update",
				slog.Int64("endpoint_id", id),
				slog.Any("error", err))
		}
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: e})
}

// Delete handles DELETE /api/endpoints/{id}. Stops the probe loop, drops
// the aggregated row and removes the configuration.
func (h *EndpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if h.monitor != nil {
		h.monitor.Stop(id)
	}
	if h.agg != nil {
		if err := h.agg.Drop(r.Context(), id); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Warn("drop aggregate", slog.Int64("endpoint_id", id), slog.Any("error", err))
		}
	}

	if err := h.endpoints.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.logger.Info("endpoint deleted", slog.Int64("endpoint_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// PauseRequest is the body of PUT /api/endpoints/{id}/pause.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// Pause handles PUT /api/endpoints/{id}/pause. Pausing stops the probe
// loop; resuming re-arms it.
func (h *EndpointHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	e, err := h.endpoints.GetByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	e.Paused = req.Paused
	if err := h.endpoints.Update(r.Context(), e); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if h.monitor != nil {
		if req.Paused {
			h.monitor.Stop(id)
		} else {
			h.monitor.Start(r.Context(), e)
		}
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: e})
}

// Uptime handles GET /api/endpoints/{id}/uptime?window=1d.
func (h *EndpointHandler) Uptime(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	windowName := r.URL.Query().Get("window")
	if windowName == "" {
		windowName = "1d"
	}
	window, ok2 := uptime.Windows[windowName]
	if !ok2 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "unknown window " + windowName},
		})
		return
	}

	e, err := h.endpoints.GetByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	now := time.Now()
	outcomes, err := h.outcomes.ListRange(r.Context(), id, now.Add(-window), now)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	stats := uptime.Compute(outcomes, e.Interval(), windowName, window)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: stats})
}

// Outcomes handles GET /api/endpoints/{id}/outcomes?window=1d&page=1&per_page=20.
// Returns raw check history, newest first.
func (h *EndpointHandler) Outcomes(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	windowName := r.URL.Query().Get("window")
	if windowName == "" {
		windowName = "1d"
	}
	window, ok2 := uptime.Windows[windowName]
	if !ok2 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "unknown window " + windowName},
		})
		return
	}

	if _, err := h.endpoints.GetByID(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	now := time.Now()
	outcomes, err := h.outcomes.ListRange(r.Context(), id, now.Add(-window), now)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	// ListRange is ascending; history reads newest first.
	for i, j := 0, len(outcomes)-1; i < j; i, j = i+1, j-1 {
		outcomes[i], outcomes[j] = outcomes[j], outcomes[i]
	}

	params := pagination.FromRequest(r)
	page := outcomes[min(params.Offset, len(outcomes)):min(params.Offset+params.PerPage, len(outcomes))]

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(page, len(outcomes), params))
}

// Aggregate handles GET /api/endpoints/{id}/aggregate.
func (h *EndpointHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	agg, err := h.agg.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: agg})
}

// parseID parses the {id} route parameter, writing a 400 on failure.
func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "invalid endpoint id: " + raw},
		})
		return 0, false
	}
	return id, true
}
