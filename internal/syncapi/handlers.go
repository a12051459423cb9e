package syncapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zateckar/monitor-sub001/internal/auth"
	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/identity"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
	"github.com/zateckar/monitor-sub001/pkg/middleware"
	"github.com/zateckar/monitor-sub001/pkg/validator"
)

// decodeBody decodes a JSON request body into dst, distinguishing a body
// that blew the size cap from one that is merely malformed.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
	return false
}

// handleRegister handles POST /api/sync/register. Registration is the only
// unauthenticated sync call; the shared secret stands in for the token the
// dependent does not have yet.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validator.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	secret, err := s.config.Get(r.Context(), identity.KeySharedSecret)
	if err != nil || secret == "" {
		writeError(w, http.StatusInternalServerError, "no shared secret configured on this primary")
		return
	}
	if req.SharedSecret != secret {
		writeError(w, http.StatusUnauthorized, "shared secret mismatch")
		return
	}

	now := s.now()
	inst := &domain.Instance{
		InstanceID:     req.InstanceID,
		Name:           req.InstanceName,
		Location:       req.Location,
		SyncURL:        req.SyncURL,
		PublicEndpoint: req.PublicEndpoint,
		Version:        req.Version,
		FailoverOrder:  req.FailoverOrder,
		LastHeartbeat:  &now,
		Status:         domain.InstanceActive,
		Capabilities:   req.Capabilities,
		SystemInfo:     req.SystemInfo,
	}
	if err := s.instances.Upsert(r.Context(), inst); err != nil {
		s.fail(w, r, fmt.Errorf("upsert instance: %w", err))
		return
	}

	token, expires, err := s.issuer.Issue(req.InstanceID, req.InstanceName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.tokens.Replace(r.Context(), &domain.InstanceToken{
		TokenHash:  auth.HashToken(token),
		InstanceID: req.InstanceID,
		ExpiresAt:  expires,
		CreatedAt:  now,
	}); err != nil {
		s.fail(w, r, fmt.Errorf("store token: %w", err))
		return
	}

	s.logger.Info("instance registered",
		slog.String("instance_id", req.InstanceID),
		slog.String("instance_name", req.InstanceName),
		slog.String("location", req.Location))

	writeData(w, http.StatusOK, RegisterResponse{Token: token, InstanceID: req.InstanceID})
}

// handleHeartbeat handles PUT /api/sync/heartbeat. All outcomes of one
// heartbeat are appended atomically before aggregation.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	instanceID := middleware.InstanceIDFromContext(r.Context())

	var payload HeartbeatPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	// The token, not the body, decides who this heartbeat belongs to.
	for i := range payload.MonitoringResults {
		payload.MonitoringResults[i].InstanceID = instanceID
	}

	if len(payload.MonitoringResults) > 0 {
		if err := s.outcomes.AppendBatch(r.Context(), payload.MonitoringResults); err != nil {
			s.fail(w, r, fmt.Errorf("append heartbeat outcomes: %w", err))
			return
		}
		if err := s.agg.IngestBatch(r.Context(), payload.MonitoringResults); err != nil {
			s.fail(w, r, fmt.Errorf("aggregate heartbeat outcomes: %w", err))
			return
		}
	}

	now := s.now()
	info := map[string]any{
		"status":          payload.Status,
		"uptime":          payload.Uptime,
		"cpuUsage":        payload.SystemMetrics.CPUUsage,
		"memoryUsage":     payload.SystemMetrics.MemoryUsage,
		"diskUsage":       payload.SystemMetrics.DiskUsage,
		"activeEndpoints": payload.SystemMetrics.ActiveEndpoints,
	}
	if err := s.instances.UpdateHeartbeat(r.Context(), instanceID, now, info); err != nil {
		s.fail(w, r, fmt.Errorf("update heartbeat: %w", err))
		return
	}

	// A heartbeat from a reaped instance revives it.
	if inst, err := s.instances.GetByID(r.Context(), instanceID); err == nil && inst.Status == domain.InstanceInactive {
		if err := s.instances.UpdateStatus(r.Context(), instanceID, domain.InstanceActive); err != nil {
			s.logger.Warn("revive instance", slog.String("instance_id", instanceID), slog.Any("error", err))
		}
	}

	if blob, err := json.Marshal(payload.ConnectionStatus); err == nil {
		if err := s.config.Set(r.Context(), "connection_"+instanceID, string(blob)); err != nil {
			s.logger.Warn("persist connection status", slog.String("instance_id", instanceID), slog.Any("error", err))
		}
	}

	writeData(w, http.StatusOK, HeartbeatAck{Timestamp: now})
}

// handleEndpoints handles GET /api/sync/endpoints. Paused endpoints are not
// pushed to dependents.
func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.endpoints.ListActive(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, endpoints)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.instances.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, instances)
}

// handleDeleteInstance unregisters an instance and revokes its tokens. Its
// next heartbeat will fail with 401, forcing a fresh registration.
func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.tokens.DeleteForInstance(r.Context(), id); err != nil {
		s.fail(w, r, fmt.Errorf("revoke tokens: %w", err))
		return
	}
	if err := s.instances.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}

	s.logger.Info("instance unregistered", slog.String("instance_id", id))
	writeData(w, http.StatusOK, map[string]string{"instanceId": id})
}

func (s *Server) handleGetFailoverOrder(w http.ResponseWriter, r *http.Request) {
	instances, err := s.instances.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	orders := make([]InstanceOrder, 0, len(instances))
	for _, inst := range instances {
		orders = append(orders, InstanceOrder{InstanceID: inst.InstanceID, Order: inst.FailoverOrder})
	}
	writeData(w, http.StatusOK, orders)
}

func (s *Server) handlePutFailoverOrder(w http.ResponseWriter, r *http.Request) {
	var req FailoverOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validator.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, o := range req.InstanceOrders {
		if err := s.instances.SetFailoverOrder(r.Context(), o.InstanceID, o.Order); err != nil {
			s.fail(w, r, fmt.Errorf("set failover order for %s: %w", o.InstanceID, err))
			return
		}
	}

	instances, err := s.instances.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, instances)
}

func (s *Server) handleInstancesHealth(w http.ResponseWriter, r *http.Request) {
	instances, err := s.instances.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	now := s.now()
	health := make([]InstanceHealth, 0, len(instances))
	for _, inst := range instances {
		health = append(health, InstanceHealth{
			InstanceID:    inst.InstanceID,
			Name:          inst.Name,
			Location:      inst.Location,
			Status:        inst.Status,
			FailoverOrder: inst.FailoverOrder,
			LastHeartbeat: inst.LastHeartbeat,
			Stale:         !inst.HeartbeatFresh(now, domain.StaleHeartbeatAfter),
		})
	}
	writeData(w, http.StatusOK, health)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "sync api error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeError(w, status, err.Error())
}
