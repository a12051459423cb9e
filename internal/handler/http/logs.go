package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zateckar/monitor-sub001/internal/applog"
	"github.com/zateckar/monitor-sub001/pkg/httputil"
)

// LogsHandler exposes the persisted application log and the runtime log
// level.
type LogsHandler struct {
	svc    *applog.Service
	logger *slog.Logger
}

// NewLogsHandler creates the application log handler.
func NewLogsHandler(svc *applog.Service, logger *slog.Logger) *LogsHandler {
	return &LogsHandler{svc: svc, logger: logger}
}

// List handles GET /api/logs?limit=N.
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "limit must be a positive integer"},
			})
			return
		}
		limit = n
	}

	entries, err := h.svc.Recent(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: entries})
}

// Clear handles DELETE /api/logs.
func (h *LogsHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(r.Context()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogLevelRequest is the body of PUT /api/log-level.
type LogLevelRequest struct {
	Level string `json:"level"`
}

// GetLevel handles GET /api/log-level.
func (h *LogsHandler) GetLevel(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: LogLevelRequest{Level: h.svc.Level()},
	})
}

// SetLevel handles PUT /api/log-level. The new threshold applies
// immediately and survives restarts.
func (h *LogsHandler) SetLevel(w http.ResponseWriter, r *http.Request) {
	var req LogLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := h.svc.SetLevel(r.Context(), req.Level); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.logger.Info("log level changed", slog.String("level", req.Level))
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: LogLevelRequest{Level: req.Level}})
}
