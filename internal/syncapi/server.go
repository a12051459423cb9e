package syncapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zateckar/monitor-sub001/internal/aggregator"
	"github.com/zateckar/monitor-sub001/internal/auth"
	"github.com/zateckar/monitor-sub001/internal/repository"
	"github.com/zateckar/monitor-sub001/internal/role"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
	"github.com/zateckar/monitor-sub001/pkg/middleware"
)

// maxBodyBytes caps every sync request body at 10 MiB. A heartbeat with a
// large outcome backlog stays well under this.
const maxBodyBytes = 10 << 20

// RoleSource reports the instance's effective role. Satisfied by
// role.Manager.
type RoleSource interface {
	Current() role.Role
}

// Server is the primary-side sync API serving dependents under /api/sync.
type Server struct {
	instances repository.InstanceRepository
	tokens    repository.TokenRepository
	endpoints repository.EndpointRepository
	outcomes  repository.OutcomeRepository
	config    repository.ConfigRepository
	agg       *aggregator.Aggregator
	issuer    *auth.Issuer
	roles     RoleSource
	logger    *slog.Logger
	now       func() time.Time
}

// NewServer wires the sync API against its stores.
func NewServer(
	instances repository.InstanceRepository,
	tokens repository.TokenRepository,
	endpoints repository.EndpointRepository,
	outcomes repository.OutcomeRepository,
	config repository.ConfigRepository,
	agg *aggregator.Aggregator,
	issuer *auth.Issuer,
	roles RoleSource,
	logger *slog.Logger,
) *Server {
	return &Server{
		instances: instances,
		tokens:    tokens,
		endpoints: endpoints,
		outcomes:  outcomes,
		config:    config,
		agg:       agg,
		issuer:    issuer,
		roles:     roles,
		logger:    logger,
		now:       time.Now,
	}
}

// Routes returns the /api/sync subrouter.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(bodyLimit)
	r.Use(s.requirePrimary)

	r.Post("/register", s.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(s.validateToken))

		r.Put("/heartbeat", s.handleHeartbeat)
		r.Get("/endpoints", s.handleEndpoints)
		r.Get("/instances", s.handleListInstances)
		r.Delete("/instances/{id}", s.handleDeleteInstance)
		r.Get("/instances/health", s.handleInstancesHealth)
		r.Get("/failover-order", s.handleGetFailoverOrder)
		r.Put("/failover-order", s.handlePutFailoverOrder)
	})

	return r
}

func bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// requirePrimary rejects sync traffic unless this instance currently holds
// the primary role. Dependents hitting a demoted peer get a clean 403 and
// fall back to their failover cycle.
func (s *Server) requirePrimary(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.roles.Current() != role.Primary {
			writeError(w, http.StatusForbidden, "this instance is not the primary")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validateToken resolves a bearer token to instance claims. The stored
// sha256 hash must exist and the signature and expiry must both hold.
func (s *Server) validateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	record, err := s.tokens.GetByHash(ctx, auth.HashToken(token))
	if err != nil {
		return nil, err
	}

	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.InstanceID != record.InstanceID {
		return nil, apperrors.ErrUnauthorized
	}

	return &middleware.Claims{
		InstanceID:   claims.InstanceID,
		InstanceName: claims.InstanceName,
	}, nil
}
