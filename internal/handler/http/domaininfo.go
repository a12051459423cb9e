package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/zateckar/monitor-sub001/internal/certwatch"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
	"github.com/zateckar/monitor-sub001/pkg/httputil"
)

// DomainLookup resolves registration data for a root domain. Satisfied by
// certwatch.RDAPClient.
type DomainLookup interface {
	Lookup(ctx context.Context, domainName string) (*certwatch.DomainInfo, error)
}

// DomainInfo handles GET /api/endpoints/{id}/domain-info. It reduces the
// endpoint's target to its registrable root and queries RDAP for expiry and
// registrar data.
func (h *EndpointHandler) DomainInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	e, err := h.endpoints.GetByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	host := endpointHost(e.URL)
	if host == "" {
		httputil.WriteError(w, r, apperrors.Unprocessable("endpoint has no resolvable hostname"), h.logger)
		return
	}
	if net.ParseIP(host) != nil {
		httputil.WriteError(w, r, apperrors.Unprocessable("domain lookup requires a hostname, not an IP address"), h.logger)
		return
	}

	info, err := h.domains.Lookup(r.Context(), certwatch.RootDomain(host))
	if err != nil {
		h.logger.Warn("domain lookup failed",
			slog.Int64("endpoint_id", id),
			slog.String("host", host),
			slog.Any("error", err))
		httputil.WriteError(w, r, &apperrors.AppError{
			Code:    "DOMAIN_LOOKUP_FAILED",
			Message: "rdap lookup failed: " + err.Error(),
			Status:  http.StatusBadGateway,
			Err:     apperrors.ErrServiceUnavail,
		}, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: info})
}

// endpointHost extracts the hostname from an endpoint target. Ping and TCP
// endpoints may carry a bare host rather than a URL.
func endpointHost(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		return host
	}
	return raw
}
