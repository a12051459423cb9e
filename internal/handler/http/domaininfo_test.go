package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zateckar/monitor-sub001/internal/certwatch"
)

func TestDomainInfo_ReturnsRegistrationData(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/endpoints", validEndpoint())
	require.Equal(t, http.StatusCreated, rec.Code)

	expiry := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	f.domains.info = &certwatch.DomainInfo{
		Domain:     "example.com",
		ExpiryDate: &expiry,
		Registrar:  "Example Registrar Inc",
	}

	rec = f.do(t, http.MethodGet, "/api/endpoints/1/domain-info", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data certwatch.DomainInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "example.com", resp.Data.Domain)
	assert.Equal(t, "Example Registrar Inc", resp.Data.Registrar)
	require.NotNil(t, resp.Data.ExpiryDate)
	assert.True(t, expiry.Equal(*resp.Data.ExpiryDate))

	assert.Equal(t, []string{"example.com"}, f.domains.asked)
}

func TestDomainInfo_UnknownEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/endpoints/99/domain-info", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDomainInfo_IPTargetRejected(t *testing.T) {
	f := newFixture(t)

	e := validEndpoint()
	e.URL = "https://192.0.2.10/health"
	rec := f.do(t, http.MethodPost, "/api/endpoints", e)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/endpoints/1/domain-info", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, f.domains.asked)
}

func TestDomainInfo_LookupFailure(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/endpoints", validEndpoint())
	require.Equal(t, http.StatusCreated, rec.Code)

	f.domains.err = errors.New("rdap unreachable")

	rec = f.do(t, http.MethodGet, "/api/endpoints/1/domain-info", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
