package certwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zateckar/monitor-sub001/internal/domain"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

type memEndpoints struct {
	mu   sync.Mutex
	rows []domain.Endpoint
}

func (m *memEndpoints) Create(_ context.Context, e *domain.Endpoint) error {
	m.rows = append(m.rows, *e)
	return nil
}

func (m *memEndpoints) GetByID(_ context.Context, id int64) (*domain.Endpoint, error) {
	for i := range m.rows {
		if m.rows[i].ID == id {
			clone := m.rows[i]
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memEndpoints) List(_ context.Context) ([]domain.Endpoint, error) {
	return append([]domain.Endpoint(nil), m.rows...), nil
}

func (m *memEndpoints) ListActive(ctx context.Context) ([]domain.Endpoint, error) {
	return m.List(ctx)
}

func (m *memEndpoints) Update(_ context.Context, _ *domain.Endpoint) error { return nil }

func (m *memEndpoints) UpdateRuntimeState(_ context.Context, _ int64, _ domain.Status, _ int, _ time.Time) error {
	return nil
}

func (m *memEndpoints) Delete(_ context.Context, _ int64) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func httpsEndpoint(id int64, threshold int) domain.Endpoint {
	return domain.Endpoint{
		ID:                       id,
		Name:                     "secure",
		Type:                     domain.CheckHTTP,
		URL:                      "https://example.com/health",
		HeartbeatIntervalSeconds: 60,
		CheckCertExpiry:          true,
		CertExpiryThresholdDays:  threshold,
	}
}

func TestWatcher_AlertsInsideThreshold(t *testing.T) {
	store := &memEndpoints{rows: []domain.Endpoint{httpsEndpoint(1, 14)}}

	var alerted []int64
	w := NewWatcher(store, func(_ context.Context, e *domain.Endpoint, info *CertInfo) {
		alerted = append(alerted, e.ID)
	}, testLogger())
	w.check = func(_ context.Context, _ string, _ int) (*CertInfo, error) {
		return &CertInfo{DaysRemaining: 7, NotAfter: time.Now().AddDate(0, 0, 7)}, nil
	}

	w.Sweep(context.Background())

	assert.Equal(t, []int64{1}, alerted)
}

func TestWatcher_QuietOutsideThreshold(t *testing.T) {
	store := &memEndpoints{rows: []domain.Endpoint{httpsEndpoint(1, 14)}}

	var alerted int
	w := NewWatcher(store, func(_ context.Context, _ *domain.Endpoint, _ *CertInfo) {
		alerted++
	}, testLogger())
	w.check = func(_ context.Context, _ string, _ int) (*CertInfo, error) {
		return &CertInfo{DaysRemaining: 90}, nil
	}

	w.Sweep(context.Background())

	assert.Zero(t, alerted)
}

func TestWatcher_TLSErrorIsNotAnOutage(t *testing.T) {
	e := httpsEndpoint(1, 14)
	store := &memEndpoints{rows: []domain.Endpoint{e}}

	var alerted int
	w := NewWatcher(store, func(_ context.Context, _ *domain.Endpoint, _ *CertInfo) {
		alerted++
	}, testLogger())
	w.check = func(_ context.Context, _ string, _ int) (*CertInfo, error) {
		return nil, errors.New("handshake failed")
	}

	w.Sweep(context.Background())

	assert.Zero(t, alerted)
	got, err := store.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEqual(t, domain.StatusDown, got.Status)
}

func TestWatcher_SkipsNonHTTPSAndOptedOut(t *testing.T) {
	plain := httpsEndpoint(1, 14)
	plain.URL = "http://example.com"
	optedOut := httpsEndpoint(2, 14)
	optedOut.CheckCertExpiry = false
	tcp := domain.Endpoint{ID: 3, Type: domain.CheckTCP, URL: "example.com", TCPPort: 443, CheckCertExpiry: true}

	store := &memEndpoints{rows: []domain.Endpoint{plain, optedOut, tcp}}

	var checks int
	w := NewWatcher(store, nil, testLogger())
	w.check = func(_ context.Context, _ string, _ int) (*CertInfo, error) {
		checks++
		return &CertInfo{DaysRemaining: 1}, nil
	}

	w.Sweep(context.Background())

	assert.Zero(t, checks)
}

func TestHostPort(t *testing.T) {
	host, port, err := HostPort("https://example.com/health")
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 443, port)

	host, port, err = HostPort("https://example.com:8443")
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 8443, port)

	_, _, err = HostPort("::bad::")
	assert.Error(t, err)
}
