package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zateckar/monitor-sub001/internal/applog"
	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/identity"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

type memLogs struct {
	mu   sync.Mutex
	rows []domain.LogEntry
}

func (m *memLogs) Append(_ context.Context, entry *domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *entry)
	return nil
}

func (m *memLogs) ListRecent(_ context.Context, limit int) ([]domain.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LogEntry
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.rows[i])
	}
	return out, nil
}

func (m *memLogs) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = nil
	return nil
}

func (m *memLogs) Trim(_ context.Context, keep int) error { return nil }

type memConfig struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemConfig() *memConfig { return &memConfig{vals: map[string]string{}} }

func (m *memConfig) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return v, nil
}

func (m *memConfig) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *memConfig) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

type logsFixture struct {
	logs *memLogs
	cfg  *memConfig
	lvl  *slog.LevelVar
}

// newTestLogsHandler builds a LogsHandler backed by in-memory stores.
func newTestLogsHandler(t *testing.T, logger *slog.Logger) (*LogsHandler, *logsFixture) {
	t.Helper()

	lf := &logsFixture{logs: &memLogs{}, cfg: newMemConfig(), lvl: new(slog.LevelVar)}
	svc := applog.NewService(lf.logs, lf.cfg, lf.lvl)
	return NewLogsHandler(svc, logger), lf
}

func TestListLogs(t *testing.T) {
	f := newFixture(t)
	lf := f.logsf

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, lf.logs.Append(context.Background(), &domain.LogEntry{
			Timestamp: time.Now(), Level: "info", Message: msg,
		}))
	}

	rec := f.do(t, http.MethodGet, "/api/logs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []domain.LogEntry `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "third", resp.Data[0].Message)
}

func TestListLogs_BadLimit(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/logs?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearLogs(t *testing.T) {
	f := newFixture(t)
	lf := f.logsf
	require.NoError(t, lf.logs.Append(context.Background(), &domain.LogEntry{Message: "old"}))

	rec := f.do(t, http.MethodDelete, "/api/logs", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, lf.rowsSnapshot())
}

func (lf *logsFixture) rowsSnapshot() []domain.LogEntry {
	lf.logs.mu.Lock()
	defer lf.logs.mu.Unlock()
	return append([]domain.LogEntry(nil), lf.logs.rows...)
}

func TestSetLogLevel(t *testing.T) {
	f := newFixture(t)
	lf := f.logsf

	rec := f.do(t, http.MethodPut, "/api/log-level", LogLevelRequest{Level: "debug"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, slog.LevelDebug, lf.lvl.Level())
	stored, err := lf.cfg.Get(context.Background(), identity.KeyLogLevel)
	require.NoError(t, err)
	assert.Equal(t, "debug", stored)
}

func TestSetLogLevel_Unknown(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/log-level", LogLevelRequest{Level: "verbose"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLogLevel(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/log-level", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data LogLevelRequest `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "info", resp.Data.Level)
}
