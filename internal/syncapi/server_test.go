package syncapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zateckar/monitor-sub001/internal/aggregator"
	"github.com/zateckar/monitor-sub001/internal/auth"
	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/identity"
	"github.com/zateckar/monitor-sub001/internal/role"
	apperrors "github.com/zateckar/monitor-sub001/pkg/errors"
)

// --- in-memory stores ---

type memInstances struct {
	mu   sync.Mutex
	rows map[string]*domain.Instance
}

func newMemInstances() *memInstances {
	return &memInstances{rows: map[string]*domain.Instance{}}
}

func (m *memInstances) Upsert(_ context.Context, inst *domain.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *inst
	m.rows[inst.InstanceID] = &clone
	return nil
}

func (m *memInstances) GetByID(_ context.Context, id string) (*domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *inst
	return &clone, nil
}

func (m *memInstances) List(_ context.Context) ([]domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Instance, 0, len(m.rows))
	for _, inst := range m.rows {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailoverOrder < out[j].FailoverOrder })
	return out, nil
}

func (m *memInstances) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memInstances) UpdateStatus(_ context.Context, id string, status domain.InstanceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.rows[id]; ok {
		inst.Status = status
	}
	return nil
}

func (m *memInstances) UpdateHeartbeat(_ context.Context, id string, at time.Time, systemInfo map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	inst.LastHeartbeat = &at
	inst.SystemInfo = systemInfo
	return nil
}

func (m *memInstances) MarkStale(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, inst := range m.rows {
		if inst.Status == domain.InstanceActive && (inst.LastHeartbeat == nil || inst.LastHeartbeat.Before(cutoff)) {
			inst.Status = domain.InstanceInactive
			n++
		}
	}
	return n, nil
}

func (m *memInstances) ClaimPromotion(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.rows {
		if inst.Status == domain.InstancePromoting && inst.InstanceID != id {
			return false, nil
		}
	}
	if inst, ok := m.rows[id]; ok {
		inst.Status = domain.InstancePromoting
	}
	return true, nil
}

func (m *memInstances) SetFailoverOrder(_ context.Context, id string, order int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	inst.FailoverOrder = order
	return nil
}

type memTokens struct {
	mu   sync.Mutex
	rows map[string]*domain.InstanceToken
}

func newMemTokens() *memTokens {
	return &memTokens{rows: map[string]*domain.InstanceToken{}}
}

func (m *memTokens) Replace(_ context.Context, token *domain.InstanceToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, t := range m.rows {
		if t.InstanceID == token.InstanceID {
			delete(m.rows, hash)
		}
	}
	clone := *token
	m.rows[token.TokenHash] = &clone
	return nil
}

func (m *memTokens) GetByHash(_ context.Context, hash string) (*domain.InstanceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[hash]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (m *memTokens) DeleteForInstance(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, t := range m.rows {
		if t.InstanceID == id {
			delete(m.rows, hash)
		}
	}
	return nil
}

type memEndpoints struct {
	mu   sync.Mutex
	rows []domain.Endpoint
}

func (m *memEndpoints) Create(_ context.Context, e *domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, *e)
	return nil
}

func (m *memEndpoints) GetByID(_ context.Context, id int64) (*domain.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			clone := m.rows[i]
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *memEndpoints) List(_ context.Context) ([]domain.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Endpoint(nil), m.rows...), nil
}

func (m *memEndpoints) ListActive(_ context.Context) ([]domain.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Endpoint
	for _, e := range m.rows {
		if !e.Paused {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEndpoints) Update(_ context.Context, _ *domain.Endpoint) error { return nil }

func (m *memEndpoints) UpdateRuntimeState(_ context.Context, _ int64, _ domain.Status, _ int, _ time.Time) error {
	return nil
}

func (m *memEndpoints) Delete(_ context.Context, _ int64) error { return nil }

type memOutcomes struct {
	mu   sync.Mutex
	rows []domain.Outcome
}

func (m *memOutcomes) Append(_ context.Context, o *domain.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *o)
	return nil
}

func (m *memOutcomes) AppendBatch(_ context.Context, outcomes []domain.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, outcomes...)
	return nil
}

func (m *memOutcomes) ListRange(_ context.Context, endpointID int64, from, to time.Time) ([]domain.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Outcome
	for _, o := range m.rows {
		if o.EndpointID == endpointID && !o.Timestamp.Before(from) && !o.Timestamp.After(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOutcomes) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type memConfig struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemConfig() *memConfig {
	return &memConfig{vals: map[string]string{}}
}

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

type memAggregates struct {
	mu   sync.Mutex
	rows map[int64]*domain.AggregatedResult
}

func newMemAggregates() *memAggregates {
	return &memAggregates{rows: map[int64]*domain.AggregatedResult{}}
}

func (m *memAggregates) Get(_ context.Context, endpointID int64) (*domain.AggregatedResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.rows[endpointID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *agg
	return &clone, nil
}

func (m *memAggregates) Save(_ context.Context, agg *domain.AggregatedResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *agg
	m.rows[agg.EndpointID] = &clone
	return nil
}

func (m *memAggregates) Delete(_ context.Context, endpointID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, endpointID)
	return nil
}

type fixedRole struct{ r role.Role }

func (f fixedRole) Current() role.Role { return f.r }

// --- fixture ---

type fixture struct {
	server    *Server
	handler   http.Handler
	instances *memInstances
	tokens    *memTokens
	endpoints *memEndpoints
	outcomes  *memOutcomes
	config    *memConfig
	aggs      *memAggregates
}

func newFixture(t *testing.T, r role.Role) *fixture {
	t.Helper()

	f := &fixture{
		instances: newMemInstances(),
		tokens:    newMemTokens(),
		endpoints: &memEndpoints{},
		outcomes:  &memOutcomes{},
		config:    newMemConfig(),
		aggs:      newMemAggregates(),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := aggregator.New(f.aggs, nil, logger)
	issuer := auth.NewIssuer("test-signing-secret")

	require.NoError(t, f.config.Set(context.Background(), identity.KeySharedSecret, "s3cret"))

	f.server = NewServer(f.instances, f.tokens, f.endpoints, f.outcomes, f.config, agg, issuer, fixedRole{r}, logger)
	f.handler = f.server.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) register(t *testing.T, instanceID string) string {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/register", "", RegisterRequest{
		InstanceID:   instanceID,
		InstanceName: "probe-" + instanceID[:8],
		Location:     "EU",
		Version:      "1.0.0",
		SharedSecret: "s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool             `json:"success"`
		Data    RegisterResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token
}

const testInstanceID = "5f5e7c3a-8d51-4a2e-9f0b-1c2d3e4f5a6b"

func TestRegister_IssuesTokenAndUpsertsInstance(t *testing.T) {
	f := newFixture(t, role.Primary)

	token := f.register(t, testInstanceID)

	inst, err := f.instances.GetByID(context.Background(), testInstanceID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceActive, inst.Status)
	assert.Equal(t, "EU", inst.Location)

	record, err := f.tokens.GetByHash(context.Background(), auth.HashToken(token))
	require.NoError(t, err)
	assert.Equal(t, testInstanceID, record.InstanceID)
}

func TestRegister_WrongSharedSecret(t *testing.T) {
	f := newFixture(t, role.Primary)

	rec := f.do(t, http.MethodPost, "/register", "", RegisterRequest{
		InstanceID:   testInstanceID,
		InstanceName: "probe",
		SharedSecret: "wrong",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegister_NoSharedSecretConfigured(t *testing.T) {
	f := newFixture(t, role.Primary)
	require.NoError(t, f.config.Delete(context.Background(), identity.KeySharedSecret))

	rec := f.do(t, http.MethodPost, "/register", "", RegisterRequest{
		InstanceID:   testInstanceID,
		InstanceName: "probe",
		SharedSecret: "s3cret",
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRegister_OversizedBodyRejectedWith413(t *testing.T) {
	f := newFixture(t, role.Primary)

	// A syntactically valid body keeps the decoder reading until it trips
	// the size cap instead of bailing on the first byte.
	var body bytes.Buffer
	body.WriteString(`{"instanceName":"`)
	body.Write(bytes.Repeat([]byte("x"), maxBodyBytes+1))
	body.WriteString(`"}`)
	req := httptest.NewRequest(http.MethodPost, "/register", &body)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "exceeds")
}

func TestRegister_NotPrimary(t *testing.T) {
	f := newFixture(t, role.Dependent)

	rec := f.do(t, http.MethodPost, "/register", "", RegisterRequest{
		InstanceID:   testInstanceID,
		InstanceName: "probe",
		SharedSecret: "s3cret",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRegister_ReplacesPriorToken(t *testing.T) {
	f := newFixture(t, role.Primary)

	first := f.register(t, testInstanceID)
	second := f.register(t, testInstanceID)

	_, err := f.tokens.GetByHash(context.Background(), auth.HashToken(first))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.tokens.GetByHash(context.Background(), auth.HashToken(second))
	assert.NoError(t, err)

	instances, err := f.instances.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, instances, 1)
}

func TestHeartbeat_AppendsOutcomesAndAggregates(t *testing.T) {
	f := newFixture(t, role.Primary)
	token := f.register(t, testInstanceID)

	rec := f.do(t, http.MethodPut, "/heartbeat", token, HeartbeatPayload{
		InstanceID: testInstanceID,
		Timestamp:  time.Now(),
		Status:     "healthy",
		Uptime:     1234,
		MonitoringResults: []domain.Outcome{
			{EndpointID: 7, Timestamp: time.Now(), IsOK: true, ResponseTime: 120, Status: domain.StatusUp, Location: "EU", CheckType: domain.CheckHTTP},
			{EndpointID: 8, Timestamp: time.Now(), IsOK: false, ResponseTime: 0, Status: domain.StatusDown, FailureReason: "connect refused", Location: "EU", CheckType: domain.CheckTCP},
		},
		ConnectionStatus: ConnectionStatus{PrimaryReachable: true},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Len(t, f.outcomes.rows, 2)
	for _, o := range f.outcomes.rows {
		assert.Equal(t, testInstanceID, o.InstanceID)
	}

	agg, err := f.aggs.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TotalLocations)
	assert.Equal(t, 1, agg.SuccessfulLocations)

	inst, err := f.instances.GetByID(context.Background(), testInstanceID)
	require.NoError(t, err)
	require.NotNil(t, inst.LastHeartbeat)
	assert.Equal(t, "healthy", inst.SystemInfo["status"])

	blob, err := f.config.Get(context.Background(), "connection_"+testInstanceID)
	require.NoError(t, err)
	assert.Contains(t, blob, "primaryReachable")
}

func TestHeartbeat_RequiresToken(t *testing.T) {
	f := newFixture(t, role.Primary)

	rec := f.do(t, http.MethodPut, "/heartbeat", "", HeartbeatPayload{InstanceID: testInstanceID})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHeartbeat_RevokedTokenRejected(t *testing.T) {
	f := newFixture(t, role.Primary)
	token := f.register(t, testInstanceID)

	require.NoError(t, f.tokens.DeleteForInstance(context.Background(), testInstanceID))

	rec := f.do(t, http.MethodPut, "/heartbeat", token, HeartbeatPayload{InstanceID: testInstanceID})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHeartbeat_RevivesInactiveInstance(t *testing.T) {
	f := newFixture(t, role.Primary)
	token := f.register(t, testInstanceID)

	require.NoError(t, f.instances.UpdateStatus(context.Background(), testInstanceID, domain.InstanceInactive))

	rec := f.do(t, http.MethodPut, "/heartbeat", token, HeartbeatPayload{InstanceID: testInstanceID})
	require.Equal(t, http.StatusOK, rec.Code)

	inst, err := f.instances.GetByID(context.Background(), testInstanceID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceActive, inst.Status)
}

func TestEndpoints_ExcludesPaused(t *testing.T) {
	f := newFixture(t, role.Primary)
	token := f.register(t, testInstanceID)

	require.NoError(t, f.endpoints.Create(context.Background(), &domain.Endpoint{
		Name: "live", Type: domain.CheckHTTP, URL: "https://a.example.com", HeartbeatIntervalSeconds: 60,
	}))
	require.NoError(t, f.endpoints.Create(context.Background(), &domain.Endpoint{
		Name: "parked", Type: domain.CheckHTTP, URL: "https://b.example.com", HeartbeatIntervalSeconds: 60, Paused: true,
	}))

	rec := f.do(t, http.MethodGet, "/endpoints", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool              `json:"success"`
		Data    []domain.Endpoint `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "live", resp.Data[0].Name)
}

func TestDeleteInstance_RevokesTokens(t *testing.T) {
	f := newFixture(t, role.Primary)
	token := f.register(t, testInstanceID)

	rec := f.do(t, http.MethodDelete, "/instances/"+testInstanceID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := f.instances.GetByID(context.Background(), testInstanceID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// The deleted instance's own token no longer works.
	rec = f.do(t, http.MethodPut, "/heartbeat", token, HeartbeatPayload{InstanceID: testInstanceID})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFailoverOrder_Update(t *testing.T) {
	f := newFixture(t, role.Primary)
	token := f.register(t, testInstanceID)

	rec := f.do(t, http.MethodPut, "/failover-order", token, FailoverOrderRequest{
		InstanceOrders: []InstanceOrder{{InstanceID: testInstanceID, Order: 2}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	inst, err := f.instances.GetByID(context.Background(), testInstanceID)
	require.NoError(t, err)
	assert.Equal(t, 2, inst.FailoverOrder)

	rec = f.do(t, http.MethodGet, "/failover-order", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool            `json:"success"`
		Data    []InstanceOrder `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 2, resp.Data[0].Order)
}

func TestInstancesHealth_FlagsStale(t *testing.T) {
	f := newFixture(t, role.Primary)
	token := f.register(t, testInstanceID)

	old := time.Now().Add(-10 * time.Minute)
	require.NoError(t, f.instances.UpdateHeartbeat(context.Background(), testInstanceID, old, nil))

	rec := f.do(t, http.MethodGet, "/instances/health", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool             `json:"success"`
		Data    []InstanceHealth `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.True(t, resp.Data[0].Stale)
}
