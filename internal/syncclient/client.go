package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/repository"
	"github.com/zateckar/monitor-sub001/internal/syncapi"
	"github.com/zateckar/monitor-sub001/internal/sysinfo"
	"github.com/zateckar/monitor-sub001/pkg/httpclient"
)

// Sync RPC timeouts.
const (
	healthTimeout    = 5 * time.Second
	registerTimeout  = 10 * time.Second
	fetchTimeout     = 10 * time.Second
	heartbeatTimeout = 10 * time.Second
)

// outcomeBuffer bounds the pending channel. A probe fleet producing faster
// than heartbeats drain for this long has bigger problems.
const outcomeBuffer = 1024

// EndpointStore is the dependent-side endpoint cache. The extra methods
// beyond the shared repository keep upstream-assigned IDs intact.
type EndpointStore interface {
	repository.EndpointRepository
	Upsert(ctx context.Context, e *domain.Endpoint) error
	DeleteMissing(ctx context.Context, keep []int64) (int64, error)
}

// Monitor is the slice of the scheduler the sync client drives.
type Monitor interface {
	Start(ctx context.Context, e *domain.Endpoint)
	Stop(endpointID int64)
	Restart(ctx context.Context, endpointID int64) error
	Running(endpointID int64) bool
	ActiveCount() int
}

// Config carries the dependent's identity and the primary's address.
type Config struct {
	PrimaryURL     string
	SharedSecret   string
	InstanceID     string
	InstanceName   string
	Location       string
	Version        string
	FailoverOrder  int
	PublicEndpoint string
	SyncURL        string
	SyncInterval   time.Duration
}

// Client is the dependent side of the sync protocol. It registers with the
// primary, mirrors endpoint configuration and the instance registry into the
// local store, drives the scheduler from it and reports probe outcomes via
// debounced heartbeats.
type Client struct {
	cfg        Config
	http       *httpclient.CircuitBreakerClient
	endpoints  EndpointStore
	syncStatus repository.SyncStatusRepository
	instances  repository.InstanceRepository
	monitor    Monitor
	logger     *slog.Logger
	now        func() time.Time

	tokenMu sync.Mutex
	token   string

	stateMu           sync.Mutex
	primaryReachable  bool
	lastSyncSuccess   *time.Time
	syncErrors        int
	heartbeatFailures int
	lastHeartbeat     *time.Time

	syncedMu sync.Mutex
	synced   map[int64]struct{}

	outcomeCh chan domain.Outcome
}

// New creates a sync client. The circuit breaker shields the primary from
// hammering while it is down.
func New(cfg Config, endpoints EndpointStore, syncStatus repository.SyncStatusRepository, instances repository.InstanceRepository, monitor Monitor, logger *slog.Logger) *Client {
	base := httpclient.New(httpclient.Config{
		Timeout:         heartbeatTimeout,
		MaxRetries:      0,
		RetryWaitMin:    time.Second,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 10,
	})

	return &Client{
		cfg:        cfg,
		http:       httpclient.NewCircuitBreakerClient(base, httpclient.DefaultCircuitBreakerConfig("sync-primary"), logger),
		endpoints:  endpoints,
		syncStatus: syncStatus,
		instances:  instances,
		monitor:    monitor,
		logger:     logger,
		now:        time.Now,
		synced:     make(map[int64]struct{}),
		outcomeCh:  make(chan domain.Outcome, outcomeBuffer),
	}
}

// Run registers, performs the initial endpoint sync and then services the
// periodic refresh and the heartbeat loop until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	// The local registry must hold this instance's row before anything else
	// happens: the failover election claims promotion against it, and the
	// primary may already be gone.
	c.upsertSelf(ctx)

	if err := c.registerUntilReady(ctx); err != nil {
		return err
	}

	if err := c.SyncEndpoints(ctx); err != nil {
		c.logger.Warn("initial endpoint sync failed", slog.Any("error", err))
	}

	go c.heartbeatLoop(ctx)

	interval := c.cfg.SyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.SyncEndpoints(ctx); err != nil {
				c.logger.Warn("endpoint sync failed", slog.Any("error", err))
			}
		}
	}
}

func (c *Client) registerUntilReady(ctx context.Context) error {
	backoff := time.Second
	for {
		err := c.Register(ctx)
		if err == nil {
			return nil
		}
		c.logger.Warn("registration failed, retrying",
			slog.String("primary", c.cfg.PrimaryURL),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// Register checks the primary's liveness and exchanges the shared secret
// for a bearer token.
func (c *Client) Register(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	resp, err := c.http.Get(healthCtx, c.cfg.PrimaryURL+"/health")
	if err != nil {
		c.markUnreachable()
		return fmt.Errorf("primary health check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.markUnreachable()
		return fmt.Errorf("primary health check: status %d", resp.StatusCode)
	}

	req := syncapi.RegisterRequest{
		InstanceID:     c.cfg.InstanceID,
		InstanceName:   c.cfg.InstanceName,
		Location:       c.cfg.Location,
		Version:        c.cfg.Version,
		Capabilities:   []string{"http", "ping", "tcp", "kafka_producer", "kafka_consumer"},
		FailoverOrder:  c.cfg.FailoverOrder,
		PublicEndpoint: c.cfg.PublicEndpoint,
		SyncURL:        c.cfg.SyncURL,
		SharedSecret:   c.cfg.SharedSecret,
		SystemInfo:     sysinfo.Describe(ctx),
	}

	registerCtx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	var data syncapi.RegisterResponse
	if err := c.doJSON(registerCtx, http.MethodPost, "/api/sync/register", "", req, &data); err != nil {
		c.markUnreachable()
		return fmt.Errorf("register with primary: %w", err)
	}
	if data.Token == "" {
		return fmt.Errorf("register with primary: empty token")
	}

	c.tokenMu.Lock()
	c.token = data.Token
	c.tokenMu.Unlock()

	c.markReachable()
	c.logger.Info("registered with primary", slog.String("primary", c.cfg.PrimaryURL))
	return nil
}

// SyncEndpoints fetches the endpoint set from the primary and reconciles
// the local cache and the scheduler against it. A 401 triggers one
// re-registration and a single retry.
func (c *Client) SyncEndpoints(ctx context.Context) error {
	endpoints, err := c.fetchEndpoints(ctx)
	if err != nil {
		c.stateMu.Lock()
		c.syncErrors++
		c.stateMu.Unlock()
		return err
	}

	if err := c.reconcile(ctx, endpoints); err != nil {
		return err
	}

	// Peer state rides along on every successful cycle so a later election
	// sees the fleet the primary saw last.
	if err := c.syncInstances(ctx); err != nil {
		c.logger.Warn("instance registry sync failed", slog.Any("error", err))
	}

	now := c.now()
	c.stateMu.Lock()
	c.lastSyncSuccess = &now
	c.primaryReachable = true
	c.stateMu.Unlock()
	return nil
}

// syncInstances mirrors the primary's instance registry into the local
// store. The self row is owned locally and never overwritten by the mirror;
// peers missing upstream are pruned so dead instances cannot defer an
// election forever.
func (c *Client) syncInstances(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var peers []domain.Instance
	if err := c.doJSON(fetchCtx, http.MethodGet, "/api/sync/instances", c.bearer(), nil, &peers); err != nil {
		return fmt.Errorf("fetch instances: %w", err)
	}

	upstream := make(map[string]struct{}, len(peers)+1)
	upstream[c.cfg.InstanceID] = struct{}{}
	for i := range peers {
		p := &peers[i]
		upstream[p.InstanceID] = struct{}{}
		if p.InstanceID == c.cfg.InstanceID {
			continue
		}
		if err := c.instances.Upsert(ctx, p); err != nil {
			c.logger.Warn("mirror peer instance",
				slog.String("instance_id", p.InstanceID),
				slog.Any("error", err))
		}
	}

	local, err := c.instances.List(ctx)
	if err != nil {
		return fmt.Errorf("list local instances: %w", err)
	}
	for i := range local {
		if _, ok := upstream[local[i].InstanceID]; ok {
			continue
		}
		if err := c.instances.Delete(ctx, local[i].InstanceID); err != nil {
			c.logger.Warn("prune departed instance",
				slog.String("instance_id", local[i].InstanceID),
				slog.Any("error", err))
		}
	}

	c.upsertSelf(ctx)
	return nil
}

// upsertSelf keeps this dependent's own row in the local registry current.
func (c *Client) upsertSelf(ctx context.Context) {
	now := c.now()
	err := c.instances.Upsert(ctx, &domain.Instance{
		InstanceID:     c.cfg.InstanceID,
		Name:           c.cfg.InstanceName,
		Location:       c.cfg.Location,
		SyncURL:        c.cfg.SyncURL,
		PublicEndpoint: c.cfg.PublicEndpoint,
		Version:        c.cfg.Version,
		FailoverOrder:  c.cfg.FailoverOrder,
		LastHeartbeat:  &now,
		Status:         domain.InstanceActive,
	})
	if err != nil {
		c.logger.Warn("upsert own instance row", slog.Any("error", err))
	}
}

func (c *Client) fetchEndpoints(ctx context.Context) ([]domain.Endpoint, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var endpoints []domain.Endpoint
	err := c.doJSON(fetchCtx, http.MethodGet, "/api/sync/endpoints", c.bearer(), nil, &endpoints)
	if isUnauthorized(err) {
		c.logger.Info("sync token rejected, re-registering")
		if err := c.Register(ctx); err != nil {
			return nil, err
		}
		retryCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
		err = c.doJSON(retryCtx, http.MethodGet, "/api/sync/endpoints", c.bearer(), nil, &endpoints)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch endpoints: %w", err)
	}
	return endpoints, nil
}

// reconcile installs fetched endpoints and stops monitoring for anything the
// primary no longer has.
func (c *Client) reconcile(ctx context.Context, endpoints []domain.Endpoint) error {
	now := c.now()
	keep := make([]int64, 0, len(endpoints))
	fresh := make(map[int64]struct{}, len(endpoints))

	for i := range endpoints {
		e := &endpoints[i]
		if err := c.endpoints.Upsert(ctx, e); err != nil {
			return fmt.Errorf("cache endpoint %d: %w", e.ID, err)
		}
		if err := c.syncStatus.Upsert(ctx, e.ID, now); err != nil {
			c.logger.Warn("record sync status", slog.Int64("endpoint_id", e.ID), slog.Any("error", err))
		}
		keep = append(keep, e.ID)
		fresh[e.ID] = struct{}{}
	}

	c.syncedMu.Lock()
	removed := make([]int64, 0)
	for id := range c.synced {
		if _, ok := fresh[id]; !ok {
			removed = append(removed, id)
		}
	}
	c.synced = fresh
	c.syncedMu.Unlock()

	for _, id := range removed {
		c.monitor.Stop(id)
	}

	if _, err := c.endpoints.DeleteMissing(ctx, keep); err != nil {
		return fmt.Errorf("prune removed endpoints: %w", err)
	}
	if err := c.syncStatus.DeleteMissing(ctx, keep); err != nil {
		c.logger.Warn("prune sync status", slog.Any("error", err))
	}

	for i := range endpoints {
		e := &endpoints[i]
		switch {
		case e.Paused:
			c.monitor.Stop(e.ID)
		case c.monitor.Running(e.ID):
			if err := c.monitor.Restart(ctx, e.ID); err != nil {
				c.logger.Warn("restart monitoring", slog.Int64("endpoint_id", e.ID), slog.Any("error", err))
			}
		default:
			c.monitor.Start(ctx, e)
		}
	}

	c.logger.Info("endpoint sync complete",
		slog.Int("endpoints", len(endpoints)),
		slog.Int("removed", len(removed)))
	return nil
}

// ConnectionStatus reports the current link state as sent in heartbeats.
func (c *Client) ConnectionStatus() syncapi.ConnectionStatus {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return syncapi.ConnectionStatus{
		PrimaryReachable: c.primaryReachable,
		LastSyncSuccess:  c.lastSyncSuccess,
		SyncErrors:       c.syncErrors,
	}
}

// HeartbeatFailures returns the consecutive heartbeat failure count.
func (c *Client) HeartbeatFailures() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.heartbeatFailures
}

func (c *Client) bearer() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.token
}

func (c *Client) markReachable() {
	c.stateMu.Lock()
	c.primaryReachable = true
	c.stateMu.Unlock()
}

func (c *Client) markUnreachable() {
	c.stateMu.Lock()
	c.primaryReachable = false
	c.syncErrors++
	c.stateMu.Unlock()
}

// unauthorizedError marks a 401 from the primary.
type unauthorizedError struct{ status int }

func (e *unauthorizedError) Error() string {
	return fmt.Sprintf("primary returned status %d", e.status)
}

func isUnauthorized(err error) bool {
	var ue *unauthorizedError
	return errors.As(err, &ue)
}

// doJSON performs one sync RPC, unwrapping the response envelope into out.
func (c *Client) doJSON(ctx context.Context, method, path, token string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.PrimaryURL+path, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &unauthorizedError{status: resp.StatusCode}
	}

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		if env.Error != "" {
			return fmt.Errorf("primary rejected request: %s", env.Error)
		}
		return fmt.Errorf("primary returned status %d", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}
