package syncclient

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/syncapi"
	"github.com/zateckar/monitor-sub001/internal/sysinfo"
)

// debounceDelay is how long the first buffered outcome waits for company
// before a heartbeat is sent.
const debounceDelay = 2 * time.Second

// Push enqueues one probe outcome for the next heartbeat. Satisfies
// scheduler.OutcomeSink. A full buffer drops the outcome rather than block
// the probe loop.
func (c *Client) Push(o domain.Outcome) {
	select {
	case c.outcomeCh <- o:
	default:
		c.logger.Warn("heartbeat buffer full, dropping outcome",
			slog.Int64("endpoint_id", o.EndpointID))
	}
}

// heartbeatLoop drains the outcome channel into a pending batch. The first
// outcome of a batch arms a single debounce timer; later arrivals ride the
// same window. When the timer fires the whole batch goes out in one
// heartbeat.
func (c *Client) heartbeatLoop(ctx context.Context) {
	debounce := time.NewTimer(debounceDelay)
	if !debounce.Stop() {
		<-debounce.C
	}

	var pending []domain.Outcome

	for {
		select {
		case <-ctx.Done():
			return
		case o := <-c.outcomeCh:
			if len(pending) == 0 {
				debounce.Reset(debounceDelay)
			}
			pending = append(pending, o)
		case <-debounce.C:
			if len(pending) == 0 {
				continue
			}
			batch := pending
			pending = nil
			c.sendHeartbeat(ctx, batch)
		}
	}
}

// sendHeartbeat PUTs one batch to the primary. Delivery is at most once:
// the batch is gone regardless of outcome, and the next heartbeat carries
// fresh results. A 401 re-registers once so the next send has a valid
// token.
func (c *Client) sendHeartbeat(ctx context.Context, batch []domain.Outcome) {
	payload := syncapi.HeartbeatPayload{
		InstanceID:        c.cfg.InstanceID,
		Timestamp:         c.now(),
		Status:            c.healthStatus(),
		Uptime:            sysinfo.Uptime(),
		MonitoringResults: batch,
		SystemMetrics:     c.collectMetrics(ctx),
		ConnectionStatus:  c.ConnectionStatus(),
	}

	sendCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()

	var ack syncapi.HeartbeatAck
	err := c.doJSON(sendCtx, http.MethodPut, "/api/sync/heartbeat", c.bearer(), payload, &ack)

	switch {
	case err == nil:
		now := c.now()
		c.stateMu.Lock()
		c.lastHeartbeat = &now
		c.heartbeatFailures = 0
		c.primaryReachable = true
		c.stateMu.Unlock()
		c.logger.Debug("heartbeat delivered", slog.Int("outcomes", len(batch)))

	case isUnauthorized(err):
		c.recordHeartbeatFailure(err)
		if regErr := c.Register(ctx); regErr != nil {
			c.logger.Warn("re-registration after 401 failed", slog.Any("error", regErr))
		}

	default:
		c.recordHeartbeatFailure(err)
	}
}

func (c *Client) recordHeartbeatFailure(err error) {
	c.stateMu.Lock()
	c.heartbeatFailures++
	c.primaryReachable = false
	failures := c.heartbeatFailures
	c.stateMu.Unlock()

	c.logger.Warn("heartbeat failed",
		slog.Int("consecutive_failures", failures),
		slog.Any("error", err))
}

func (c *Client) collectMetrics(ctx context.Context) sysinfo.Metrics {
	m := sysinfo.Collect(ctx)
	m.ActiveEndpoints = c.monitor.ActiveCount()
	return m
}

// healthStatus summarizes this dependent for the primary's instance view.
func (c *Client) healthStatus() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	switch {
	case c.heartbeatFailures == 0:
		return "healthy"
	case c.heartbeatFailures < 3:
		return "degraded"
	default:
		return "failing"
	}
}
