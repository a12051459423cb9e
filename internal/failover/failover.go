package failover

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/repository"
	"github.com/zateckar/monitor-sub001/pkg/httpclient"
)

const (
	pollInterval     = 30 * time.Second
	pollTimeout      = 5 * time.Second
	failureThreshold = 3

	// promotingHold is the pause between claiming the promotion and the
	// final peer re-check, giving a racing lower-order peer time to appear.
	promotingHold = 5 * time.Second

	// freshnessWindow bounds how old a peer's heartbeat may be to still
	// count it as a live promotion candidate.
	freshnessWindow = 5 * time.Minute

	// recheckWindow is the tighter freshness bound applied after the hold.
	recheckWindow = 2 * time.Minute
)

// Promoter flips this instance's role. Satisfied by role.Manager.
type Promoter interface {
	PromoteToPrimary(ctx context.Context) error
}

// OnPromoted runs after a successful promotion. The app uses it to stop the
// sync client and bring up the primary-side subsystems.
type OnPromoted func(ctx context.Context)

// Controller watches the primary's liveness from a dependent and runs the
// ordered election when the primary goes quiet.
type Controller struct {
	instances  repository.InstanceRepository
	roles      Promoter
	http       *httpclient.Client
	primaryURL string
	selfID     string
	selfOrder  int
	onPromoted OnPromoted
	logger     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu                 sync.Mutex
	failures           int
	lastPrimaryContact *time.Time
	promoted           bool
}

// New creates a failover controller for a dependent instance.
func New(
	instances repository.InstanceRepository,
	roles Promoter,
	primaryURL, selfID string,
	selfOrder int,
	onPromoted OnPromoted,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		instances:  instances,
		roles:      roles,
		http:       httpclient.New(httpclient.Config{Timeout: pollTimeout, MaxRetries: 0}),
		primaryURL: primaryURL,
		selfID:     selfID,
		selfOrder:  selfOrder,
		onPromoted: onPromoted,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run polls the primary until ctx is cancelled or this instance promotes.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if c.checkOnce(ctx) {
				return nil
			}
		}
	}
}

// checkOnce performs one liveness poll. Returns true when this instance has
// promoted and the controller should stop.
func (c *Controller) checkOnce(ctx context.Context) bool {
	if err := c.pollHealth(ctx); err == nil {
		now := c.now()
		c.mu.Lock()
		c.failures = 0
		c.lastPrimaryContact = &now
		c.mu.Unlock()
		return false
	}

	c.mu.Lock()
	c.failures++
	failures := c.failures
	c.mu.Unlock()

	c.logger.Warn("primary health check failed",
		slog.String("primary", c.primaryURL),
		slog.Int("consecutive_failures", failures))

	if failures < failureThreshold {
		return false
	}
	return c.attemptPromotion(ctx)
}

func (c *Controller) pollHealth(ctx context.Context) error {
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	resp, err := c.http.Get(pollCtx, c.primaryURL+"/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("primary health status %d", resp.StatusCode)
	}
	return nil
}

// attemptPromotion runs the ordered election. Returns true when this
// instance is now the primary.
func (c *Controller) attemptPromotion(ctx context.Context) bool {
	now := c.now()

	if peer := c.lowerOrderActivePeer(ctx, now.Add(-freshnessWindow)); peer != nil {
		c.logger.Info("deferring promotion to lower-order peer",
			slog.String("peer", peer.InstanceID),
			slog.Int("peer_order", peer.FailoverOrder))
		return false
	}
	if peer := c.promotingPeer(ctx); peer != nil {
		c.logger.Info("another instance is already promoting",
			slog.String("peer", peer.InstanceID))
		return false
	}

	claimed, err := c.instances.ClaimPromotion(ctx, c.selfID)
	if err != nil {
		c.logger.Error("claim promotion", slog.Any("error", err))
		return false
	}
	if !claimed {
		c.logger.Info("promotion claim lost to another instance")
		return false
	}

	c.logger.Info("promotion claimed, holding", slog.Duration("hold", promotingHold))
	if err := c.sleep(ctx, promotingHold); err != nil {
		c.revertClaim(ctx)
		return false
	}

	if peer := c.lowerOrderActivePeer(ctx, c.now().Add(-recheckWindow)); peer != nil {
		c.logger.Info("lower-order peer appeared during hold, reverting",
			slog.String("peer", peer.InstanceID))
		c.revertClaim(ctx)
		return false
	}

	if err := c.roles.PromoteToPrimary(ctx); err != nil {
		c.logger.Error("promote to primary", slog.Any("error", err))
		c.revertClaim(ctx)
		return false
	}
	if err := c.instances.UpdateStatus(ctx, c.selfID, domain.InstanceActive); err != nil {
		c.logger.Warn("restore instance status after promotion", slog.Any("error", err))
	}

	c.mu.Lock()
	c.failures = 0
	c.promoted = true
	c.mu.Unlock()

	c.logger.Info("promoted to primary after failover election")

	if c.onPromoted != nil {
		c.onPromoted(ctx)
	}
	return true
}

// ForcePromotion treats the primary as already failed and runs the same
// election.
func (c *Controller) ForcePromotion(ctx context.Context) bool {
	c.mu.Lock()
	c.failures = failureThreshold
	c.mu.Unlock()
	return c.attemptPromotion(ctx)
}

// ResetFailoverState zeroes the failure count and restores active status.
func (c *Controller) ResetFailoverState(ctx context.Context) error {
	c.mu.Lock()
	c.failures = 0
	c.promoted = false
	c.mu.Unlock()
	return c.instances.UpdateStatus(ctx, c.selfID, domain.InstanceActive)
}

// Failures returns the consecutive health check failure count.
func (c *Controller) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// LastPrimaryContact returns when the primary last answered a health poll.
func (c *Controller) LastPrimaryContact() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPrimaryContact
}

// Promoted reports whether this controller completed an election.
func (c *Controller) Promoted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.promoted
}

func (c *Controller) lowerOrderActivePeer(ctx context.Context, cutoff time.Time) *domain.Instance {
	instances, err := c.instances.List(ctx)
	if err != nil {
		c.logger.Error("list instances for election", slog.Any("error", err))
		return nil
	}

	for i := range instances {
		inst := &instances[i]
		if inst.InstanceID == c.selfID || inst.Status != domain.InstanceActive {
			continue
		}
		if inst.FailoverOrder >= c.selfOrder {
			continue
		}
		if inst.LastHeartbeat != nil && inst.LastHeartbeat.After(cutoff) {
			return inst
		}
	}
	return nil
}

func (c *Controller) promotingPeer(ctx context.Context) *domain.Instance {
	instances, err := c.instances.List(ctx)
	if err != nil {
		c.logger.Error("list instances for election", slog.Any("error", err))
		return nil
	}

	for i := range instances {
		inst := &instances[i]
		if inst.InstanceID != c.selfID && inst.Status == domain.InstancePromoting {
			return inst
		}
	}
	return nil
}

func (c *Controller) revertClaim(ctx context.Context) {
	if err := c.instances.UpdateStatus(ctx, c.selfID, domain.InstanceActive); err != nil {
		c.logger.Warn("revert promotion claim", slog.Any("error", err))
	}
}
