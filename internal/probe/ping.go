package probe

import (
	"context"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/zateckar/monitor-sub001/internal/domain"
)

// PingExecutor probes endpoints with a single echo request. It defaults to
// unprivileged UDP pings so the binary needs no extra capabilities.
type PingExecutor struct {
	privileged bool
}

// NewPingExecutor creates the ping probe executor.
func NewPingExecutor(privileged bool) *PingExecutor {
	return &PingExecutor{privileged: privileged}
}

func (x *PingExecutor) Type() domain.CheckType { return domain.CheckPing }

func (x *PingExecutor) Execute(ctx context.Context, e *domain.Endpoint) Result {
	pinger, err := probing.NewPinger(e.URL)
	if err != nil {
		return fail("dns")
	}
	pinger.SetPrivileged(x.privileged)
	pinger.Count = 1
	pinger.Timeout = DefaultTimeout

	if err := pinger.RunWithContext(ctx); err != nil {
		return fail(classifyNetError(err))
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return fail("timeout")
	}

	return ok(stats.AvgRtt)
}
