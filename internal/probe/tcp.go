package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
)

// TCPExecutor probes endpoints by completing a TCP handshake.
type TCPExecutor struct {
	dialer *net.Dialer
}

// NewTCPExecutor creates the TCP probe executor.
func NewTCPExecutor() *TCPExecutor {
	return &TCPExecutor{dialer: &net.Dialer{}}
}

func (x *TCPExecutor) Type() domain.CheckType { return domain.CheckTCP }

func (x *TCPExecutor) Execute(ctx context.Context, e *domain.Endpoint) Result {
	addr := net.JoinHostPort(e.URL, strconv.Itoa(e.TCPPort))

	start := time.Now()
	conn, err := x.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fail(classifyNetError(err))
	}
	elapsed := time.Since(start)
	_ = conn.Close()

	return ok(elapsed)
}
