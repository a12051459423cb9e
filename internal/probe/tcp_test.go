package probe

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zateckar/monitor-sub001/internal/domain"
)

func TestTCPExecutor_Handshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	e := &domain.Endpoint{
		ID:      2,
		Type:    domain.CheckTCP,
		URL:     "127.0.0.1",
		TCPPort: addr.Port,
	}

	res := NewTCPExecutor().Execute(context.Background(), e)

	assert.True(t, res.IsOK)
	assert.Empty(t, res.FailureReason)
}

func TestTCPExecutor_Refused(t *testing.T) {
	e := &domain.Endpoint{
		ID:      2,
		Type:    domain.CheckTCP,
		URL:     "127.0.0.1",
		TCPPort: 1,
	}

	res := NewTCPExecutor().Execute(context.Background(), e)

	assert.False(t, res.IsOK)
	assert.Equal(t, "connect", res.FailureReason)
}
