package providers

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailNotConfigured(t *testing.T) {
	p := NewEmailProvider("", 0, "", "", "")
	res := p.Send(context.Background(), "lead@example.com", "hi", nil, nil)

	assert.False(t, res.OK)
	assert.Equal(t, NotConfigured, res.Kind)
	assert.Equal(t, "email_not_configured", res.Detail)
}

func TestEmailSendTimesOutOnStalledServer(t *testing.T) {
	// A listener that accepts the connection and never sends the SMTP
	// greeting, so the dialer hangs waiting to read.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := ln.Accept(); err == nil {
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		select {
		case conn := <-accepted:
			conn.Close()
		default:
		}
	})

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	p := NewEmailProvider(host, port, "user", "pass", "noreply@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := p.Send(ctx, "lead@example.com", "hi", nil, nil)

	assert.False(t, res.OK)
	assert.Equal(t, Timeout, res.Kind)
	assert.True(t, res.Retryable())
	assert.Contains(t, res.Detail, "email_timeout:")
	assert.Less(t, time.Since(start), 5*time.Second, "a stalled server must not block the caller")
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("lead@example.com"))
	assert.Error(t, ValidateAddress("not an address"))
	assert.Error(t, ValidateAddress("missing-at-sign.example.com"))
}
