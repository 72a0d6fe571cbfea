package checker

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"
)

// DialBackend is the reference connect backend built on net.Dialer.
type DialBackend struct{}

// Name identifies the backend in results.
func (DialBackend) Name() string { return "dial" }

// Connect attempts one TCP connection and classifies the result.
func (DialBackend) Connect(ctx context.Context, ip net.IP, port int, timeout time.Duration) PortState {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err == nil {
		_ = conn.Close()
		return PortOpen
	}
	if ctx.Err() != nil {
		return portCancelled
	}
	return classifyConnectError(err)
}

func classifyConnectError(err error) PortState {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return PortClosed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return PortTimedOut
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return PortTimedOut
	}
	return PortFiltered
}
