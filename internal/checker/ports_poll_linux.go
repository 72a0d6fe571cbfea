//go:build linux

package checker

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// pollSlice bounds each poll(2) wait so cancellation is noticed promptly.
const pollSlice = 50 * time.Millisecond

// PollBackend issues non-blocking connects and waits for writability with
// poll(2), skipping the runtime netpoller and per-connection goroutine setup.
type PollBackend struct{}

func newPollBackend() (PortBackend, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	_ = unix.Close(fd)
	return PollBackend{}, nil
}

// Name identifies the backend in results.
func (PollBackend) Name() string { return "poll" }

// Connect attempts one TCP connection and classifies the result.
func (PollBackend) Connect(ctx context.Context, ip net.IP, port int, timeout time.Duration) PortState {
	family, addr := sockaddr(ip, port)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return PortFiltered
	}
	defer unix.Close(fd)

	err = unix.Connect(fd, addr)
	switch {
	case err == nil:
		return PortOpen
	case errors.Is(err, unix.ECONNREFUSED):
		return PortClosed
	case !errors.Is(err, unix.EINPROGRESS):
		return classifyConnectError(err)
	}

	deadline := time.Now().Add(timeout)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		if ctx.Err() != nil {
			return portCancelled
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return PortTimedOut
		}
		wait := min(remaining, pollSlice)
		ms := int(wait / time.Millisecond)
		if ms < 1 {
			ms = 1
		}

		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return PortFiltered
		}
		if n == 0 {
			continue
		}

		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return PortFiltered
		}
		if soErr == 0 {
			return PortOpen
		}
		return classifyConnectError(syscall.Errno(soErr))
	}
}

func sockaddr(ip net.IP, port int) (int, unix.Sockaddr) {
	if v4 := ip.To4(); v4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], v4)
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return unix.AF_INET6, sa
}
