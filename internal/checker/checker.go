package checker

import (
	"context"
	"errors"
	"net"
	"time"
)

// Severity levels shared by findings across probes.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Resolver is the subset of *net.Resolver the probes depend on.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

// NewResolver returns a pure-Go resolver, optionally pinned to custom nameservers.
func NewResolver(nameservers []string, timeout time.Duration) *net.Resolver {
	resolver := &net.Resolver{
		PreferGo: true,
	}
	if len(nameservers) > 0 {
		dialer := &net.Dialer{
			Timeout: timeout,
		}
		server := withDefaultPort(nameservers[0], "53")
		resolver.Dial = func(ctx context.Context, network, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, server)
		}
	}
	return resolver
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

func withDefaultPort(addr, port string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, port)
}
