package checker

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/miekg/dns"
	"github.com/sourcegraph/conc"
)

const maxAXFRSampleNames = 20

// AXFRServerResult is the outcome of one transfer attempt.
type AXFRServerResult struct {
	Nameserver string `json:"nameserver"`
	Allowed    bool   `json:"allowed"`
	Records    int    `json:"records"`
	Error      string `json:"error,omitempty"`
}

// AXFRResult reports which authoritative servers allow zone transfers.
type AXFRResult struct {
	Domain      string             `json:"domain"`
	Servers     []AXFRServerResult `json:"servers"`
	Vulnerable  bool               `json:"vulnerable"`
	SampleNames []string           `json:"sample_names,omitempty"`
}

// Summary renders a one-line description of the result.
func (r AXFRResult) Summary() string {
	allowed := 0
	for _, s := range r.Servers {
		if s.Allowed {
			allowed++
		}
	}
	return fmt.Sprintf("%d/%d nameservers allow AXFR", allowed, len(r.Servers))
}

// AXFRChecker attempts a zone transfer against every NS of a domain.
type AXFRChecker struct {
	Resolver Resolver
	// Port overrides the nameserver port; tests point it at a local server.
	Port string
}

// Run tries all nameservers concurrently.
func (c *AXFRChecker) Run(ctx context.Context, domain string) (AXFRResult, error) {
	nss, err := c.Resolver.LookupNS(ctx, domain)
	if err != nil {
		return AXFRResult{}, fmt.Errorf("NS lookup: %w", err)
	}
	port := c.Port
	if port == "" {
		port = "53"
	}

	result := AXFRResult{Domain: domain, Servers: make([]AXFRServerResult, len(nss))}
	names := make(map[string]struct{})
	var mu sync.Mutex

	var wg conc.WaitGroup
	for i, ns := range nss {
		host := strings.TrimSuffix(ns.Host, ".")
		wg.Go(func() {
			server, owners := transferZone(ctx, domain, host, port)
			result.Servers[i] = server
			mu.Lock()
			for _, name := range owners {
				names[name] = struct{}{}
			}
			mu.Unlock()
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return AXFRResult{}, err
	}
	for _, s := range result.Servers {
		result.Vulnerable = result.Vulnerable || s.Allowed
	}
	for name := range names {
		result.SampleNames = append(result.SampleNames, name)
	}
	sort.Strings(result.SampleNames)
	if len(result.SampleNames) > maxAXFRSampleNames {
		result.SampleNames = result.SampleNames[:maxAXFRSampleNames]
	}
	return result, nil
}

// transferZone dials the nameserver itself so the connection can be closed
// when ctx ends; dns.Transfer has no context support.
func transferZone(ctx context.Context, domain, nameserver, port string) (AXFRServerResult, []string) {
	server := AXFRServerResult{Nameserver: nameserver}

	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(nameserver, port))
	if err != nil {
		server.Error = err.Error()
		return server, nil
	}
	conn := &dns.Conn{Conn: raw}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()

	msg := new(dns.Msg)
	msg.SetAxfr(dns.Fqdn(domain))
	tr := &dns.Transfer{Conn: conn}
	envelopes, err := tr.In(msg, "")
	if err != nil {
		server.Error = err.Error()
		return server, nil
	}

	var owners []string
	for env := range envelopes {
		if env.Error != nil {
			server.Error = env.Error.Error()
			continue
		}
		for _, rr := range env.RR {
			server.Records++
			name := strings.ToLower(strings.TrimSuffix(rr.Header().Name, "."))
			if isSubdomainOf(name, domain) || name == domain {
				owners = append(owners, name)
			}
		}
	}
	// A refused transfer surfaces as an error envelope with no records; a
	// transfer cut short still leaked part of the zone.
	server.Allowed = server.Records > 0
	if server.Allowed {
		return server, owners
	}
	return server, nil
}
