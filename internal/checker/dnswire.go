package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	resolvConfPath   = "/etc/resolv.conf"
	fallbackResolver = "8.8.8.8:53"
	maxCNAMEHops     = 8
)

// DNSQuerier issues raw DNS queries. Implementations return the response
// message even for NXDOMAIN; err is reserved for transport failures.
type DNSQuerier interface {
	Query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error)
}

// DNSClient is a DNSQuerier over UDP with TCP retry on truncation.
type DNSClient struct {
	Servers []string
	udp     *dns.Client
	tcp     *dns.Client
}

// NewDNSClient targets nameservers, or the system resolvers when none are
// given. When resolv.conf is unreadable it falls back to a public resolver.
func NewDNSClient(nameservers []string, timeout time.Duration) *DNSClient {
	servers := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		servers = append(servers, withDefaultPort(ns, "53"))
	}
	if len(servers) == 0 {
		if conf, err := dns.ClientConfigFromFile(resolvConfPath); err == nil {
			for _, s := range conf.Servers {
				servers = append(servers, withDefaultPort(s, conf.Port))
			}
		}
	}
	if len(servers) == 0 {
		servers = []string{fallbackResolver}
	}
	return &DNSClient{
		Servers: servers,
		udp:     &dns.Client{Net: "udp", Timeout: timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

// Query asks each server in turn until one answers.
func (c *DNSClient) Query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.SetEdns0(4096, true)

	var lastErr error
	for _, server := range c.Servers {
		resp, _, err := c.udp.ExchangeContext(ctx, msg, server)
		if err == nil && resp.Truncated {
			resp, _, err = c.tcp.ExchangeContext(ctx, msg, server)
		}
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
	}
	return nil, fmt.Errorf("query %s %s: %w", dns.TypeToString[qtype], name, lastErr)
}

// ResolveCNAME follows the CNAME chain of host using c.
func (c *DNSClient) ResolveCNAME(ctx context.Context, host string) (CNAMEInfo, error) {
	return ResolveCNAME(ctx, c, host)
}

// CNAMEInfo is the alias chain of a name. Dangling is set when the final
// target does not exist (NXDOMAIN).
type CNAMEInfo struct {
	Chain    []string `json:"chain,omitempty"`
	Dangling bool     `json:"dangling"`
}

// Target returns the last name in the chain, or "" when host has no CNAME.
func (i CNAMEInfo) Target() string {
	if len(i.Chain) == 0 {
		return ""
	}
	return i.Chain[len(i.Chain)-1]
}

var errCNAMELoop = errors.New("cname chain too long")

// ResolveCNAME queries A for host and walks the CNAMEs in the answer. If the
// upstream resolver stops early, the chain is continued with further queries.
func ResolveCNAME(ctx context.Context, q DNSQuerier, host string) (CNAMEInfo, error) {
	var info CNAMEInfo
	current := dns.Fqdn(strings.ToLower(host))

	for hop := 0; hop < maxCNAMEHops; hop++ {
		resp, err := q.Query(ctx, current, dns.TypeA)
		if err != nil {
			return CNAMEInfo{}, err
		}

		aliases := cnameMap(resp.Answer)
		next, ok := aliases[current]
		if !ok {
			if resp.Rcode == dns.RcodeNameError && len(info.Chain) > 0 {
				info.Dangling = true
			}
			return info, nil
		}
		for ok {
			info.Chain = append(info.Chain, strings.TrimSuffix(next, "."))
			if len(info.Chain) > maxCNAMEHops {
				return CNAMEInfo{}, errCNAMELoop
			}
			current = next
			next, ok = aliases[current]
		}
		if hasAddress(resp.Answer, current) {
			return info, nil
		}
		if resp.Rcode == dns.RcodeNameError {
			info.Dangling = true
			return info, nil
		}
	}
	return CNAMEInfo{}, errCNAMELoop
}

func cnameMap(answer []dns.RR) map[string]string {
	out := make(map[string]string)
	for _, rr := range answer {
		if cname, ok := rr.(*dns.CNAME); ok {
			out[strings.ToLower(cname.Hdr.Name)] = strings.ToLower(cname.Target)
		}
	}
	return out
}

func hasAddress(answer []dns.RR, name string) bool {
	for _, rr := range answer {
		switch rr.(type) {
		case *dns.A, *dns.AAAA:
			if strings.EqualFold(rr.Header().Name, name) {
				return true
			}
		}
	}
	return false
}
