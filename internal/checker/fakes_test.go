package checker

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// fakeResolver answers from static maps; unknown names are NXDOMAIN.
type fakeResolver struct {
	mu      sync.Mutex
	addrs   map[string][]string
	mx      map[string][]*net.MX
	txt     map[string][]string
	ns      map[string][]*net.NS
	err     error
	delay   time.Duration
	queries []string
}

func notFound(name string) error {
	return &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func (r *fakeResolver) wait(ctx context.Context, name string) error {
	r.mu.Lock()
	r.queries = append(r.queries, name)
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.err
}

func (r *fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if err := r.wait(ctx, host); err != nil {
		return nil, err
	}
	ips, ok := r.addrs[strings.ToLower(host)]
	if !ok {
		return nil, notFound(host)
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func (r *fakeResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	if err := r.wait(ctx, name); err != nil {
		return nil, err
	}
	if mx, ok := r.mx[name]; ok {
		return mx, nil
	}
	return nil, notFound(name)
}

func (r *fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if err := r.wait(ctx, name); err != nil {
		return nil, err
	}
	if txt, ok := r.txt[name]; ok {
		return txt, nil
	}
	return nil, notFound(name)
}

func (r *fakeResolver) LookupNS(ctx context.Context, name string) ([]*net.NS, error) {
	if err := r.wait(ctx, name); err != nil {
		return nil, err
	}
	if ns, ok := r.ns[name]; ok {
		return ns, nil
	}
	return nil, notFound(name)
}

// fakeQuerier serves canned wire responses keyed by "name/TYPE".
type fakeQuerier struct {
	responses map[string]*dns.Msg
	err       error
}

func (q *fakeQuerier) Query(_ context.Context, name string, qtype uint16) (*dns.Msg, error) {
	if q.err != nil {
		return nil, q.err
	}
	key := strings.ToLower(dns.Fqdn(name)) + "/" + dns.TypeToString[qtype]
	if resp, ok := q.responses[key]; ok {
		return resp, nil
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.Rcode = dns.RcodeNameError
	return msg, nil
}

func answer(rcode int, rrs ...string) *dns.Msg {
	msg := new(dns.Msg)
	msg.Rcode = rcode
	for _, s := range rrs {
		rr, err := dns.NewRR(s)
		if err != nil {
			panic(err)
		}
		msg.Answer = append(msg.Answer, rr)
	}
	return msg
}
