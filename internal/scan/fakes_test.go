package scan

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khanhnv2901/sentinelscope/internal/checker"
	"github.com/miekg/dns"
)

// stubResolver answers from static maps and counts every call.
type stubResolver struct {
	addrs map[string][]string
	txt   map[string][]string
	err   error
	calls atomic.Int32
}

func notFound(name string) error {
	return &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

func (r *stubResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
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

func (r *stubResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return nil, notFound(name)
}

func (r *stubResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	if txt, ok := r.txt[name]; ok {
		return txt, nil
	}
	return nil, notFound(name)
}

func (r *stubResolver) LookupNS(_ context.Context, name string) ([]*net.NS, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return nil, notFound(name)
}

// stubQuerier serves canned messages keyed by "name./TYPE"; anything else is
// NXDOMAIN.
type stubQuerier struct {
	responses map[string]*dns.Msg
	calls     atomic.Int32
}

func (q *stubQuerier) Query(_ context.Context, name string, qtype uint16) (*dns.Msg, error) {
	q.calls.Add(1)
	key := strings.ToLower(dns.Fqdn(name)) + "/" + dns.TypeToString[qtype]
	if resp, ok := q.responses[key]; ok {
		return resp, nil
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.Rcode = dns.RcodeNameError
	return msg, nil
}

func answer(rrs ...string) *dns.Msg {
	msg := new(dns.Msg)
	for _, s := range rrs {
		rr, err := dns.NewRR(s)
		if err != nil {
			panic(err)
		}
		msg.Answer = append(msg.Answer, rr)
	}
	return msg
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// countingClient returns a client whose transport serves body for every
// request and counts them.
func countingClient(body string, calls *atomic.Int32) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"text/html"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}, nil
	})}
}

// stubCT returns fixed names or an error.
type stubCT struct {
	names []string
	err   error
	calls atomic.Int32
}

func (c *stubCT) Lookup(context.Context, string) ([]string, error) {
	c.calls.Add(1)
	return c.names, c.err
}

// blackholeBackend behaves like a host that drops every SYN: attempts last
// until the context ends.
type blackholeBackend struct {
	calls atomic.Int32
}

func (*blackholeBackend) Name() string { return "blackhole" }

func (b *blackholeBackend) Connect(ctx context.Context, _ net.IP, _ int, _ time.Duration) checker.PortState {
	b.calls.Add(1)
	<-ctx.Done()
	return checker.PortTimedOut
}

// eventLog collects observer events from concurrent probes.
type eventLog struct {
	mu     sync.Mutex
	events []ProbeEvent
}

func (l *eventLog) observe(ev ProbeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) finished() map[string]ProbeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]ProbeEvent)
	for _, ev := range l.events {
		if ev.Phase == PhaseFinished {
			out[ev.Probe] = ev
		}
	}
	return out
}
