package scan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/khanhnv2901/sentinelscope/internal/checker"
	sharedErrors "github.com/khanhnv2901/sentinelscope/internal/shared/errors"
	"github.com/miekg/dns"
	"go.uber.org/zap/zaptest"
)

var allProbes = []string{
	ProbePorts, ProbeTLS, ProbeHeaders, ProbeDNS, ProbeSubdomains, ProbeCookies,
	ProbeCORS, ProbeFingerprint, ProbePreview, ProbeTakeover, ProbeSecurityTxt,
	ProbeMixedContent, ProbeDNSExtras, ProbeAXFR,
}

func TestRunAllDisabledIssuesNoNetworkCalls(t *testing.T) {
	resolver := &stubResolver{}
	querier := &stubQuerier{}
	ct := &stubCT{}
	backend := &blackholeBackend{}
	var httpCalls atomic.Int32

	orch := NewOrchestrator(Options{
		Logger: zaptest.NewLogger(t),
		Registry: DefaultRegistry(Environment{
			Resolver:    resolver,
			Querier:     querier,
			CT:          ct,
			PortBackend: backend,
			HTTPClient:  countingClient("", &httpCalls),
		}),
	})

	cfg := DefaultConfig("example.com")
	cfg.DisableAll()
	report, err := orch.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	for _, s := range report.Summaries() {
		if s.Status != "skipped" {
			t.Errorf("Expected %s to be skipped, got %s", s.Probe, s.Status)
		}
	}
	calls := resolver.calls.Load() + querier.calls.Load() + ct.calls.Load() + backend.calls.Load() + httpCalls.Load()
	if calls != 0 {
		t.Errorf("Expected no network calls, got %d", calls)
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	for _, name := range allProbes {
		raw, ok := fields[name]
		if !ok {
			t.Errorf("Expected key %q in report", name)
			continue
		}
		if string(raw) != "null" {
			t.Errorf("Expected %s to serialize as null, got %s", name, raw)
		}
	}
	if string(fields["domain"]) != `"example.com"` {
		t.Errorf("Expected domain example.com, got %s", fields["domain"])
	}
}

func TestRunShortenedTimeoutOnlyAffectsThatProbe(t *testing.T) {
	resolver := &stubResolver{
		addrs: map[string][]string{"example.com": {"192.0.2.10"}},
		txt:   map[string][]string{"example.com": {"v=spf1 include:_spf.example.com -all"}},
	}
	orch := NewOrchestrator(Options{
		Logger:      zaptest.NewLogger(t),
		GracePeriod: 100 * time.Millisecond,
		Registry: DefaultRegistry(Environment{
			Resolver:    resolver,
			PortBackend: &blackholeBackend{},
		}),
	})

	cfg := DefaultConfig("example.com")
	cfg.DisableAll()
	cfg.Ports = true
	cfg.DNS = true
	cfg.ProbeTimeouts = map[string]time.Duration{ProbePorts: 150 * time.Millisecond}

	start := time.Now()
	report, err := orch.Run(context.Background(), cfg)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if elapsed > 150*time.Millisecond+100*time.Millisecond+time.Second {
		t.Errorf("Expected Run to return close to the shortened budget, took %v", elapsed)
	}
	if !report.Ports.IsFailure() || report.Ports.Reason() != "timeout" {
		t.Errorf("Expected ports to fail with timeout, got %s %q", report.Ports.Kind(), report.Ports.Reason())
	}
	dnsResult, ok := report.DNS.Value()
	if !ok {
		t.Fatalf("Expected dns to succeed, got %s %q", report.DNS.Kind(), report.DNS.Reason())
	}
	if !dnsResult.SPFPresent || dnsResult.SPFPolicy != "-all" {
		t.Errorf("Expected SPF -all, got present=%v policy=%q", dnsResult.SPFPresent, dnsResult.SPFPolicy)
	}
	if !report.TLS.IsDisabled() {
		t.Errorf("Expected tls disabled, got %s", report.TLS.Kind())
	}
}

func TestRunCancellationReleasesConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{})
	released := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		close(accepted)
		_, _ = io.Copy(io.Discard, conn)
		conn.Close()
		close(released)
	}()

	reg := &Registry{}
	Register(reg, Slot[checker.PortScanResult]{
		Probe: NewProbe(ProbePorts, func(ctx context.Context, _ *Config, _ Inputs) (checker.PortScanResult, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", ln.Addr().String())
			if err != nil {
				return checker.PortScanResult{}, err
			}
			defer conn.Close()
			<-ctx.Done()
			return checker.PortScanResult{}, ctx.Err()
		}),
		Field: func(r *Report) *Outcome[checker.PortScanResult] { return &r.Ports },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-accepted
		cancel()
	}()

	orch := NewOrchestrator(Options{Logger: zaptest.NewLogger(t), Registry: reg})
	report, err := orch.Run(ctx, DefaultConfig("example.com"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Ports.Reason() != "cancelled" {
		t.Errorf("Expected ports to be cancelled, got %s %q", report.Ports.Kind(), report.Ports.Reason())
	}

	select {
	case <-released:
	case <-time.After(4 * DefaultGracePeriod):
		t.Fatal("Expected the probe connection to be closed after cancellation")
	}
}

func TestRunCancellationWaitsForTakeoverDependencies(t *testing.T) {
	var subdomainsFinished atomic.Bool
	var takeoverCalls atomic.Int32
	reg := &Registry{}
	Register(reg, Slot[checker.SubdomainResult]{
		Probe: NewProbe(ProbeSubdomains, func(context.Context, *Config, Inputs) (checker.SubdomainResult, error) {
			time.Sleep(100 * time.Millisecond)
			subdomainsFinished.Store(true)
			return checker.SubdomainResult{Domain: "example.com"}, nil
		}),
		Field: func(r *Report) *Outcome[checker.SubdomainResult] { return &r.Subdomains },
	})
	Register(reg, Slot[checker.DNSResult]{
		Probe: NewProbe(ProbeDNS, func(context.Context, *Config, Inputs) (checker.DNSResult, error) {
			return checker.DNSResult{Domain: "example.com"}, nil
		}),
		Field: func(r *Report) *Outcome[checker.DNSResult] { return &r.DNS },
	})
	Register(reg, Slot[checker.TakeoverResult]{
		Probe: NewProbe(ProbeTakeover, func(context.Context, *Config, Inputs) (checker.TakeoverResult, error) {
			takeoverCalls.Add(1)
			return checker.TakeoverResult{}, nil
		}),
		After: []string{ProbeSubdomains, ProbeDNS},
		Field: func(r *Report) *Outcome[checker.TakeoverResult] { return &r.Takeover },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	var events eventLog
	orch := NewOrchestrator(Options{Logger: zaptest.NewLogger(t), Registry: reg})
	report, err := orch.RunObserved(ctx, DefaultConfig("example.com"), func(ev ProbeEvent) {
		if ev.Probe == ProbeTakeover && ev.Phase == PhaseStarted && !subdomainsFinished.Load() {
			t.Error("Expected takeover to start only after subdomains returned")
		}
		events.observe(ev)
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Subdomains.Reason() != "cancelled" {
		t.Errorf("Expected subdomains to be cancelled, got %s %q", report.Subdomains.Kind(), report.Subdomains.Reason())
	}
	if !report.DNS.IsSuccess() {
		t.Errorf("Expected dns to finish before cancellation, got %q", report.DNS.Reason())
	}
	if report.Takeover.Reason() != "cancelled" {
		t.Errorf("Expected takeover to be cancelled, got %s %q", report.Takeover.Kind(), report.Takeover.Reason())
	}
	if n := takeoverCalls.Load(); n != 0 {
		t.Errorf("Expected takeover not to run after cancellation, ran %d times", n)
	}
	if _, ok := events.finished()[ProbeTakeover]; !ok {
		t.Error("Expected a finished event for takeover")
	}
}

func TestRunConvertsPanicToInternalFault(t *testing.T) {
	reg := &Registry{}
	Register(reg, Slot[checker.HeaderResult]{
		Probe: NewProbe(ProbeHeaders, func(context.Context, *Config, Inputs) (checker.HeaderResult, error) {
			panic("boom")
		}),
		Field: func(r *Report) *Outcome[checker.HeaderResult] { return &r.Headers },
	})
	Register(reg, Slot[checker.PreviewResult]{
		Probe: NewProbe(ProbePreview, func(context.Context, *Config, Inputs) (checker.PreviewResult, error) {
			return checker.PreviewResult{StatusCode: 200, Title: "Example"}, nil
		}),
		Field: func(r *Report) *Outcome[checker.PreviewResult] { return &r.Preview },
	})

	events := &eventLog{}
	orch := NewOrchestrator(Options{Logger: zaptest.NewLogger(t), Registry: reg, Observer: events.observe})
	report, err := orch.Run(context.Background(), DefaultConfig("example.com"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.Headers.Reason() != "internal fault: boom" {
		t.Errorf("Expected internal fault reason, got %q", report.Headers.Reason())
	}
	if preview, ok := report.Preview.Value(); !ok || preview.Title != "Example" {
		t.Errorf("Expected preview to succeed alongside the panic, got %s", report.Preview.Kind())
	}
	if !report.TLS.IsDisabled() {
		t.Errorf("Expected unregistered probe to be disabled, got %s", report.TLS.Kind())
	}

	finished := events.finished()
	if ev := finished[ProbeHeaders]; ev.Kind != KindFailure {
		t.Errorf("Expected failure event for headers, got %s", ev.Kind)
	}
	if ev := finished[ProbePreview]; ev.Kind != KindSuccess {
		t.Errorf("Expected success event for preview, got %s", ev.Kind)
	}
}

func TestRunTakeoverWaitsForDependencies(t *testing.T) {
	var subdomainsDone atomic.Bool
	reg := &Registry{}
	Register(reg, Slot[checker.SubdomainResult]{
		Probe: NewProbe(ProbeSubdomains, func(ctx context.Context, _ *Config, _ Inputs) (checker.SubdomainResult, error) {
			time.Sleep(50 * time.Millisecond)
			subdomainsDone.Store(true)
			return checker.SubdomainResult{
				Domain: "example.com",
				Subdomains: []checker.Subdomain{
					{Hostname: "shop.example.com", Sources: []string{checker.SourceCTLog}},
					{Hostname: "www.example.com", Sources: []string{checker.SourceWordlist}},
				},
				Count: 2,
			}, nil
		}),
		Field: func(r *Report) *Outcome[checker.SubdomainResult] { return &r.Subdomains },
	})
	Register(reg, Slot[checker.DNSResult]{
		Probe: NewProbe(ProbeDNS, func(context.Context, *Config, Inputs) (checker.DNSResult, error) {
			return checker.DNSResult{Domain: "example.com"}, nil
		}),
		Field: func(r *Report) *Outcome[checker.DNSResult] { return &r.DNS },
	})
	Register(reg, Slot[checker.TakeoverResult]{
		Probe: NewProbe(ProbeTakeover, func(_ context.Context, cfg *Config, in Inputs) (checker.TakeoverResult, error) {
			if !subdomainsDone.Load() {
				return checker.TakeoverResult{}, errors.New("started before subdomains finished")
			}
			if !in.DNS.IsSuccess() {
				return checker.TakeoverResult{}, errors.New("dns outcome not passed in")
			}
			return checker.TakeoverResult{Checked: len(takeoverCandidates(cfg, in))}, nil
		}),
		After: []string{ProbeSubdomains, ProbeDNS},
		Field: func(r *Report) *Outcome[checker.TakeoverResult] { return &r.Takeover },
	})

	orch := NewOrchestrator(Options{Logger: zaptest.NewLogger(t), Registry: reg})
	report, err := orch.Run(context.Background(), DefaultConfig("example.com"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	result, ok := report.Takeover.Value()
	if !ok {
		t.Fatalf("Expected takeover success, got %q", report.Takeover.Reason())
	}
	// Two subdomains plus the apex, included because DNS succeeded.
	if result.Checked != 3 {
		t.Errorf("Expected 3 candidates, got %d", result.Checked)
	}
}

func TestDefaultRegistryTakeoverFlagsProvider(t *testing.T) {
	providers, err := checker.ParseProviderTable([]byte(`
version: "test"
providers:
  - name: Heroku
    cname_suffixes: [herokuapp.com]
    body_signatures: ["Heroku | No such app"]
`))
	if err != nil {
		t.Fatalf("parse providers: %v", err)
	}
	querier := &stubQuerier{responses: map[string]*dns.Msg{}}
	querier.responses["shop.example.com./A"] = answer(
		"shop.example.com. 300 IN CNAME shop-app.herokuapp.com.",
		"shop-app.herokuapp.com. 300 IN A 192.0.2.40",
	)
	var httpCalls atomic.Int32

	orch := NewOrchestrator(Options{
		Logger: zaptest.NewLogger(t),
		Registry: DefaultRegistry(Environment{
			Resolver:   &stubResolver{},
			Querier:    querier,
			CT:         &stubCT{names: []string{"shop.example.com", "*.example.com", "unrelated.org"}},
			Wordlist:   []string{},
			Providers:  providers,
			HTTPClient: countingClient("<h1>Heroku | No such app</h1>", &httpCalls),
		}),
	})

	cfg := DefaultConfig("example.com")
	cfg.DisableAll()
	cfg.Subdomains = true
	cfg.Takeover = true
	report, err := orch.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	subs, ok := report.Subdomains.Value()
	if !ok {
		t.Fatalf("Expected subdomains success, got %q", report.Subdomains.Reason())
	}
	if subs.Count != 1 || subs.Subdomains[0].Hostname != "shop.example.com" {
		t.Errorf("Expected only shop.example.com, got %+v", subs.Subdomains)
	}

	result, ok := report.Takeover.Value()
	if !ok {
		t.Fatalf("Expected takeover success, got %q", report.Takeover.Reason())
	}
	if len(result.Findings) != 1 {
		t.Fatalf("Expected 1 finding, got %d", len(result.Findings))
	}
	finding := result.Findings[0]
	if finding.Provider != "Heroku" || finding.Confidence != checker.ConfidenceHigh {
		t.Errorf("Expected high confidence Heroku finding, got %s %s", finding.Provider, finding.Confidence)
	}
	if httpCalls.Load() == 0 {
		t.Error("Expected the body to be fetched")
	}
}

func TestDefaultRegistryTakeoverFailsWhenSubdomainsFail(t *testing.T) {
	orch := NewOrchestrator(Options{
		Logger: zaptest.NewLogger(t),
		Registry: DefaultRegistry(Environment{
			Resolver: &stubResolver{err: errors.New("connection refused")},
			Querier:  &stubQuerier{},
			CT:       &stubCT{err: errors.New("ct log returned status 502")},
			Wordlist: []string{"www"},
		}),
	})

	cfg := DefaultConfig("example.com")
	cfg.DisableAll()
	cfg.Subdomains = true
	cfg.Takeover = true
	report, err := orch.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !report.Subdomains.IsFailure() {
		t.Fatalf("Expected subdomains failure, got %s", report.Subdomains.Kind())
	}
	if !strings.HasPrefix(report.Takeover.Reason(), sharedErrors.ErrDependency.Error()+": subdomains") {
		t.Errorf("Expected dependency failure, got %q", report.Takeover.Reason())
	}
}

func TestTakeoverDisabledWithoutSubdomains(t *testing.T) {
	orch := NewOrchestrator(Options{
		Logger:   zaptest.NewLogger(t),
		Registry: DefaultRegistry(Environment{Resolver: &stubResolver{}, Querier: &stubQuerier{}, CT: &stubCT{}}),
	})
	cfg := DefaultConfig("example.com")
	cfg.DisableAll()
	cfg.Takeover = true
	report, err := orch.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !report.Takeover.IsDisabled() {
		t.Errorf("Expected takeover disabled, got %s", report.Takeover.Kind())
	}
}

func TestRunRejectsInvalidConfigBeforeProbing(t *testing.T) {
	resolver := &stubResolver{}
	orch := NewOrchestrator(Options{
		Logger:   zaptest.NewLogger(t),
		Registry: DefaultRegistry(Environment{Resolver: resolver}),
	})
	cfg := DefaultConfig("not a domain")
	report, err := orch.Run(context.Background(), cfg)
	if report != nil {
		t.Error("Expected no report on configuration error")
	}
	if !IsConfigError(err) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if resolver.calls.Load() != 0 {
		t.Errorf("Expected no lookups, got %d", resolver.calls.Load())
	}
}

func TestSlotBudget(t *testing.T) {
	cfg, err := Config{
		Domain:      "example.com",
		PortProfile: ProfileCustom,
		CustomPorts: []int{22, 80, 443, 8080, 8443},
		Timeout:     3 * time.Second,
		DNSTimeout:  time.Second,
		Concurrency: 2,
	}.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	// Five ports two at a time take three connect waves.
	want := 3*time.Second + time.Second + budgetSlack
	if got := portsBudget(cfg, Inputs{}); got != want {
		t.Errorf("Expected ports budget %v, got %v", want, got)
	}

	slot := &Slot[checker.PortScanResult]{
		Probe: NewProbe(ProbePorts, func(context.Context, *Config, Inputs) (checker.PortScanResult, error) {
			return checker.PortScanResult{}, nil
		}),
		Budget: portsBudget,
	}
	cfg.ProbeTimeouts = map[string]time.Duration{ProbePorts: 10 * time.Millisecond}
	if got := slot.budget(cfg, Inputs{}); got != 10*time.Millisecond {
		t.Errorf("Expected override budget, got %v", got)
	}
}

func TestRegisterRejectsUnknownDependency(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected Register to panic")
		}
	}()
	reg := &Registry{}
	Register(reg, Slot[checker.TakeoverResult]{
		Probe: NewProbe(ProbeTakeover, func(context.Context, *Config, Inputs) (checker.TakeoverResult, error) {
			return checker.TakeoverResult{}, nil
		}),
		After: []string{ProbeSubdomains},
		Field: func(r *Report) *Outcome[checker.TakeoverResult] { return &r.Takeover },
	})
}

func TestDefaultRegistryOrder(t *testing.T) {
	names := DefaultRegistry(Environment{}).Names()
	if len(names) != len(allProbes) {
		t.Fatalf("Expected %d probes, got %d", len(allProbes), len(names))
	}
	seen := make(map[string]bool)
	for _, n := range names {
		seen[n] = true
	}
	for _, n := range allProbes {
		if !seen[n] {
			t.Errorf("Expected probe %q to be registered", n)
		}
	}
}
