package scan

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/khanhnv2901/sentinelscope/internal/checker"
	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/sentinelscope/internal/shared/errors"
)

// budgetSlack is added to computed DNS-class budgets so a probe whose last
// lookup ends exactly on its deadline can still report.
const budgetSlack = 500 * time.Millisecond

// Probe is the capability every check exposes to the orchestrator.
type Probe[T any] interface {
	Name() string
	Run(ctx context.Context, cfg *Config, in Inputs) (T, error)
}

// Inputs carries the outcomes a probe declared it runs after. Only fields of
// declared dependencies are populated.
type Inputs struct {
	Subdomains Outcome[checker.SubdomainResult]
	DNS        Outcome[checker.DNSResult]
}

func inputsFor(r *Report, names []string) Inputs {
	var in Inputs
	for _, name := range names {
		switch name {
		case ProbeSubdomains:
			in.Subdomains = r.Subdomains
		case ProbeDNS:
			in.DNS = r.DNS
		}
	}
	return in
}

type probeFunc[T any] struct {
	name string
	run  func(ctx context.Context, cfg *Config, in Inputs) (T, error)
}

func (p probeFunc[T]) Name() string { return p.name }

func (p probeFunc[T]) Run(ctx context.Context, cfg *Config, in Inputs) (T, error) {
	return p.run(ctx, cfg, in)
}

// NewProbe adapts a function to the Probe interface.
func NewProbe[T any](name string, run func(ctx context.Context, cfg *Config, in Inputs) (T, error)) Probe[T] {
	return probeFunc[T]{name: name, run: run}
}

// Slot binds a probe to its toggle, its timeout budget and the report field
// it owns.
type Slot[T any] struct {
	Probe   Probe[T]
	Enabled func(*Config) bool
	// After names probes whose outcomes must be final before this one starts.
	After  []string
	Budget func(*Config, Inputs) time.Duration
	Field  func(*Report) *Outcome[T]
}

// task is the type-erased view of a Slot the orchestrator iterates.
type task interface {
	name() string
	enabled(cfg *Config) bool
	after() []string
	disable(r *Report)
	fillUnset(r *Report, reason string) bool
	execute(ctx context.Context, o *Orchestrator, cfg *Config, r *Report) (OutcomeKind, string)
}

func (s *Slot[T]) name() string             { return s.Probe.Name() }
func (s *Slot[T]) enabled(cfg *Config) bool { return s.Enabled == nil || s.Enabled(cfg) }
func (s *Slot[T]) after() []string          { return s.After }
func (s *Slot[T]) disable(r *Report)        { *s.Field(r) = Disabled[T]() }
func (s *Slot[T]) budget(cfg *Config, in Inputs) time.Duration {
	if d, ok := cfg.ProbeTimeouts[s.name()]; ok {
		return d
	}
	if s.Budget == nil {
		return cfg.Timeout
	}
	return s.Budget(cfg, in)
}

func (s *Slot[T]) fillUnset(r *Report, reason string) bool {
	field := s.Field(r)
	if field.Kind() != kindUnset {
		return false
	}
	*field = Failure[T](reason)
	return true
}

// Registry is the ordered probe set a scan runs.
type Registry struct {
	tasks []task
	index map[string]int
}

// Register appends s to reg. It panics on a duplicate name or on a
// dependency that was not registered earlier, which also rules out cycles.
func Register[T any](reg *Registry, s Slot[T]) {
	if reg.index == nil {
		reg.index = make(map[string]int)
	}
	name := s.Probe.Name()
	if _, dup := reg.index[name]; dup {
		panic(fmt.Sprintf("scan: probe %q registered twice", name))
	}
	for _, dep := range s.After {
		if _, ok := reg.index[dep]; !ok {
			panic(fmt.Sprintf("scan: probe %q depends on unregistered probe %q", name, dep))
		}
	}
	reg.index[name] = len(reg.tasks)
	reg.tasks = append(reg.tasks, &s)
}

// Names lists registered probes in registration order.
func (reg *Registry) Names() []string {
	names := make([]string, len(reg.tasks))
	for i, t := range reg.tasks {
		names[i] = t.name()
	}
	return names
}

// Has reports whether a probe is registered under name.
func (reg *Registry) Has(name string) bool {
	_, ok := reg.index[name]
	return ok
}

// Environment supplies the network collaborators of the default probes. Nil
// fields are built from the scan configuration.
type Environment struct {
	Resolver    checker.Resolver
	Querier     checker.DNSQuerier
	PortBackend checker.PortBackend
	HTTPClient  *http.Client
	Providers   *checker.ProviderTable
	Wordlist    []string
	CT          checker.CTSource
	CTEndpoint  string
	Now         func() time.Time

	// TLSPort and AXFRPort redirect the TLS and zone transfer probes; tests
	// point them at local servers.
	TLSPort  int
	AXFRPort string
}

func (env Environment) resolver(cfg *Config) checker.Resolver {
	base := env.Resolver
	if base == nil {
		base = checker.NewResolver(cfg.Nameservers, cfg.DNSTimeout)
	}
	return lookupTimeout{Resolver: base, timeout: cfg.DNSTimeout}
}

func (env Environment) querier(cfg *Config) checker.DNSQuerier {
	if env.Querier != nil {
		return env.Querier
	}
	return checker.NewDNSClient(cfg.Nameservers, cfg.DNSTimeout)
}

func (env Environment) client() *http.Client {
	if env.HTTPClient != nil {
		return env.HTTPClient
	}
	return checker.NewHTTPClient(true)
}

func (env Environment) wordlist() []string {
	if env.Wordlist != nil {
		return env.Wordlist
	}
	return checker.DefaultWordlist()
}

// lookupTimeout bounds every resolver call by the DNS timeout. The system
// resolver otherwise applies its own, usually longer, deadline.
type lookupTimeout struct {
	checker.Resolver
	timeout time.Duration
}

func (l lookupTimeout) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.Resolver.LookupIPAddr(ctx, host)
}

func (l lookupTimeout) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.Resolver.LookupMX(ctx, name)
}

func (l lookupTimeout) LookupTXT(ctx context.Context, name string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.Resolver.LookupTXT(ctx, name)
}

func (l lookupTimeout) LookupNS(ctx context.Context, name string) ([]*net.NS, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.Resolver.LookupNS(ctx, name)
}

// fetchTimeout bounds each takeover body fetch by the HTTP timeout.
type fetchTimeout struct {
	checker.BodyFetcher
	timeout time.Duration
}

func (f fetchTimeout) FetchBody(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.BodyFetcher.FetchBody(ctx, host)
}

func waves(n, width int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration((n + width - 1) / width)
}

func httpBudget(cfg *Config, _ Inputs) time.Duration { return cfg.Timeout }

func dnsBudget(cfg *Config, _ Inputs) time.Duration { return cfg.DNSTimeout + budgetSlack }

func portsBudget(cfg *Config, _ Inputs) time.Duration {
	candidates, err := cfg.Candidates()
	if err != nil {
		return cfg.DNSTimeout + budgetSlack
	}
	return waves(len(candidates), cfg.Concurrency)*consts.PortConnectTimeout + cfg.DNSTimeout + budgetSlack
}

func takeoverCandidates(cfg *Config, in Inputs) []string {
	subs, _ := in.Subdomains.Value()
	return checker.TakeoverCandidates(cfg.Domain, subs.Hostnames(), in.DNS.IsSuccess())
}

// DefaultRegistry wires every built-in probe. Takeover runs after the
// subdomain and DNS probes and reuses their results.
func DefaultRegistry(env Environment) *Registry {
	reg := &Registry{}
	now := env.Now
	if now == nil {
		now = time.Now
	}

	Register(reg, Slot[checker.PortScanResult]{
		Probe: NewProbe(ProbePorts, func(ctx context.Context, cfg *Config, _ Inputs) (checker.PortScanResult, error) {
			candidates, err := cfg.Candidates()
			if err != nil {
				return checker.PortScanResult{}, err
			}
			scanner := &checker.PortScanner{
				Resolver:    env.resolver(cfg),
				Backend:     env.PortBackend,
				Concurrency: cfg.Concurrency,
			}
			return scanner.Scan(ctx, cfg.Domain, cfg.PortProfile, candidates)
		}),
		Enabled: func(c *Config) bool { return c.Ports },
		Budget:  portsBudget,
		Field:   func(r *Report) *Outcome[checker.PortScanResult] { return &r.Ports },
	})

	Register(reg, Slot[checker.TLSResult]{
		Probe: NewProbe(ProbeTLS, func(ctx context.Context, cfg *Config, _ Inputs) (checker.TLSResult, error) {
			return (&checker.TLSChecker{Port: env.TLSPort, Now: now}).Run(ctx, cfg.Domain)
		}),
		Enabled: func(c *Config) bool { return c.TLS },
		Budget:  httpBudget,
		Field:   func(r *Report) *Outcome[checker.TLSResult] { return &r.TLS },
	})

	Register(reg, Slot[checker.HeaderResult]{
		Probe: NewProbe(ProbeHeaders, func(ctx context.Context, cfg *Config, _ Inputs) (checker.HeaderResult, error) {
			return (&checker.HeadersChecker{Client: env.client()}).Run(ctx, cfg.BaseURL())
		}),
		Enabled: func(c *Config) bool { return c.Headers },
		Budget:  httpBudget,
		Field:   func(r *Report) *Outcome[checker.HeaderResult] { return &r.Headers },
	})

	Register(reg, Slot[checker.DNSResult]{
		Probe: NewProbe(ProbeDNS, func(ctx context.Context, cfg *Config, _ Inputs) (checker.DNSResult, error) {
			return (&checker.DNSChecker{Resolver: env.resolver(cfg)}).Run(ctx, cfg.Domain)
		}),
		Enabled: func(c *Config) bool { return c.DNS },
		Budget:  dnsBudget,
		Field:   func(r *Report) *Outcome[checker.DNSResult] { return &r.DNS },
	})

	Register(reg, Slot[checker.SubdomainResult]{
		Probe: NewProbe(ProbeSubdomains, func(ctx context.Context, cfg *Config, _ Inputs) (checker.SubdomainResult, error) {
			ct := env.CT
			if ct == nil {
				ct = &checker.CTLogClient{Endpoint: env.CTEndpoint, Client: env.client()}
			}
			sub := &checker.SubdomainChecker{
				CT:       ctTimeout{CTSource: ct, timeout: cfg.Timeout},
				Resolver: env.resolver(cfg),
				Wordlist: env.wordlist(),
			}
			return sub.Run(ctx, cfg.Domain)
		}),
		Enabled: func(c *Config) bool { return c.Subdomains },
		Budget: func(cfg *Config, _ Inputs) time.Duration {
			// One extra wave covers the wildcard probe lookup.
			lookups := (waves(len(env.wordlist()), consts.WordlistLookupConcurrency) + 1) * cfg.DNSTimeout
			return max(cfg.Timeout, lookups) + budgetSlack
		},
		Field: func(r *Report) *Outcome[checker.SubdomainResult] { return &r.Subdomains },
	})

	Register(reg, Slot[checker.CookieResult]{
		Probe: NewProbe(ProbeCookies, func(ctx context.Context, cfg *Config, _ Inputs) (checker.CookieResult, error) {
			return (&checker.CookieChecker{Client: env.client()}).Run(ctx, cfg.BaseURL())
		}),
		Enabled: func(c *Config) bool { return c.Cookies },
		Budget:  httpBudget,
		Field:   func(r *Report) *Outcome[checker.CookieResult] { return &r.Cookies },
	})

	Register(reg, Slot[checker.CORSResult]{
		Probe: NewProbe(ProbeCORS, func(ctx context.Context, cfg *Config, _ Inputs) (checker.CORSResult, error) {
			return (&checker.CORSChecker{Client: env.client()}).Run(ctx, cfg.BaseURL())
		}),
		Enabled: func(c *Config) bool { return c.CORS },
		Budget:  httpBudget,
		Field:   func(r *Report) *Outcome[checker.CORSResult] { return &r.CORS },
	})

	Register(reg, Slot[checker.FingerprintResult]{
		Probe: NewProbe(ProbeFingerprint, func(ctx context.Context, cfg *Config, _ Inputs) (checker.FingerprintResult, error) {
			return (&checker.FingerprintChecker{Client: env.client()}).Run(ctx, cfg.BaseURL())
		}),
		Enabled: func(c *Config) bool { return c.Fingerprint },
		Budget:  httpBudget,
		Field:   func(r *Report) *Outcome[checker.FingerprintResult] { return &r.Fingerprint },
	})

	Register(reg, Slot[checker.PreviewResult]{
		Probe: NewProbe(ProbePreview, func(ctx context.Context, cfg *Config, _ Inputs) (checker.PreviewResult, error) {
			return (&checker.PreviewChecker{Client: env.client()}).Run(ctx, cfg.BaseURL())
		}),
		Enabled: func(c *Config) bool { return c.Preview },
		Budget:  httpBudget,
		Field:   func(r *Report) *Outcome[checker.PreviewResult] { return &r.Preview },
	})

	Register(reg, Slot[checker.TakeoverResult]{
		Probe: NewProbe(ProbeTakeover, func(ctx context.Context, cfg *Config, in Inputs) (checker.TakeoverResult, error) {
			if !in.Subdomains.IsSuccess() {
				return checker.TakeoverResult{}, fmt.Errorf("%w: %s: %s", sharedErrors.ErrDependency, ProbeSubdomains, in.Subdomains.Reason())
			}
			providers := env.Providers
			if providers == nil {
				var err error
				if providers, err = checker.DefaultProviders(); err != nil {
					return checker.TakeoverResult{}, err
				}
			}
			tk := &checker.TakeoverChecker{
				Providers: providers,
				CNAMEs:    cnameResolver{querier: env.querier(cfg)},
				Bodies:    fetchTimeout{BodyFetcher: &checker.HTTPBodyFetcher{Client: takeoverClient(env)}, timeout: cfg.Timeout},
			}
			return tk.Run(ctx, takeoverCandidates(cfg, in))
		}),
		Enabled: func(c *Config) bool { return c.Takeover && c.Subdomains },
		After:   []string{ProbeSubdomains, ProbeDNS},
		Budget: func(cfg *Config, in Inputs) time.Duration {
			n := len(takeoverCandidates(cfg, in))
			return waves(n, consts.TakeoverCheckConcurrency)*(cfg.DNSTimeout+cfg.Timeout) + budgetSlack
		},
		Field: func(r *Report) *Outcome[checker.TakeoverResult] { return &r.Takeover },
	})

	Register(reg, Slot[checker.SecurityTxtResult]{
		Probe: NewProbe(ProbeSecurityTxt, func(ctx context.Context, cfg *Config, _ Inputs) (checker.SecurityTxtResult, error) {
			return (&checker.SecurityTxtChecker{Client: env.client(), Now: now}).Run(ctx, cfg.BaseURL())
		}),
		Enabled: func(c *Config) bool { return c.SecurityTxt },
		// Two locations are tried in sequence.
		Budget: func(cfg *Config, _ Inputs) time.Duration { return 2 * cfg.Timeout },
		Field:  func(r *Report) *Outcome[checker.SecurityTxtResult] { return &r.SecurityTxt },
	})

	Register(reg, Slot[checker.MixedContentResult]{
		Probe: NewProbe(ProbeMixedContent, func(ctx context.Context, cfg *Config, _ Inputs) (checker.MixedContentResult, error) {
			return (&checker.MixedContentChecker{Client: env.client()}).Run(ctx, cfg.BaseURL())
		}),
		Enabled: func(c *Config) bool { return c.MixedContent },
		Budget:  httpBudget,
		Field:   func(r *Report) *Outcome[checker.MixedContentResult] { return &r.MixedContent },
	})

	Register(reg, Slot[checker.DNSExtrasResult]{
		Probe: NewProbe(ProbeDNSExtras, func(ctx context.Context, cfg *Config, _ Inputs) (checker.DNSExtrasResult, error) {
			return (&checker.DNSExtrasChecker{Querier: env.querier(cfg)}).Run(ctx, cfg.Domain)
		}),
		Enabled: func(c *Config) bool { return c.DNSExtras },
		Budget:  dnsBudget,
		Field:   func(r *Report) *Outcome[checker.DNSExtrasResult] { return &r.DNSExtras },
	})

	Register(reg, Slot[checker.AXFRResult]{
		Probe: NewProbe(ProbeAXFR, func(ctx context.Context, cfg *Config, _ Inputs) (checker.AXFRResult, error) {
			return (&checker.AXFRChecker{Resolver: env.resolver(cfg), Port: env.AXFRPort}).Run(ctx, cfg.Domain)
		}),
		Enabled: func(c *Config) bool { return c.AXFR },
		Budget: func(cfg *Config, _ Inputs) time.Duration {
			return cfg.DNSTimeout + cfg.Timeout + budgetSlack
		},
		Field: func(r *Report) *Outcome[checker.AXFRResult] { return &r.AXFR },
	})

	return reg
}

// takeoverClient never follows redirects: the signature of a deprovisioned
// service is on the first response.
func takeoverClient(env Environment) *http.Client {
	if env.HTTPClient == nil {
		return checker.NewHTTPClient(false)
	}
	client := *env.HTTPClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &client
}

type cnameResolver struct {
	querier checker.DNSQuerier
}

func (c cnameResolver) ResolveCNAME(ctx context.Context, host string) (checker.CNAMEInfo, error) {
	return checker.ResolveCNAME(ctx, c.querier, host)
}

// ctTimeout bounds the CT log query by the HTTP timeout.
type ctTimeout struct {
	checker.CTSource
	timeout time.Duration
}

func (c ctTimeout) Lookup(ctx context.Context, domain string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.CTSource.Lookup(ctx, domain)
}
