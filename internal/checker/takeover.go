package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
)

// Takeover confidence levels.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// TakeoverEvidence is everything observed about one candidate name.
type TakeoverEvidence struct {
	Subdomain string
	CNAME     CNAMEInfo
	Body      string
}

// TakeoverFinding flags a name that may be claimable on a third-party service.
type TakeoverFinding struct {
	Subdomain  string `json:"subdomain"`
	Provider   string `json:"provider"`
	Reason     string `json:"reason"`
	Confidence string `json:"confidence"`
	CNAME      string `json:"cname"`
}

// Match applies the provider signatures to one candidate. A name without a
// CNAME is never flagged.
func (t *ProviderTable) Match(ev TakeoverEvidence) (TakeoverFinding, bool) {
	if len(ev.CNAME.Chain) == 0 {
		return TakeoverFinding{}, false
	}
	finding := TakeoverFinding{
		Subdomain: ev.Subdomain,
		CNAME:     ev.CNAME.Target(),
	}

	if provider, ok := t.providerForChain(ev.CNAME.Chain); ok {
		finding.Provider = provider.Name
		if sig, ok := provider.bodySignature(ev.Body); ok {
			finding.Confidence = ConfidenceHigh
			finding.Reason = fmt.Sprintf("CNAME points to %s and the response contains %q", provider.Name, sig)
			return finding, true
		}
		finding.Confidence = ConfidenceMedium
		finding.Reason = fmt.Sprintf("CNAME points to %s; verify the resource still exists", provider.Name)
		if ev.CNAME.Dangling {
			finding.Reason = fmt.Sprintf("CNAME points to %s and the target %s does not resolve (dangling)", provider.Name, finding.CNAME)
		}
		return finding, true
	}

	for _, provider := range t.Providers {
		if sig, ok := provider.bodySignature(ev.Body); ok {
			finding.Provider = provider.Name
			finding.Confidence = ConfidenceLow
			finding.Reason = fmt.Sprintf("Response contains the %s signature %q but the CNAME %s is not a known %s endpoint",
				provider.Name, sig, finding.CNAME, provider.Name)
			return finding, true
		}
	}
	return TakeoverFinding{}, false
}

func (t *ProviderTable) providerForChain(chain []string) (Provider, bool) {
	for _, name := range chain {
		name = strings.ToLower(strings.TrimSuffix(name, "."))
		for _, provider := range t.Providers {
			for _, suffix := range provider.CNAMESuffixes {
				if name == suffix || strings.HasSuffix(name, "."+suffix) {
					return provider, true
				}
			}
		}
	}
	return Provider{}, false
}

func (p Provider) bodySignature(body string) (string, bool) {
	if body == "" {
		return "", false
	}
	for _, sig := range p.BodySignatures {
		if strings.Contains(body, sig) {
			return sig, true
		}
	}
	return "", false
}

// TakeoverResult summarizes the takeover heuristics over all candidates.
type TakeoverResult struct {
	Checked      int               `json:"checked"`
	Findings     []TakeoverFinding `json:"findings"`
	Warnings     []string          `json:"warnings,omitempty"`
	TableVersion string            `json:"table_version"`
}

// Summary renders a one-line description of the result.
func (r TakeoverResult) Summary() string {
	return fmt.Sprintf("%d candidates checked, %d potential takeovers", r.Checked, len(r.Findings))
}

// CNAMEResolver returns the alias chain of a name.
type CNAMEResolver interface {
	ResolveCNAME(ctx context.Context, host string) (CNAMEInfo, error)
}

// BodyFetcher returns the first bytes served for a host.
type BodyFetcher interface {
	FetchBody(ctx context.Context, host string) (string, error)
}

// HTTPBodyFetcher tries https then http without following redirects.
type HTTPBodyFetcher struct {
	Client *http.Client
}

// FetchBody returns up to BodyFingerprintLimitBytes of the first response.
func (f *HTTPBodyFetcher) FetchBody(ctx context.Context, host string) (string, error) {
	client := f.Client
	if client == nil {
		client = NewHTTPClient(false)
	}
	var lastErr error
	for _, scheme := range []string{"https", "http"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("User-Agent", consts.UserAgent)
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, consts.BodyFingerprintLimitBytes))
		resp.Body.Close()
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return "", err
		}
		return string(body), nil
	}
	return "", lastErr
}

// TakeoverChecker runs the matcher over a candidate list under a bounded
// number of concurrent checks.
type TakeoverChecker struct {
	Providers *ProviderTable
	CNAMEs    CNAMEResolver
	Bodies    BodyFetcher
	Limiter   *Limiter
}

// TakeoverCandidates dedupes subdomains, optionally prepends the apex, and
// caps the list at MaxTakeoverCandidates.
func TakeoverCandidates(domain string, subdomains []string, includeApex bool) []string {
	seen := make(map[string]struct{}, len(subdomains)+1)
	out := make([]string, 0, len(subdomains)+1)
	add := func(name string) {
		name = strings.ToLower(strings.TrimSuffix(name, "."))
		if _, dup := seen[name]; dup || name == "" {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if includeApex {
		add(domain)
	}
	for _, name := range subdomains {
		add(name)
	}
	if len(out) > consts.MaxTakeoverCandidates {
		out = out[:consts.MaxTakeoverCandidates]
	}
	return out
}

// Run checks every candidate. Per-candidate failures become warnings.
func (c *TakeoverChecker) Run(ctx context.Context, candidates []string) (TakeoverResult, error) {
	limiter := c.Limiter
	if limiter == nil {
		limiter = NewLimiter(consts.TakeoverCheckConcurrency)
	}
	result := TakeoverResult{
		Findings:     []TakeoverFinding{},
		TableVersion: c.Providers.Version,
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures int
	)
	for _, name := range candidates {
		if err := limiter.Acquire(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer limiter.Release()

			finding, ok, err := c.check(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			result.Checked++
			if err != nil {
				failures++
				return
			}
			if ok {
				result.Findings = append(result.Findings, finding)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return TakeoverResult{}, err
	}
	sort.Slice(result.Findings, func(i, j int) bool {
		return result.Findings[i].Subdomain < result.Findings[j].Subdomain
	})
	if failures > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("CNAME resolution failed for %d of %d candidates", failures, len(candidates)))
	}
	return result, nil
}

func (c *TakeoverChecker) check(ctx context.Context, name string) (TakeoverFinding, bool, error) {
	info, err := c.CNAMEs.ResolveCNAME(ctx, name)
	if err != nil {
		return TakeoverFinding{}, false, err
	}
	if len(info.Chain) == 0 {
		return TakeoverFinding{}, false, nil
	}
	ev := TakeoverEvidence{Subdomain: name, CNAME: info}
	if !info.Dangling && c.Bodies != nil {
		// Fetch failures only lower the achievable confidence.
		ev.Body, _ = c.Bodies.FetchBody(ctx, name)
	}
	finding, ok := c.Providers.Match(ev)
	return finding, ok, nil
}
