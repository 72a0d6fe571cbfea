package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
)

// Subdomain discovery sources.
const (
	SourceCTLog    = "ct_log"
	SourceWordlist = "wordlist"
)

// DefaultCTEndpoint is the certificate transparency search service.
const DefaultCTEndpoint = "https://crt.sh/"

// ctLogLimiter is shared by every CTLogClient in the process so parallel
// scans stay polite towards the public CT search service.
var ctLogLimiter = rate.NewLimiter(rate.Limit(2), 1)

// Subdomain is one discovered name and the sources that reported it.
type Subdomain struct {
	Hostname string   `json:"hostname"`
	Sources  []string `json:"sources"`
}

// SubdomainResult lists discovered subdomains sorted by hostname.
type SubdomainResult struct {
	Domain     string      `json:"domain"`
	Subdomains []Subdomain `json:"subdomains"`
	Count      int         `json:"count"`
	Wildcard   bool        `json:"wildcard_dns"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Summary renders a one-line description of the result.
func (r SubdomainResult) Summary() string {
	s := fmt.Sprintf("%d subdomains", r.Count)
	if len(r.Warnings) > 0 {
		s += fmt.Sprintf(" (%d warnings)", len(r.Warnings))
	}
	return s
}

// Hostnames returns the discovered names in order.
func (r SubdomainResult) Hostnames() []string {
	out := make([]string, 0, len(r.Subdomains))
	for _, s := range r.Subdomains {
		out = append(out, s.Hostname)
	}
	return out
}

// CTSource enumerates names from certificate transparency logs.
type CTSource interface {
	Lookup(ctx context.Context, domain string) ([]string, error)
}

// CTLogClient queries a crt.sh compatible JSON endpoint.
type CTLogClient struct {
	Endpoint string
	Client   *http.Client
	Limiter  *rate.Limiter
}

type ctEntry struct {
	NameValue  string `json:"name_value"`
	CommonName string `json:"common_name"`
}

// Lookup returns every name logged for certificates under domain.
func (c *CTLogClient) Lookup(ctx context.Context, domain string) ([]string, error) {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultCTEndpoint
	}
	limiter := c.Limiter
	if limiter == nil {
		limiter = ctLogLimiter
	}
	client := c.Client
	if client == nil {
		client = NewHTTPClient(true)
	}
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("q", "%."+domain)
	query.Set("output", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", consts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ct log returned status %d", resp.StatusCode)
	}

	var entries []ctEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode ct log response: %w", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.Split(e.NameValue, "\n")...)
		if e.CommonName != "" {
			names = append(names, e.CommonName)
		}
	}
	return names, nil
}

// SubdomainChecker merges CT log names with wordlist guesses that resolve.
type SubdomainChecker struct {
	CT       CTSource
	Resolver Resolver
	Wordlist []string
	Limiter  *Limiter
}

// Run queries both sources concurrently. A failing source becomes a warning;
// the probe fails only if both do.
func (c *SubdomainChecker) Run(ctx context.Context, domain string) (SubdomainResult, error) {
	var (
		ctNames, wordNames []string
		ctErr, wordErr     error
		wildcard           bool
	)
	var wg conc.WaitGroup
	if c.CT != nil {
		wg.Go(func() {
			ctNames, ctErr = c.CT.Lookup(ctx, domain)
		})
	}
	wg.Go(func() {
		wordNames, wildcard, wordErr = c.bruteforce(ctx, domain)
	})
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return SubdomainResult{}, err
	}
	if ctErr != nil && wordErr != nil {
		return SubdomainResult{}, errors.Join(ctErr, wordErr)
	}

	result := SubdomainResult{Domain: domain, Wildcard: wildcard}
	if ctErr != nil {
		result.Warnings = append(result.Warnings, "ct_log source failed: "+ctErr.Error())
	}
	if wordErr != nil {
		result.Warnings = append(result.Warnings, "wordlist source failed: "+wordErr.Error())
	}
	if wildcard {
		result.Warnings = append(result.Warnings, "wildcard DNS detected; wordlist results were discarded")
	}

	sources := make(map[string]map[string]struct{})
	add := func(name, source string) {
		name = normalizeCandidate(name)
		if !isSubdomainOf(name, domain) || !ValidHostname(name) {
			return
		}
		if sources[name] == nil {
			sources[name] = make(map[string]struct{}, 2)
		}
		sources[name][source] = struct{}{}
	}
	for _, name := range ctNames {
		add(name, SourceCTLog)
	}
	for _, name := range wordNames {
		add(name, SourceWordlist)
	}

	result.Subdomains = make([]Subdomain, 0, len(sources))
	for name, set := range sources {
		entry := Subdomain{Hostname: name}
		for _, s := range []string{SourceCTLog, SourceWordlist} {
			if _, ok := set[s]; ok {
				entry.Sources = append(entry.Sources, s)
			}
		}
		result.Subdomains = append(result.Subdomains, entry)
	}
	sort.Slice(result.Subdomains, func(i, j int) bool {
		return result.Subdomains[i].Hostname < result.Subdomains[j].Hostname
	})
	result.Count = len(result.Subdomains)
	return result, nil
}

// bruteforce resolves wordlist labels under the lookup limiter. A random
// label is resolved first; if it answers, the zone is a wildcard and the
// guesses carry no signal.
func (c *SubdomainChecker) bruteforce(ctx context.Context, domain string) ([]string, bool, error) {
	if len(c.Wordlist) == 0 {
		return nil, false, nil
	}
	probe := "sscan-" + uuid.NewString()[:8] + "." + domain
	if addrs, err := c.Resolver.LookupIPAddr(ctx, probe); err == nil && len(addrs) > 0 {
		return nil, true, nil
	}

	limiter := c.Limiter
	if limiter == nil {
		limiter = NewLimiter(consts.WordlistLookupConcurrency)
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		found    []string
		failures int
		lastErr  error
	)
	for _, label := range c.Wordlist {
		if err := limiter.Acquire(ctx); err != nil {
			break
		}
		name := label + "." + domain
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer limiter.Release()
			addrs, err := c.Resolver.LookupIPAddr(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && len(addrs) > 0:
				found = append(found, name)
			case err != nil && !isNotFound(err):
				failures++
				lastErr = err
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if failures == len(c.Wordlist) {
		return nil, false, fmt.Errorf("all %d lookups failed: %w", failures, lastErr)
	}
	return found, false, nil
}

func normalizeCandidate(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "*.")
	return strings.TrimSuffix(name, ".")
}
