package checker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// CORSProbeOrigin is sent as Origin so reflected values can be detected.
const CORSProbeOrigin = "https://sscan-cors-probe.example"

// CORSResult describes the cross-origin policy returned for a foreign Origin.
type CORSResult struct {
	URL              string   `json:"url"`
	ProbeOrigin      string   `json:"probe_origin"`
	AllowOrigin      string   `json:"allow_origin,omitempty"`
	AllowCredentials bool     `json:"allow_credentials"`
	AllowMethods     string   `json:"allow_methods,omitempty"`
	AllowHeaders     string   `json:"allow_headers,omitempty"`
	ExposeHeaders    string   `json:"expose_headers,omitempty"`
	VaryOrigin       bool     `json:"vary_origin"`
	AllowsAnyOrigin  bool     `json:"allows_any_origin"`
	ReflectsOrigin   bool     `json:"reflects_origin"`
	Severity         string   `json:"severity"`
	Risks            []string `json:"risks"`
	Recommendation   *string  `json:"recommendation"`
}

// Summary renders a one-line description of the result.
func (r CORSResult) Summary() string {
	if r.AllowOrigin == "" {
		return "no CORS headers for foreign origin"
	}
	return fmt.Sprintf("allow-origin %q, credentials %t, %d risks", r.AllowOrigin, r.AllowCredentials, len(r.Risks))
}

// CORSChecker requests a page with a foreign Origin header.
type CORSChecker struct {
	Client *http.Client
}

// Run performs the request and analyzes the CORS response headers.
func (c *CORSChecker) Run(ctx context.Context, target string) (CORSResult, error) {
	client := c.Client
	if client == nil {
		client = NewHTTPClient(true)
	}
	page, err := fetchPage(ctx, client, target, 0, http.Header{"Origin": {CORSProbeOrigin}})
	if err != nil {
		return CORSResult{}, err
	}
	result := AnalyzeCORS(page.Header, CORSProbeOrigin)
	result.URL = page.FinalURL
	return result, nil
}

// AnalyzeCORS inspects CORS headers for insecure defaults (OWASP A5:2021).
func AnalyzeCORS(headers http.Header, probeOrigin string) CORSResult {
	result := CORSResult{
		ProbeOrigin:      probeOrigin,
		AllowOrigin:      strings.TrimSpace(headers.Get("Access-Control-Allow-Origin")),
		AllowMethods:     headers.Get("Access-Control-Allow-Methods"),
		AllowHeaders:     headers.Get("Access-Control-Allow-Headers"),
		ExposeHeaders:    headers.Get("Access-Control-Expose-Headers"),
		AllowCredentials: strings.EqualFold(strings.TrimSpace(headers.Get("Access-Control-Allow-Credentials")), "true"),
		VaryOrigin:       varyIncludesOrigin(headers.Values("Vary")),
		Severity:         SeverityInfo,
		Risks:            []string{},
	}
	raise := func(severity string) {
		if severityRank(severity) > severityRank(result.Severity) {
			result.Severity = severity
		}
	}

	switch {
	case result.AllowOrigin == "":
		result.Recommendation = stringPtr("Set strict CORS only if cross-origin access is required")
		return result
	case result.AllowOrigin == "*":
		result.AllowsAnyOrigin = true
		result.Risks = append(result.Risks, "CORS allows any origin (*)")
		raise(SeverityMedium)
		if result.AllowCredentials {
			result.Risks = append(result.Risks, "Wildcard allow-origin with credentials can expose user data")
			raise(SeverityHigh)
		}
	case strings.EqualFold(result.AllowOrigin, probeOrigin):
		result.ReflectsOrigin = true
		result.Risks = append(result.Risks, "Arbitrary Origin is reflected in Access-Control-Allow-Origin")
		raise(SeverityHigh)
		if result.AllowCredentials {
			result.Risks = append(result.Risks, "Reflected origin with credentials lets any site read authenticated responses")
			raise(SeverityCritical)
		}
	case result.AllowOrigin == "null":
		result.Risks = append(result.Risks, "Allow-origin 'null' can be obtained by sandboxed iframes")
		raise(SeverityMedium)
	}

	if strings.Contains(result.AllowHeaders, "*") {
		result.Risks = append(result.Risks, "Access-Control-Allow-Headers allows any header (*)")
		raise(SeverityLow)
	}
	if strings.Contains(result.ExposeHeaders, "*") {
		result.Risks = append(result.Risks, "Access-Control-Expose-Headers exposes all headers (*)")
		raise(SeverityLow)
	}
	if !result.AllowsAnyOrigin && !result.VaryOrigin {
		result.Risks = append(result.Risks, "Vary: Origin header missing (responses may be cached incorrectly)")
		raise(SeverityLow)
	}
	if len(result.Risks) > 0 {
		result.Recommendation = stringPtr("Restrict Access-Control-Allow-Origin to an explicit allow-list and send Vary: Origin")
	}
	return result
}

func varyIncludesOrigin(values []string) bool {
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "origin") {
				return true
			}
		}
	}
	return false
}

func severityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
