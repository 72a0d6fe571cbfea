package checker

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// HeaderTableVersion identifies the scoring table below. Bump it whenever
// points, rules, or grade bands change so stored reports stay comparable.
const HeaderTableVersion = "2025.1"

// HeaderRule defines how one security header is scored.
type HeaderRule struct {
	Name           string
	Severity       string
	MaxPoints      int
	Evaluate       func(value string) (quality int, issues []string) // quality in [0,100]
	Recommendation string
}

// GradeBand maps a minimum normalized score to a letter grade.
type GradeBand struct {
	Min   int
	Grade string
}

// HeaderTable is an ordered scoring table. Findings follow rule order.
type HeaderTable struct {
	Version string
	Rules   []HeaderRule
	Bands   []GradeBand // descending by Min; the last band must have Min 0
}

// DefaultHeaderTable is the built-in scoring table.
var DefaultHeaderTable = &HeaderTable{
	Version: HeaderTableVersion,
	Rules: []HeaderRule{
		{
			Name:           "Content-Security-Policy",
			Severity:       SeverityHigh,
			MaxPoints:      25,
			Evaluate:       checkCSP,
			Recommendation: "Implement a strict Content-Security-Policy (e.g., \"default-src 'self'; object-src 'none'; base-uri 'self'\")",
		},
		{
			Name:           "Strict-Transport-Security",
			Severity:       SeverityHigh,
			MaxPoints:      25,
			Evaluate:       checkHSTS,
			Recommendation: "Add 'Strict-Transport-Security: max-age=31536000; includeSubDomains; preload'",
		},
		{
			Name:           "X-Content-Type-Options",
			Severity:       SeverityMedium,
			MaxPoints:      15,
			Evaluate:       checkXContentTypeOptions,
			Recommendation: "Add 'X-Content-Type-Options: nosniff'",
		},
		{
			Name:           "X-Frame-Options",
			Severity:       SeverityMedium,
			MaxPoints:      15,
			Evaluate:       checkXFrameOptions,
			Recommendation: "Add 'X-Frame-Options: DENY' or 'SAMEORIGIN' (or CSP frame-ancestors)",
		},
		{
			Name:           "Referrer-Policy",
			Severity:       SeverityLow,
			MaxPoints:      10,
			Evaluate:       checkReferrerPolicy,
			Recommendation: "Add 'Referrer-Policy: strict-origin-when-cross-origin' or 'no-referrer'",
		},
		{
			Name:           "Permissions-Policy",
			Severity:       SeverityLow,
			MaxPoints:      10,
			Evaluate:       checkPermissionsPolicy,
			Recommendation: "Add 'Permissions-Policy' to restrict browser features (e.g., 'geolocation=(), microphone=(), camera=()')",
		},
	},
	Bands: []GradeBand{
		{Min: 95, Grade: "A+"},
		{Min: 85, Grade: "A"},
		{Min: 70, Grade: "B"},
		{Min: 55, Grade: "C"},
		{Min: 40, Grade: "D"},
		{Min: 0, Grade: "F"},
	},
}

// Finding statuses.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusWeak    = "weak"
)

// HeaderFinding is the graded state of one table entry.
type HeaderFinding struct {
	Header         string   `json:"header"`
	Status         string   `json:"status"`
	Value          string   `json:"value,omitempty"`
	Points         int      `json:"points"`
	MaxPoints      int      `json:"max_points"`
	Severity       string   `json:"severity"`
	Issues         []string `json:"issues,omitempty"`
	Recommendation *string  `json:"recommendation"`
}

// HeaderResult is the outcome of grading one response.
type HeaderResult struct {
	URL          string            `json:"url,omitempty"`
	StatusCode   int               `json:"status_code,omitempty"`
	Headers      map[string]string `json:"headers"`
	Score        int               `json:"score"`
	Grade        string            `json:"grade"`
	Findings     []HeaderFinding   `json:"findings"`
	Warnings     []string          `json:"warnings,omitempty"`
	TableVersion string            `json:"table_version"`
}

// Summary renders a one-line description of the result.
func (r HeaderResult) Summary() string {
	weak := 0
	absent := 0
	for _, f := range r.Findings {
		switch f.Status {
		case StatusWeak:
			weak++
		case StatusAbsent:
			absent++
		}
	}
	return fmt.Sprintf("grade %s (%d/100), %d absent, %d weak", r.Grade, r.Score, absent, weak)
}

// informationDisclosureHeaders lists headers that should be removed/obfuscated
var informationDisclosureHeaders = []string{
	"Server",
	"X-Powered-By",
	"X-AspNet-Version",
	"X-AspNetMvc-Version",
}

// HeaderMap flattens an http.Header into canonical keys, last value wins.
func HeaderMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		out[http.CanonicalHeaderKey(key)] = values[len(values)-1]
	}
	return out
}

// GradeHeaders grades a header map with DefaultHeaderTable.
func GradeHeaders(headers map[string]string) HeaderResult {
	return DefaultHeaderTable.Grade(headers)
}

// Grade scores headers against the table. Keys are matched case-insensitively;
// when several keys differ only in case, the one sorting last wins.
func (t *HeaderTable) Grade(headers map[string]string) HeaderResult {
	normalized := normalizeHeaderMap(headers)
	result := HeaderResult{
		Headers:      normalized,
		Findings:     make([]HeaderFinding, 0, len(t.Rules)),
		TableVersion: t.Version,
	}

	total := 0
	maxTotal := 0
	for _, rule := range t.Rules {
		maxTotal += rule.MaxPoints
		finding := HeaderFinding{
			Header:    rule.Name,
			MaxPoints: rule.MaxPoints,
			Severity:  rule.Severity,
		}

		value, ok := normalized[http.CanonicalHeaderKey(rule.Name)]
		value = strings.TrimSpace(value)
		switch {
		case !ok || value == "":
			finding.Status = StatusAbsent
			finding.Recommendation = stringPtr(rule.Recommendation)
		default:
			quality, issues := rule.Evaluate(value)
			quality = max(0, min(100, quality))
			finding.Value = value
			finding.Points = int(math.Round(float64(rule.MaxPoints) * float64(quality) / 100))
			finding.Issues = issues
			if finding.Points >= rule.MaxPoints {
				finding.Status = StatusPresent
			} else {
				finding.Status = StatusWeak
				finding.Recommendation = stringPtr(rule.Recommendation)
			}
		}
		total += finding.Points
		result.Findings = append(result.Findings, finding)
	}

	if maxTotal > 0 {
		result.Score = int(math.Round(float64(total) * 100 / float64(maxTotal)))
	}
	result.Grade = t.gradeFor(result.Score)
	result.Warnings = append(checkDeprecatedHeaders(normalized), checkInformationDisclosure(normalized)...)
	return result
}

func (t *HeaderTable) gradeFor(score int) string {
	for _, band := range t.Bands {
		if score >= band.Min {
			return band.Grade
		}
	}
	return "F"
}

func normalizeHeaderMap(headers map[string]string) map[string]string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(headers))
	for _, k := range keys {
		out[http.CanonicalHeaderKey(k)] = headers[k]
	}
	return out
}

// HeadersChecker fetches the landing page and grades its response headers.
type HeadersChecker struct {
	Client *http.Client
	Table  *HeaderTable // nil uses DefaultHeaderTable
}

// Run grades the headers served at target.
func (c *HeadersChecker) Run(ctx context.Context, target string) (HeaderResult, error) {
	client := c.Client
	if client == nil {
		client = NewHTTPClient(true)
	}
	table := c.Table
	if table == nil {
		table = DefaultHeaderTable
	}

	page, err := fetchPage(ctx, client, target, 0, nil)
	if err != nil {
		return HeaderResult{}, err
	}
	result := table.Grade(HeaderMap(page.Header))
	result.URL = page.FinalURL
	result.StatusCode = page.StatusCode
	return result, nil
}

// checkHSTS validates the Strict-Transport-Security header
func checkHSTS(value string) (int, []string) {
	issues := []string{}
	quality := 100
	directives := parseDirectives(value, ";")

	maxAge, hasMaxAge := directives["max-age"]
	age, err := strconv.ParseInt(strings.Trim(maxAge, `"`), 10, 64)
	switch {
	case !hasMaxAge || err != nil:
		return 0, []string{"Missing or invalid 'max-age' directive (header is ignored by browsers)"}
	case age == 0:
		return 0, []string{"max-age is set to 0 (HSTS disabled)"}
	case age < 15552000:
		issues = append(issues, "max-age below 6 months; use at least 31536000 (1 year)")
		quality -= 20
	}

	if _, ok := directives["includesubdomains"]; !ok {
		issues = append(issues, "Missing 'includeSubDomains' directive")
		quality -= 25
	}
	if _, ok := directives["preload"]; !ok {
		issues = append(issues, "Missing 'preload' directive")
		quality -= 10
	}
	return quality, issues
}

// checkCSP validates the Content-Security-Policy header
func checkCSP(value string) (int, []string) {
	issues := []string{}
	quality := 100
	directives := parseCSPDirectives(strings.ToLower(value))

	_, hasDefault := directives["default-src"]
	scriptTokens, hasScript := directives["script-src"]
	if !hasScript {
		scriptTokens = directives["default-src"]
	}
	if !hasDefault {
		issues = append(issues, "Missing 'default-src' directive (no fallback for unlisted resource types)")
		quality -= 15
		if !hasScript {
			issues = append(issues, "No 'script-src' or 'default-src' restricts scripts")
			quality -= 25
		}
	}

	for _, token := range scriptTokens {
		switch {
		case token == "'unsafe-inline'":
			issues = append(issues, "Script sources allow 'unsafe-inline' which weakens CSP protection")
			quality -= 30
		case token == "'unsafe-eval'":
			issues = append(issues, "Script sources allow 'unsafe-eval' (eval() and similar functions)")
			quality -= 20
		case token == "*":
			issues = append(issues, "Script sources contain wildcard (*) which is too permissive")
			quality -= 20
		case token == "data:" || token == "blob:" || token == "filesystem:":
			issues = append(issues, "Script sources allow "+token+" URLs which can enable CSP bypasses")
			quality -= 10
		case token == "http:" || strings.HasPrefix(token, "http://"):
			issues = append(issues, "Script sources allow insecure http scheme")
			quality -= 10
		}
	}

	for _, token := range directives["style-src"] {
		if token == "'unsafe-inline'" {
			issues = append(issues, "Style sources permit 'unsafe-inline' which weakens CSP")
			quality -= 5
		}
	}
	return quality, issues
}

func parseCSPDirectives(value string) map[string][]string {
	result := make(map[string][]string)
	for _, part := range strings.Split(value, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if _, seen := result[name]; seen {
			// Browsers ignore repeated directives.
			continue
		}
		result[name] = fields[1:]
	}
	return result
}

// parseDirectives splits "a=1; b; c=x" into a lowercased key map.
func parseDirectives(value, sep string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(value, sep) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, _ := strings.Cut(part, "=")
		out[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
	}
	return out
}

// checkXFrameOptions validates the X-Frame-Options header
func checkXFrameOptions(value string) (int, []string) {
	value = strings.ToUpper(strings.TrimSpace(value))
	switch {
	case value == "DENY" || value == "SAMEORIGIN":
		return 100, nil
	case strings.HasPrefix(value, "ALLOW-FROM"):
		return 33, []string{"ALLOW-FROM is deprecated and not supported by modern browsers; use CSP frame-ancestors"}
	default:
		return 0, []string{"Invalid X-Frame-Options value"}
	}
}

// checkXContentTypeOptions validates the X-Content-Type-Options header
func checkXContentTypeOptions(value string) (int, []string) {
	if strings.EqualFold(strings.TrimSpace(value), "nosniff") {
		return 100, nil
	}
	return 0, []string{"Invalid value, should be 'nosniff'"}
}

// checkReferrerPolicy validates the Referrer-Policy header. With a
// comma-separated fallback list the last recognised token applies.
func checkReferrerPolicy(value string) (int, []string) {
	tokens := strings.Split(strings.ToLower(value), ",")
	policy := strings.TrimSpace(tokens[len(tokens)-1])

	switch policy {
	case "no-referrer", "same-origin", "strict-origin", "strict-origin-when-cross-origin":
		return 100, nil
	case "unsafe-url", "origin-when-cross-origin", "no-referrer-when-downgrade":
		return 50, []string{"Policy '" + policy + "' may leak sensitive URLs in the referrer"}
	default:
		return 70, []string{"Unusual or weak referrer policy '" + policy + "'"}
	}
}

// checkPermissionsPolicy validates the Permissions-Policy header
func checkPermissionsPolicy(value string) (int, []string) {
	// Directive-level validation is out of reach; presence is what matters most.
	if len(strings.TrimSpace(value)) < 10 {
		return 70, []string{"Permissions-Policy seems minimal, consider adding more restrictions"}
	}
	return 100, nil
}

// checkDeprecatedHeaders checks for deprecated security headers
func checkDeprecatedHeaders(headers map[string]string) []string {
	var warnings []string
	if xss := headers["X-Xss-Protection"]; xss != "" && strings.TrimSpace(xss) != "0" {
		warnings = append(warnings,
			"X-XSS-Protection is deprecated and may introduce vulnerabilities. Set to '0' or remove it.")
	}
	if headers["Expect-Ct"] != "" {
		warnings = append(warnings, "Expect-CT is deprecated. Remove this header.")
	}
	if headers["Public-Key-Pins"] != "" {
		warnings = append(warnings,
			"Public-Key-Pins (HPKP) is deprecated and dangerous. Remove this header immediately.")
	}
	return warnings
}

// checkInformationDisclosure checks for headers that expose sensitive information
func checkInformationDisclosure(headers map[string]string) []string {
	var warnings []string
	for _, headerName := range informationDisclosureHeaders {
		if value := headers[http.CanonicalHeaderKey(headerName)]; value != "" {
			warnings = append(warnings,
				headerName+" header exposes server information: '"+value+"'. Consider removing or obfuscating.")
		}
	}
	return warnings
}

func stringPtr(s string) *string {
	return &s
}
