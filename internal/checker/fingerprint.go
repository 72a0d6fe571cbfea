package checker

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
)

// edgeSignature identifies a WAF or CDN from lowercased header/cookie text.
type edgeSignature struct {
	vendor string
	tokens []string
}

// Ordered: the first vendor with a matching token wins.
var edgeSignatures = []edgeSignature{
	{vendor: "cloudflare", tokens: []string{"cloudflare", "__cf_bm", "cf-ray"}},
	{vendor: "akamai", tokens: []string{"akamai", "aka-cache", "akamai-ghost", "x-akamai"}},
	{vendor: "fastly", tokens: []string{"fastly", "x-served-by"}},
	{vendor: "cloudfront", tokens: []string{"cloudfront", "x-amz-cf-id"}},
	{vendor: "imperva", tokens: []string{"incap_ses", "visid_incap", "x-iinfo"}},
	{vendor: "sucuri", tokens: []string{"sucuri", "x-sucuri-id"}},
	{vendor: "azure-front-door", tokens: []string{"x-azure-ref"}},
	{vendor: "vercel", tokens: []string{"x-vercel-id"}},
	{vendor: "netlify", tokens: []string{"x-nf-request-id", "netlify"}},
}

// technologyHeaders leak stack details directly.
var technologyHeaders = []string{
	"X-Powered-By",
	"X-AspNet-Version",
	"X-AspNetMvc-Version",
	"X-Generator",
	"X-Drupal-Cache",
	"X-Shopify-Stage",
}

var technologyCookies = map[string]string{
	"PHPSESSID":             "PHP",
	"JSESSIONID":            "Java",
	"ASP.NET_SessionId":     "ASP.NET",
	"laravel_session":       "Laravel",
	"csrftoken":             "Django",
	"_rails_session":        "Ruby on Rails",
	"connect.sid":           "Express",
	"wordpress_test_cookie": "WordPress",
}

// FingerprintResult lists server, edge and technology hints.
type FingerprintResult struct {
	URL          string   `json:"url"`
	Server       string   `json:"server,omitempty"`
	WAFOrCDN     string   `json:"waf_or_cdn,omitempty"`
	Technologies []string `json:"technologies"`
}

// Summary renders a one-line description of the result.
func (r FingerprintResult) Summary() string {
	edge := r.WAFOrCDN
	if edge == "" {
		edge = "none detected"
	}
	return fmt.Sprintf("server %q, edge %s, %d technologies", r.Server, edge, len(r.Technologies))
}

// FingerprintChecker infers the serving stack from response metadata.
type FingerprintChecker struct {
	Client *http.Client
}

// Run fetches target and fingerprints the response.
func (c *FingerprintChecker) Run(ctx context.Context, target string) (FingerprintResult, error) {
	client := c.Client
	if client == nil {
		client = NewHTTPClient(true)
	}
	page, err := fetchPage(ctx, client, target, consts.PreviewBodyLimitBytes, nil)
	if err != nil {
		return FingerprintResult{}, err
	}
	result := Fingerprint(page.Header, page.Body)
	result.URL = page.FinalURL
	return result, nil
}

// Fingerprint derives hints from headers, Set-Cookie names and the
// generator meta tag.
func Fingerprint(header http.Header, body []byte) FingerprintResult {
	result := FingerprintResult{
		Server:       header.Get("Server"),
		Technologies: []string{},
	}

	var blob strings.Builder
	for key, values := range header {
		for _, v := range values {
			blob.WriteString(strings.ToLower(key))
			blob.WriteByte(':')
			blob.WriteString(strings.ToLower(v))
			blob.WriteByte('\n')
		}
	}
	text := blob.String()
	for _, sig := range edgeSignatures {
		if containsAny(text, sig.tokens) {
			result.WAFOrCDN = sig.vendor
			break
		}
	}

	seen := make(map[string]struct{})
	add := func(tech string) {
		if _, dup := seen[tech]; tech == "" || dup {
			return
		}
		seen[tech] = struct{}{}
		result.Technologies = append(result.Technologies, tech)
	}
	for _, name := range technologyHeaders {
		add(header.Get(name))
	}
	resp := http.Response{Header: header}
	for _, cookie := range resp.Cookies() {
		add(technologyCookies[cookie.Name])
	}
	add(metaContent(body, "generator"))
	return result
}

func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}
