package checker

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
)

// MixedContentResult counts insecure subresources on an https page.
type MixedContentResult struct {
	URL        string         `json:"url"`
	Applicable bool           `json:"applicable"`
	Active     int            `json:"active_count"`
	Passive    int            `json:"passive_count"`
	ByTag      map[string]int `json:"by_tag"`
	Examples   []string       `json:"examples"`
	Severity   string         `json:"severity"`
}

// Summary renders a one-line description of the result.
func (r MixedContentResult) Summary() string {
	if !r.Applicable {
		return "not applicable (page not served over https)"
	}
	return fmt.Sprintf("%d active, %d passive insecure references", r.Active, r.Passive)
}

// MixedContentChecker fetches a page and scans its markup.
type MixedContentChecker struct {
	Client *http.Client
}

// Run analyzes target. Pages that end up on plain http are reported as
// not applicable.
func (c *MixedContentChecker) Run(ctx context.Context, target string) (MixedContentResult, error) {
	client := c.Client
	if client == nil {
		client = NewHTTPClient(true)
	}
	page, err := fetchPage(ctx, client, target, consts.PageBodyLimitBytes, nil)
	if err != nil {
		return MixedContentResult{}, err
	}
	if !strings.HasPrefix(strings.ToLower(page.FinalURL), "https://") {
		return MixedContentResult{URL: page.FinalURL, ByTag: map[string]int{}, Examples: []string{}, Severity: SeverityInfo}, nil
	}
	result := AnalyzeMixedContent(page.Body)
	result.URL = page.FinalURL
	return result, nil
}

// subresourceAttrs maps tags to the attributes that load content and
// whether a plain http load is active (script-capable) content.
var subresourceAttrs = map[atom.Atom]struct {
	attrs  []string
	active bool
}{
	atom.Script: {attrs: []string{"src"}, active: true},
	atom.Iframe: {attrs: []string{"src"}, active: true},
	atom.Object: {attrs: []string{"data"}, active: true},
	atom.Embed:  {attrs: []string{"src"}, active: true},
	atom.Form:   {attrs: []string{"action"}, active: true},
	atom.Img:    {attrs: []string{"src", "srcset"}},
	atom.Audio:  {attrs: []string{"src"}},
	atom.Video:  {attrs: []string{"src", "poster"}},
	atom.Source: {attrs: []string{"src", "srcset"}},
	atom.Track:  {attrs: []string{"src"}},
}

// AnalyzeMixedContent counts http:// subresources in an https document.
func AnalyzeMixedContent(body []byte) MixedContentResult {
	result := MixedContentResult{
		Applicable: true,
		ByTag:      map[string]int{},
		Examples:   []string{},
		Severity:   SeverityInfo,
	}
	seen := make(map[string]struct{})

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()

		rule, ok := subresourceAttrs[tok.DataAtom]
		active := rule.active
		attrs := rule.attrs
		if tok.DataAtom == atom.Link {
			// Only stylesheets and preloads fetch content.
			rel := strings.ToLower(attrValue(tok, "rel"))
			if !strings.Contains(rel, "stylesheet") && !strings.Contains(rel, "preload") && !strings.Contains(rel, "icon") {
				continue
			}
			ok, active, attrs = true, strings.Contains(rel, "stylesheet"), []string{"href"}
		}
		if !ok {
			continue
		}

		for _, name := range attrs {
			for _, ref := range insecureRefs(name, attrValue(tok, name)) {
				result.ByTag[tok.Data]++
				if active {
					result.Active++
				} else {
					result.Passive++
				}
				if _, dup := seen[ref]; !dup && len(result.Examples) < consts.MaxMixedContentExamples {
					seen[ref] = struct{}{}
					result.Examples = append(result.Examples, ref)
				}
			}
		}
	}

	switch {
	case result.Active > 0:
		result.Severity = SeverityHigh
	case result.Passive > 0:
		result.Severity = SeverityLow
	}
	sort.Strings(result.Examples)
	return result
}

func attrValue(tok html.Token, name string) string {
	for _, attr := range tok.Attr {
		if strings.EqualFold(attr.Key, name) {
			return attr.Val
		}
	}
	return ""
}

// insecureRefs returns the http:// URLs in an attribute value; srcset
// values hold several comma-separated candidates.
func insecureRefs(attr, value string) []string {
	candidates := []string{value}
	if attr == "srcset" {
		candidates = strings.Split(value, ",")
	}
	var refs []string
	for _, candidate := range candidates {
		fields := strings.Fields(candidate)
		if len(fields) == 0 {
			continue
		}
		if strings.HasPrefix(strings.ToLower(fields[0]), "http://") {
			refs = append(refs, fields[0])
		}
	}
	return refs
}
