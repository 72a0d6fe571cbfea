package checker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// CookieInfo describes the security attributes of one Set-Cookie.
type CookieInfo struct {
	Name     string   `json:"name"`
	Secure   bool     `json:"secure"`
	HTTPOnly bool     `json:"http_only"`
	SameSite string   `json:"same_site,omitempty"`
	Severity string   `json:"severity"`
	Issues   []string `json:"issues,omitempty"`
}

// CookieResult lists the cookies set by the landing page.
type CookieResult struct {
	URL      string       `json:"url"`
	Cookies  []CookieInfo `json:"cookies"`
	Insecure int          `json:"insecure_count"`
}

// Summary renders a one-line description of the result.
func (r CookieResult) Summary() string {
	return fmt.Sprintf("%d cookies, %d with issues", len(r.Cookies), r.Insecure)
}

// CookieChecker fetches a page and inspects every cookie it sets.
type CookieChecker struct {
	Client *http.Client
}

// Run fetches target and analyzes its cookies.
func (c *CookieChecker) Run(ctx context.Context, target string) (CookieResult, error) {
	client := c.Client
	if client == nil {
		client = NewHTTPClient(true)
	}
	page, err := fetchPage(ctx, client, target, 0, nil)
	if err != nil {
		return CookieResult{}, err
	}
	return AnalyzeCookies(page.FinalURL, page.Cookies), nil
}

// AnalyzeCookies inspects cookies for missing Secure/HttpOnly/SameSite flags.
func AnalyzeCookies(pageURL string, cookies []*http.Cookie) CookieResult {
	result := CookieResult{URL: pageURL, Cookies: make([]CookieInfo, 0, len(cookies))}
	httpsPage := strings.HasPrefix(strings.ToLower(pageURL), "https://")

	for _, cookie := range cookies {
		info := CookieInfo{
			Name:     cookie.Name,
			Secure:   cookie.Secure,
			HTTPOnly: cookie.HttpOnly,
			SameSite: sameSiteString(cookie.SameSite),
			Severity: SeverityInfo,
		}
		if !cookie.Secure {
			info.Issues = append(info.Issues, "Missing Secure")
			if httpsPage {
				info.Severity = SeverityMedium
			} else {
				info.Severity = SeverityLow
			}
		}
		if !cookie.HttpOnly {
			info.Issues = append(info.Issues, "Missing HttpOnly")
			if looksLikeSession(cookie.Name) {
				info.Severity = SeverityHigh
			} else if info.Severity == SeverityInfo {
				info.Severity = SeverityLow
			}
		}
		switch {
		case info.SameSite == "":
			info.Issues = append(info.Issues, "Missing SameSite")
			if info.Severity == SeverityInfo {
				info.Severity = SeverityLow
			}
		case info.SameSite == "None" && !cookie.Secure:
			info.Issues = append(info.Issues, "SameSite=None without Secure is rejected by modern browsers")
			if info.Severity != SeverityHigh {
				info.Severity = SeverityMedium
			}
		}
		if len(info.Issues) > 0 {
			result.Insecure++
		}
		result.Cookies = append(result.Cookies, info)
	}
	return result
}

func sameSiteString(mode http.SameSite) string {
	switch mode {
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}

var sessionCookieHints = []string{"sess", "sid", "auth", "token", "jwt", "login"}

func looksLikeSession(name string) bool {
	name = strings.ToLower(name)
	for _, hint := range sessionCookieHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}
