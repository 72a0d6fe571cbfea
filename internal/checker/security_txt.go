package checker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
)

var securityTxtPaths = []string{"/.well-known/security.txt", "/security.txt"}

// SecurityTxtResult holds the parsed RFC 9116 fields.
type SecurityTxtResult struct {
	URL                string     `json:"url"`
	Found              bool       `json:"found"`
	Contacts           []string   `json:"contacts,omitempty"`
	Policy             string     `json:"policy,omitempty"`
	Encryption         []string   `json:"encryption,omitempty"`
	PreferredLanguages string     `json:"preferred_languages,omitempty"`
	Acknowledgments    string     `json:"acknowledgments,omitempty"`
	Canonical          string     `json:"canonical,omitempty"`
	Hiring             string     `json:"hiring,omitempty"`
	Expires            *time.Time `json:"expires,omitempty"`
	Expired            bool       `json:"expired"`
	Warnings           []string   `json:"warnings,omitempty"`
}

// Summary renders a one-line description of the result.
func (r SecurityTxtResult) Summary() string {
	if !r.Found {
		return "not published"
	}
	s := fmt.Sprintf("%d contacts", len(r.Contacts))
	if r.Expired {
		s += ", expired"
	}
	return s
}

// SecurityTxtChecker looks for a security.txt file on the domain.
type SecurityTxtChecker struct {
	Client *http.Client
	Now    func() time.Time
}

// Run tries the well-known location first. A missing file is a successful
// result with Found false.
func (c *SecurityTxtChecker) Run(ctx context.Context, baseURL string) (SecurityTxtResult, error) {
	client := c.Client
	if client == nil {
		client = NewHTTPClient(true)
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	var lastErr error
	reached := false
	for _, path := range securityTxtPaths {
		target := baseURL + path
		page, err := fetchPage(ctx, client, target, consts.SecurityTxtLimitBytes, nil)
		if err != nil {
			if ctx.Err() != nil {
				return SecurityTxtResult{}, ctx.Err()
			}
			lastErr = err
			continue
		}
		reached = true
		if page.StatusCode != http.StatusOK || !looksLikeSecurityTxt(page) {
			continue
		}
		result := ParseSecurityTxt(page.Body, now())
		result.URL = target
		return result, nil
	}
	if !reached {
		return SecurityTxtResult{}, lastErr
	}
	return SecurityTxtResult{URL: baseURL + securityTxtPaths[0]}, nil
}

// looksLikeSecurityTxt rejects soft-404 HTML pages served with status 200.
func looksLikeSecurityTxt(page *Page) bool {
	if strings.Contains(strings.ToLower(page.Header.Get("Content-Type")), "html") {
		return false
	}
	return bytes.Contains(bytes.ToLower(page.Body), []byte("contact:"))
}

// ParseSecurityTxt extracts the known fields and flags expiry problems.
func ParseSecurityTxt(body []byte, now time.Time) SecurityTxtResult {
	result := SecurityTxtResult{Found: true}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(field)) {
		case "contact":
			result.Contacts = append(result.Contacts, value)
		case "policy":
			result.Policy = value
		case "encryption":
			result.Encryption = append(result.Encryption, value)
		case "preferred-languages":
			result.PreferredLanguages = value
		case "acknowledgments", "acknowledgements":
			result.Acknowledgments = value
		case "canonical":
			result.Canonical = value
		case "hiring":
			result.Hiring = value
		case "expires":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				t = t.UTC()
				result.Expires = &t
			} else {
				result.Warnings = append(result.Warnings, "Expires is not an RFC 3339 timestamp: "+value)
			}
		}
	}

	if len(result.Contacts) == 0 {
		result.Warnings = append(result.Warnings, "No Contact field (required by RFC 9116)")
	}
	switch {
	case result.Expires == nil:
		result.Warnings = append(result.Warnings, "No valid Expires field (required by RFC 9116)")
	case result.Expires.Before(now):
		result.Expired = true
		result.Warnings = append(result.Warnings, "security.txt has expired")
	case result.Expires.After(now.AddDate(1, 0, 0)):
		result.Warnings = append(result.Warnings, "Expires is more than a year away; RFC 9116 recommends less")
	}
	return result
}
