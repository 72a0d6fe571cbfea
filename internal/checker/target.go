package checker

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

// TargetInfo contains parsed target information
type TargetInfo struct {
	Scheme string // http or https, defaults to https
	Host   string // Lowercased hostname (without protocol, path, port, trailing dot)
}

var hostnameLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ParseTarget parses a target string into structured components.
// This handles various input formats:
//   - example.com
//   - https://Example.com/path
//   - http://example.com:8080
//   - example.com:8443
func ParseTarget(target string) *TargetInfo {
	target = strings.TrimSpace(target)
	info := &TargetInfo{Scheme: "https"}

	// A scheme containing dots is really a host ("example.com:8080")
	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" || strings.Contains(parsed.Scheme, ".") {
		parsed, err = url.Parse("https://" + target)
	} else {
		info.Scheme = strings.ToLower(parsed.Scheme)
	}

	if err == nil && parsed != nil {
		info.Host = parsed.Hostname()
	}

	if info.Host == "" {
		host := strings.TrimPrefix(strings.TrimPrefix(target, "http://"), "https://")
		host = strings.Split(host, "/")[0]
		info.Host = strings.Split(host, ":")[0]
	}

	info.Host = strings.TrimSuffix(strings.ToLower(info.Host), ".")
	return info
}

// ValidHostname reports whether host is a syntactically valid DNS hostname.
// IP literals are rejected.
func ValidHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	if net.ParseIP(host) != nil {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if !hostnameLabel.MatchString(label) {
			return false
		}
	}
	return true
}

// isSubdomainOf reports whether name sits strictly below domain.
func isSubdomainOf(name, domain string) bool {
	return len(name) > len(domain)+1 && strings.HasSuffix(name, "."+domain)
}
