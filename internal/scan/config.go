package scan

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/khanhnv2901/sentinelscope/internal/checker"
	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/sentinelscope/internal/shared/errors"
	"golang.org/x/net/publicsuffix"
)

// Port profiles accepted by Config.PortProfile.
const (
	ProfileTop30  = "top30"
	ProfileTop100 = "top100"
	ProfileCustom = "custom"
)

// Config describes one scan. Once returned by Validate it is treated as
// read-only and shared by every probe.
type Config struct {
	Domain string
	// Scheme is used for the HTTP-class probes: http or https.
	Scheme string

	Ports        bool
	Subdomains   bool
	Headers      bool
	TLS          bool
	DNS          bool
	Preview      bool
	CORS         bool
	Cookies      bool
	Fingerprint  bool
	SecurityTxt  bool
	MixedContent bool
	DNSExtras    bool
	Takeover     bool
	AXFR         bool

	PortProfile string
	CustomPorts []int

	Timeout     time.Duration // HTTP-class probes
	DNSTimeout  time.Duration // DNS-class probes
	Concurrency int           // simultaneous port connects

	// Nameservers overrides the system resolver when set (host or host:port).
	Nameservers []string
	// ProbeTimeouts replaces the computed budget of individual probes, keyed
	// by probe name.
	ProbeTimeouts map[string]time.Duration
}

// DefaultConfig returns a configuration with every probe enabled except zone
// transfers, which are opt-in.
func DefaultConfig(target string) Config {
	return Config{
		Domain:       target,
		Scheme:       "https",
		Ports:        true,
		Subdomains:   true,
		Headers:      true,
		TLS:          true,
		DNS:          true,
		Preview:      true,
		CORS:         true,
		Cookies:      true,
		Fingerprint:  true,
		SecurityTxt:  true,
		MixedContent: true,
		DNSExtras:    true,
		Takeover:     true,
		PortProfile:  consts.DefaultPortProfile,
		Timeout:      consts.DefaultTimeout,
		DNSTimeout:   consts.DefaultDNSTimeout,
		Concurrency:  consts.DefaultConcurrency,
	}
}

// DisableAll turns every probe off. Single-probe commands start from here.
func (c *Config) DisableAll() {
	c.Ports, c.Subdomains, c.Headers, c.TLS, c.DNS = false, false, false, false, false
	c.Preview, c.CORS, c.Cookies, c.Fingerprint = false, false, false, false
	c.SecurityTxt, c.MixedContent, c.DNSExtras, c.Takeover, c.AXFR = false, false, false, false, false
}

// ConfigError reports the configuration field that failed validation.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

// Unwrap exposes both ErrInvalidConfig and the specific cause to errors.Is.
func (e *ConfigError) Unwrap() []error {
	return []error{sharedErrors.ErrInvalidConfig, e.Err}
}

// IsConfigError reports whether err came from configuration validation.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// Validate checks c and returns a normalized copy: the domain is reduced to a
// lowercase hostname, the scheme taken from a URL-shaped target, and custom
// ports sorted and deduplicated.
func (c Config) Validate() (*Config, error) {
	out := c
	out.CustomPorts = nil
	out.Nameservers = slices.Clone(c.Nameservers)

	target := checker.ParseTarget(c.Domain)
	if strings.Contains(c.Domain, "://") {
		out.Scheme = target.Scheme
	}
	out.Domain = target.Host
	if !checker.ValidHostname(out.Domain) {
		return nil, &ConfigError{Field: "domain", Err: fmt.Errorf("%w: %q", sharedErrors.ErrInvalidDomain, c.Domain)}
	}
	if isPublicSuffix(out.Domain) {
		return nil, &ConfigError{Field: "domain", Err: fmt.Errorf("%w: %q", sharedErrors.ErrPublicSuffix, out.Domain)}
	}

	out.Scheme = strings.ToLower(out.Scheme)
	if out.Scheme == "" {
		out.Scheme = "https"
	}
	if out.Scheme != "http" && out.Scheme != "https" {
		return nil, &ConfigError{Field: "scheme", Err: sharedErrors.ErrInvalidScheme}
	}

	out.PortProfile = strings.ToLower(strings.TrimSpace(c.PortProfile))
	if out.PortProfile == "" {
		out.PortProfile = consts.DefaultPortProfile
		if len(c.CustomPorts) > 0 {
			out.PortProfile = ProfileCustom
		}
	}
	switch out.PortProfile {
	case ProfileTop30, ProfileTop100:
	case ProfileCustom:
		if len(c.CustomPorts) == 0 {
			return nil, &ConfigError{Field: "custom_ports", Err: sharedErrors.ErrMissingCustomPorts}
		}
		for _, p := range c.CustomPorts {
			if p < 1 || p > 65535 {
				return nil, &ConfigError{Field: "custom_ports", Err: fmt.Errorf("%w: %d", sharedErrors.ErrPortOutOfRange, p)}
			}
		}
		out.CustomPorts = slices.Clone(c.CustomPorts)
		slices.Sort(out.CustomPorts)
		out.CustomPorts = slices.Compact(out.CustomPorts)
	default:
		return nil, &ConfigError{Field: "port_profile", Err: fmt.Errorf("%w: %q", sharedErrors.ErrInvalidPortProfile, c.PortProfile)}
	}

	if out.Timeout <= 0 {
		return nil, &ConfigError{Field: "timeout", Err: sharedErrors.ErrNonPositiveValue}
	}
	if out.DNSTimeout <= 0 {
		return nil, &ConfigError{Field: "dns_timeout", Err: sharedErrors.ErrNonPositiveValue}
	}
	if out.Concurrency <= 0 {
		return nil, &ConfigError{Field: "concurrency", Err: sharedErrors.ErrNonPositiveValue}
	}

	if len(c.ProbeTimeouts) > 0 {
		out.ProbeTimeouts = make(map[string]time.Duration, len(c.ProbeTimeouts))
		for name, d := range c.ProbeTimeouts {
			if d <= 0 {
				return nil, &ConfigError{Field: "probe_timeouts." + name, Err: sharedErrors.ErrNonPositiveValue}
			}
			out.ProbeTimeouts[name] = d
		}
	}
	return &out, nil
}

// Candidates returns the ports the port probe will try.
func (c *Config) Candidates() ([]int, error) {
	if c.PortProfile == ProfileCustom {
		return slices.Clone(c.CustomPorts), nil
	}
	return checker.ProfilePorts(c.PortProfile)
}

// BaseURL is the scheme and host the HTTP-class probes request.
func (c *Config) BaseURL() string {
	return c.Scheme + "://" + c.Domain
}

// isPublicSuffix rejects bare suffixes such as "com" or "co.uk" and
// multi-label private suffixes such as "github.io". Single-label names that
// are not ICANN suffixes ("localhost") are allowed.
func isPublicSuffix(domain string) bool {
	suffix, icann := publicsuffix.PublicSuffix(domain)
	if suffix != domain {
		return false
	}
	return icann || strings.Contains(domain, ".")
}
