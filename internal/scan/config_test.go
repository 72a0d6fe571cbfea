package scan

import (
	"errors"
	"reflect"
	"testing"
	"time"

	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/sentinelscope/internal/shared/errors"
)

func TestValidateNormalizesTarget(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantDomain string
		wantScheme string
	}{
		{"bare domain", "example.com", "example.com", "https"},
		{"url with path", "https://Example.com/login", "example.com", "https"},
		{"http url", "http://shop.example.org", "shop.example.org", "http"},
		{"trailing dot", "Example.COM.", "example.com", "https"},
		{"host with port", "example.com:8443", "example.com", "https"},
		{"single label", "localhost", "localhost", "https"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := DefaultConfig(tt.target).Validate()
			if err != nil {
				t.Fatalf("Validate(%q) returned error: %v", tt.target, err)
			}
			if cfg.Domain != tt.wantDomain {
				t.Errorf("Expected domain %q, got %q", tt.wantDomain, cfg.Domain)
			}
			if cfg.Scheme != tt.wantScheme {
				t.Errorf("Expected scheme %q, got %q", tt.wantScheme, cfg.Scheme)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
		wantErr   error
	}{
		{"empty domain", func(c *Config) { c.Domain = "" }, "domain", sharedErrors.ErrInvalidDomain},
		{"ip literal", func(c *Config) { c.Domain = "192.0.2.1" }, "domain", sharedErrors.ErrInvalidDomain},
		{"bad label", func(c *Config) { c.Domain = "-bad-.example.com" }, "domain", sharedErrors.ErrInvalidDomain},
		{"public suffix", func(c *Config) { c.Domain = "co.uk" }, "domain", sharedErrors.ErrPublicSuffix},
		{"tld", func(c *Config) { c.Domain = "com" }, "domain", sharedErrors.ErrPublicSuffix},
		{"scheme", func(c *Config) { c.Scheme = "ftp" }, "scheme", sharedErrors.ErrInvalidScheme},
		{"unknown profile", func(c *Config) { c.PortProfile = "top5" }, "port_profile", sharedErrors.ErrInvalidPortProfile},
		{"custom without ports", func(c *Config) { c.PortProfile = ProfileCustom }, "custom_ports", sharedErrors.ErrMissingCustomPorts},
		{"port zero", func(c *Config) { c.PortProfile = ProfileCustom; c.CustomPorts = []int{0, 80} }, "custom_ports", sharedErrors.ErrPortOutOfRange},
		{"port too high", func(c *Config) { c.PortProfile = ProfileCustom; c.CustomPorts = []int{65536} }, "custom_ports", sharedErrors.ErrPortOutOfRange},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout", sharedErrors.ErrNonPositiveValue},
		{"negative dns timeout", func(c *Config) { c.DNSTimeout = -time.Second }, "dns_timeout", sharedErrors.ErrNonPositiveValue},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency", sharedErrors.ErrNonPositiveValue},
		{"zero probe timeout", func(c *Config) { c.ProbeTimeouts = map[string]time.Duration{ProbeTLS: 0} }, "probe_timeouts.tls", sharedErrors.ErrNonPositiveValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("example.com")
			tt.mutate(&cfg)
			got, err := cfg.Validate()
			if got != nil {
				t.Errorf("Expected nil config, got %+v", got)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected *ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Expected field %q, got %q", tt.wantField, cfgErr.Field)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected errors.Is(%v), got %v", tt.wantErr, err)
			}
			if !errors.Is(err, sharedErrors.ErrInvalidConfig) {
				t.Errorf("Expected error to wrap ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestValidateCustomPorts(t *testing.T) {
	cfg := DefaultConfig("example.com")
	cfg.PortProfile = ""
	cfg.CustomPorts = []int{8443, 22, 80, 22}

	got, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if got.PortProfile != ProfileCustom {
		t.Errorf("Expected custom profile to be inferred, got %q", got.PortProfile)
	}
	candidates, err := got.Candidates()
	if err != nil {
		t.Fatalf("Candidates returned error: %v", err)
	}
	if want := []int{22, 80, 8443}; !reflect.DeepEqual(candidates, want) {
		t.Errorf("Expected %v, got %v", want, candidates)
	}
	// The caller's slice is left alone.
	if cfg.CustomPorts[0] != 8443 {
		t.Errorf("Expected input to be unchanged, got %v", cfg.CustomPorts)
	}
}

func TestValidateDropsCustomPortsForNamedProfile(t *testing.T) {
	cfg := DefaultConfig("example.com")
	cfg.PortProfile = "TOP100"
	cfg.CustomPorts = []int{99999}

	got, err := cfg.Validate()
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if got.PortProfile != ProfileTop100 || got.CustomPorts != nil {
		t.Errorf("Expected top100 without custom ports, got %q %v", got.PortProfile, got.CustomPorts)
	}
	candidates, err := got.Candidates()
	if err != nil {
		t.Fatalf("Candidates returned error: %v", err)
	}
	if len(candidates) != 100 {
		t.Errorf("Expected 100 candidates, got %d", len(candidates))
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("example.com")
	if cfg.AXFR {
		t.Error("Expected zone transfer to be opt-in")
	}
	if !cfg.Ports || !cfg.Takeover || !cfg.SecurityTxt || !cfg.DNSExtras {
		t.Error("Expected the other probes to be enabled")
	}
	cfg.DisableAll()
	toggles := []bool{cfg.Ports, cfg.Subdomains, cfg.Headers, cfg.TLS, cfg.DNS, cfg.Preview, cfg.CORS,
		cfg.Cookies, cfg.Fingerprint, cfg.SecurityTxt, cfg.MixedContent, cfg.DNSExtras, cfg.Takeover, cfg.AXFR}
	for i, on := range toggles {
		if on {
			t.Errorf("Expected toggle #%d to be cleared by DisableAll", i)
		}
	}
	if cfg.Timeout != consts.DefaultTimeout || cfg.PortProfile != consts.DefaultPortProfile {
		t.Errorf("Expected DisableAll to keep the other settings, got %+v", cfg)
	}
}
