package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/khanhnv2901/sentinelscope/internal/checker"
	"github.com/khanhnv2901/sentinelscope/internal/scan"
	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config file keys. Environment variables use the SSCAN_ prefix with dots
// replaced by underscores, e.g. SSCAN_SCAN_TIMEOUT.
const (
	keyScanTimeout          = "scan.timeout"
	keyScanDNSTimeout       = "scan.dns_timeout"
	keyScanConcurrency      = "scan.concurrency"
	keyScanPortProfile      = "scan.port_profile"
	keyScanProbeTimeouts    = "scan.probe_timeouts"
	keyDNSNameservers       = "dns.nameservers"
	keyCTEndpoint           = "subdomains.ct_endpoint"
	keyServerAddr           = "server.addr"
	keyServerAuthToken      = "server.auth_token"
	keyServerRateLimit      = "server.rate_limit"
	keyServerRateBurst      = "server.rate_burst"
	keyServerScanTimeout    = "server.scan_timeout"
	keyServerTrustedProxies = "server.trusted_proxies"
)

// probeToggle binds a command-line switch to one probe's enable flag.
type probeToggle struct {
	flag  string
	probe string
	usage string
	field func(*scan.Config) *bool
}

var probeToggles = []probeToggle{
	{"ports", scan.ProbePorts, "scan TCP ports", func(c *scan.Config) *bool { return &c.Ports }},
	{"tls", scan.ProbeTLS, "inspect the TLS certificate", func(c *scan.Config) *bool { return &c.TLS }},
	{"headers", scan.ProbeHeaders, "grade security headers", func(c *scan.Config) *bool { return &c.Headers }},
	{"dns", scan.ProbeDNS, "analyze SPF, DMARC and MX", func(c *scan.Config) *bool { return &c.DNS }},
	{"subdomains", scan.ProbeSubdomains, "enumerate subdomains", func(c *scan.Config) *bool { return &c.Subdomains }},
	{"cookies", scan.ProbeCookies, "audit cookie attributes", func(c *scan.Config) *bool { return &c.Cookies }},
	{"cors", scan.ProbeCORS, "check the CORS policy", func(c *scan.Config) *bool { return &c.CORS }},
	{"fingerprint", scan.ProbeFingerprint, "detect WAF, CDN and server technology", func(c *scan.Config) *bool { return &c.Fingerprint }},
	{"preview", scan.ProbePreview, "fetch the landing page", func(c *scan.Config) *bool { return &c.Preview }},
	{"takeover", scan.ProbeTakeover, "look for dangling subdomain takeovers", func(c *scan.Config) *bool { return &c.Takeover }},
	{"security-txt", scan.ProbeSecurityTxt, "look for security.txt", func(c *scan.Config) *bool { return &c.SecurityTxt }},
	{"mixed-content", scan.ProbeMixedContent, "find insecure subresources", func(c *scan.Config) *bool { return &c.MixedContent }},
	{"dns-extras", scan.ProbeDNSExtras, "check DNSSEC and CAA", func(c *scan.Config) *bool { return &c.DNSExtras }},
	{"axfr", scan.ProbeAXFR, "attempt a zone transfer against each nameserver", func(c *scan.Config) *bool { return &c.AXFR }},
}

// addScanFlags registers the flags shared by every scan command.
func addScanFlags(cmd *cobra.Command) {
	addTuningFlags(cmd)
	cmd.Flags().String("providers", "", "YAML takeover signature table (default: built-in)")
	cmd.Flags().Bool("progress", true, "print probe progress to stderr")
	addOutputFlags(cmd)
}

// addTuningFlags registers the probe tuning flags; serve uses them as
// request defaults.
func addTuningFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Duration("timeout", consts.DefaultTimeout, "per-request HTTP and TLS timeout")
	flags.Duration("dns-timeout", consts.DefaultDNSTimeout, "per-lookup DNS timeout")
	flags.Int("concurrency", consts.DefaultConcurrency, "parallel port connections")
	flags.String("port-profile", consts.DefaultPortProfile, "port set: top30, top100 or custom")
	flags.IntSlice("custom-ports", nil, "ports for the custom profile (implies --port-profile=custom)")
	flags.StringSlice("nameservers", nil, "DNS servers to query (host or host:port)")
	flags.StringToString("probe-timeout", nil, "per-probe time budget override, e.g. tls=3s,ports=20s")
	flags.String("ct-endpoint", checker.DefaultCTEndpoint, "certificate transparency search endpoint")
}

// addToggleFlags registers one enable switch per probe, defaulting to the
// full-scan defaults.
func addToggleFlags(cmd *cobra.Command) {
	defaults := scan.DefaultConfig("")
	for _, t := range probeToggles {
		cmd.Flags().Bool(t.flag, *t.field(&defaults), t.usage)
	}
}

// buildScanConfig assembles a scan configuration from flags, with config file
// and environment values filling in flags the user did not set.
func buildScanConfig(cmd *cobra.Command, target string) (scan.Config, error) {
	cfg := scan.DefaultConfig(target)
	flags := cmd.Flags()

	for _, t := range probeToggles {
		if flags.Lookup(t.flag) == nil {
			continue
		}
		v, err := flags.GetBool(t.flag)
		if err != nil {
			return cfg, err
		}
		*t.field(&cfg) = v
	}

	cfg.Timeout, _ = flags.GetDuration("timeout")
	cfg.DNSTimeout, _ = flags.GetDuration("dns-timeout")
	cfg.Concurrency, _ = flags.GetInt("concurrency")
	cfg.PortProfile, _ = flags.GetString("port-profile")
	cfg.CustomPorts, _ = flags.GetIntSlice("custom-ports")
	cfg.Nameservers, _ = flags.GetStringSlice("nameservers")

	if err := applyConfigDefaults(flags, &cfg); err != nil {
		return cfg, err
	}

	// Custom ports without an explicit profile select the custom profile.
	if len(cfg.CustomPorts) > 0 && !flagChanged(flags, "port-profile") && !viper.IsSet(keyScanPortProfile) {
		cfg.PortProfile = ""
	}

	overrides, _ := flags.GetStringToString("probe-timeout")
	probeTimeouts, err := parseProbeTimeouts(overrides)
	if err != nil {
		return cfg, err
	}
	if len(probeTimeouts) > 0 {
		cfg.ProbeTimeouts = probeTimeouts
	}
	return cfg, nil
}

// applyConfigDefaults merges config file values into cfg when the user did
// not explicitly override the corresponding flag.
func applyConfigDefaults(flags *pflag.FlagSet, cfg *scan.Config) error {
	if viper.IsSet(keyScanTimeout) {
		d, err := viperDuration(keyScanTimeout)
		if err != nil {
			return err
		}
		applyDurationDefault(flags, "timeout", d, func(v time.Duration) { cfg.Timeout = v })
	}
	if viper.IsSet(keyScanDNSTimeout) {
		d, err := viperDuration(keyScanDNSTimeout)
		if err != nil {
			return err
		}
		applyDurationDefault(flags, "dns-timeout", d, func(v time.Duration) { cfg.DNSTimeout = v })
	}
	if viper.IsSet(keyScanConcurrency) {
		applyIntDefault(flags, "concurrency", viper.GetInt(keyScanConcurrency), func(v int) { cfg.Concurrency = v })
	}
	if viper.IsSet(keyScanPortProfile) {
		applyStringDefault(flags, "port-profile", viper.GetString(keyScanPortProfile), func(v string) { cfg.PortProfile = v })
	}
	if viper.IsSet(keyDNSNameservers) {
		applyStringSliceDefault(flags, "nameservers", viper.GetStringSlice(keyDNSNameservers), func(v []string) { cfg.Nameservers = v })
	}
	if viper.IsSet(keyScanProbeTimeouts) && !flagChanged(flags, "probe-timeout") {
		parsed, err := parseProbeTimeouts(viper.GetStringMapString(keyScanProbeTimeouts))
		if err != nil {
			return err
		}
		cfg.ProbeTimeouts = parsed
	}
	return nil
}

func ctEndpoint(flags *pflag.FlagSet) string {
	endpoint, _ := flags.GetString("ct-endpoint")
	if viper.IsSet(keyCTEndpoint) {
		applyStringDefault(flags, "ct-endpoint", viper.GetString(keyCTEndpoint), func(v string) { endpoint = v })
	}
	return endpoint
}

// parseProbeTimeouts accepts Go durations or plain seconds, keyed by
// registered probe name.
func parseProbeTimeouts(raw map[string]string) (map[string]time.Duration, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	registry := scan.DefaultRegistry(scan.Environment{})
	out := make(map[string]time.Duration, len(raw))
	for name, value := range raw {
		key := strings.ToLower(strings.TrimSpace(name))
		if !registry.Has(key) {
			return nil, &scan.ConfigError{
				Field: "probe_timeouts." + name,
				Err:   fmt.Errorf("unknown probe (expected one of %s)", strings.Join(registry.Names(), ", ")),
			}
		}
		d, err := parseSeconds(value)
		if err != nil {
			return nil, &scan.ConfigError{Field: "probe_timeouts." + name, Err: err}
		}
		out[key] = d
	}
	return out, nil
}

// viperDuration reads key as seconds when numeric and as a Go duration
// string otherwise.
func viperDuration(key string) (time.Duration, error) {
	var (
		d   time.Duration
		err error
	)
	switch v := viper.Get(key).(type) {
	case int:
		d = time.Duration(v) * time.Second
	case int64:
		d = time.Duration(v) * time.Second
	case float64:
		d = time.Duration(v * float64(time.Second))
	case string:
		d, err = parseSeconds(v)
	case time.Duration:
		d = v
	default:
		err = fmt.Errorf("unsupported value %v", v)
	}
	if err != nil {
		return 0, &scan.ConfigError{Field: key, Err: err}
	}
	return d, nil
}

func parseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	flag := flags.Lookup(name)
	return flag != nil && flag.Changed
}

func applyIntDefault(flags *pflag.FlagSet, name string, value int, setter func(int)) {
	if flags == nil || setter == nil {
		return
	}
	if flagChanged(flags, name) {
		return
	}
	setter(value)
}

func applyDurationDefault(flags *pflag.FlagSet, name string, value time.Duration, setter func(time.Duration)) {
	if flags == nil || setter == nil {
		return
	}
	if flagChanged(flags, name) {
		return
	}
	setter(value)
}

func applyStringDefault(flags *pflag.FlagSet, name, value string, setter func(string)) {
	if flags == nil || setter == nil {
		return
	}
	if flagChanged(flags, name) {
		return
	}
	setter(value)
}

func applyStringSliceDefault(flags *pflag.FlagSet, name string, value []string, setter func([]string)) {
	if flags == nil || setter == nil {
		return
	}
	if flagChanged(flags, name) {
		return
	}
	setter(value)
}
