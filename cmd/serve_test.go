package cmd

import (
	"net/netip"
	"reflect"
	"testing"

	"github.com/khanhnv2901/sentinelscope/internal/scan"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTestServeCommand(t *testing.T) *cobra.Command {
	t.Helper()
	t.Cleanup(viper.Reset)
	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().String("addr", "127.0.0.1:8080", "")
	cmd.Flags().String("auth-token", "", "")
	cmd.Flags().Duration("shutdown-timeout", 0, "")
	cmd.Flags().Duration("scan-timeout", 0, "")
	cmd.Flags().StringSlice("cors-origins", []string{}, "")
	cmd.Flags().Int("rate-limit", 10, "")
	cmd.Flags().Int("rate-burst", 20, "")
	cmd.Flags().StringSlice("trusted-proxies", []string{}, "")
	return cmd
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := parseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.10 ", "", "::ffff:198.51.100.1", "2001:db8::/32"})
	if err != nil {
		t.Fatalf("parseTrustedProxies returned error: %v", err)
	}
	want := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.10/32"),
		netip.MustParsePrefix("198.51.100.1/32"),
		netip.MustParsePrefix("2001:db8::/32"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	for _, bad := range []string{"proxy.internal", "10.0.0.0/33"} {
		if _, err := parseTrustedProxies([]string{bad}); !scan.IsConfigError(err) {
			t.Errorf("Expected a configuration error for %q, got %v", bad, err)
		}
	}
}

func TestReadServeOptionsTrustedProxies(t *testing.T) {
	cmd := newTestServeCommand(t)
	opts, err := readServeOptions(cmd.Flags())
	if err != nil {
		t.Fatalf("readServeOptions returned error: %v", err)
	}
	if len(opts.TrustedProxies) != 0 {
		t.Errorf("Expected no trusted proxies by default, got %v", opts.TrustedProxies)
	}

	viper.Set(keyServerTrustedProxies, []string{"10.1.0.0/16"})
	opts, err = readServeOptions(cmd.Flags())
	if err != nil {
		t.Fatalf("readServeOptions returned error: %v", err)
	}
	if len(opts.TrustedProxies) != 1 || opts.TrustedProxies[0] != netip.MustParsePrefix("10.1.0.0/16") {
		t.Errorf("Expected config file proxies, got %v", opts.TrustedProxies)
	}

	if err := cmd.Flags().Set("trusted-proxies", "127.0.0.1"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	opts, err = readServeOptions(cmd.Flags())
	if err != nil {
		t.Fatalf("readServeOptions returned error: %v", err)
	}
	if len(opts.TrustedProxies) != 1 || opts.TrustedProxies[0] != netip.MustParsePrefix("127.0.0.1/32") {
		t.Errorf("Expected the flag to win over the config file, got %v", opts.TrustedProxies)
	}
}
