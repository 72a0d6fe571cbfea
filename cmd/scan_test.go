package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/khanhnv2901/sentinelscope/internal/scan"
	sharedErrors "github.com/khanhnv2901/sentinelscope/internal/shared/errors"
	"github.com/spf13/viper"
)

func TestRootRegistersProbeCommands(t *testing.T) {
	want := []string{"domain", "ports", "tls", "headers", "dns", "subdomains", "cookies", "cors",
		"fingerprint", "preview", "takeover", "securitytxt", "mixedcontent", "dnsextras", "axfr",
		"serve", "version", "info"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("Expected subcommand %q to be registered", name)
		}
	}
}

func TestOnlyProbe(t *testing.T) {
	for _, toggle := range probeToggles {
		t.Run(toggle.probe, func(t *testing.T) {
			cfg := scan.DefaultConfig("example.com")
			onlyProbe(toggle)(&cfg)
			if !*toggle.field(&cfg) {
				t.Fatalf("expected %s to be enabled", toggle.probe)
			}
			want := 1
			if toggle.probe == scan.ProbeTakeover {
				want = 3
				if !cfg.Subdomains || !cfg.DNS {
					t.Fatal("expected takeover to enable its inputs")
				}
			}
			if got := countEnabled(cfg); got != want {
				t.Fatalf("expected %d enabled probes, got %d", want, got)
			}
		})
	}
}

func TestCountEnabled(t *testing.T) {
	cfg := scan.DefaultConfig("example.com")
	if got := countEnabled(cfg); got != len(probeToggles)-1 {
		t.Fatalf("expected every probe but axfr, got %d", got)
	}
	cfg.Subdomains = false
	if got := countEnabled(cfg); got != len(probeToggles)-3 {
		t.Fatalf("expected takeover to drop with subdomains, got %d", got)
	}
}

func TestRequireTarget(t *testing.T) {
	if err := requireTarget(domainCmd, []string{"example.com"}); err != nil {
		t.Fatalf("expected one target to be accepted, got %v", err)
	}
	err := requireTarget(domainCmd, nil)
	if !scan.IsConfigError(err) {
		t.Fatalf("expected a configuration error, got %v", err)
	}
	if exitCode(err) != exitConfigError {
		t.Fatalf("expected exit code %d, got %d", exitConfigError, exitCode(err))
	}
}

func TestScanCommandRejectsPublicSuffix(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"preview", "co.uk", "--progress=false"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	if !errors.Is(err, sharedErrors.ErrPublicSuffix) {
		t.Fatalf("expected a public suffix error, got %v", err)
	}
	if exitCode(err) != exitConfigError {
		t.Fatalf("expected exit code %d, got %d", exitConfigError, exitCode(err))
	}
	if out.Len() != 0 {
		t.Errorf("expected no report output, got %s", out.String())
	}
}

func TestScanCommandUnknownFlagIsConfigError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(viper.Reset)

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"tls", "example.com", "--bogus"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	if !isUsageError(err) || exitCode(err) != exitConfigError {
		t.Fatalf("expected a usage configuration error, got %v", err)
	}
}
