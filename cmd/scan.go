package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/khanhnv2901/sentinelscope/internal/checker"
	"github.com/khanhnv2901/sentinelscope/internal/scan"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var domainCmd = &cobra.Command{
	Use:   "domain <target>",
	Short: "Run a full scan of a domain",
	Long: `Run every enabled probe against a domain and print a summary.

The target may be a bare domain or a URL; the scheme of a URL is kept for
HTTP probes. Zone transfer attempts are off unless --axfr is given.`,
	Args: requireTarget,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd, args[0], nil)
	},
}

func init() {
	addToggleFlags(domainCmd)
	addScanFlags(domainCmd)
	rootCmd.AddCommand(domainCmd)

	for _, t := range probeToggles {
		rootCmd.AddCommand(newProbeCommand(t))
	}
}

// newProbeCommand builds a command running a single probe. Takeover also
// enables the probes whose results it consumes.
func newProbeCommand(t probeToggle) *cobra.Command {
	probeCmd := &cobra.Command{
		Use:   strings.ReplaceAll(t.flag, "-", "") + " <target>",
		Short: "Run only the " + t.probe + " probe (" + t.usage + ")",
		Args:  requireTarget,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args[0], onlyProbe(t))
		},
	}
	addScanFlags(probeCmd)
	return probeCmd
}

func onlyProbe(t probeToggle) func(*scan.Config) {
	return func(cfg *scan.Config) {
		cfg.DisableAll()
		*t.field(cfg) = true
		if t.probe == scan.ProbeTakeover {
			cfg.Subdomains = true
			cfg.DNS = true
		}
	}
}

func requireTarget(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return &scan.ConfigError{Field: "target", Err: fmt.Errorf("expected exactly one target, got %d", len(args))}
	}
	return nil
}

func runScan(cmd *cobra.Command, target string, configure func(*scan.Config)) error {
	cfg, err := buildScanConfig(cmd, target)
	if err != nil {
		return err
	}
	if configure != nil {
		configure(&cfg)
	}
	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}
	opts := readOutputOptions(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl := zap.NewNop()
	if logger != nil {
		zl = logger.Desugar()
	}
	orchestrator := scan.NewOrchestrator(scan.Options{
		Logger:   zl,
		Registry: scan.DefaultRegistry(env),
	})

	var report *scan.Report
	showProgress, _ := cmd.Flags().GetBool("progress")
	if showProgress {
		progress := newProgressPrinter(cmd.ErrOrStderr(), countEnabled(cfg), target)
		progress.Start()
		report, err = orchestrator.RunObserved(ctx, cfg, progress.Observe)
		progress.Stop()
	} else {
		report, err = orchestrator.Run(ctx, cfg)
	}
	if err != nil {
		return err
	}
	return finishScan(cmd, report, opts)
}

func finishScan(cmd *cobra.Command, report *scan.Report, opts outputOptions) error {
	if logger != nil {
		ok, failed, skipped := report.Counts()
		logger.Infow("scan_complete",
			"scan_id", report.ScanID,
			"domain", report.Domain,
			"ok", ok,
			"failed", failed,
			"skipped", skipped,
			"duration_ms", report.DurationMS,
		)
	}
	return writeReport(cmd.OutOrStdout(), report, opts)
}

// newEnvironment builds the probe dependencies selected on the command line.
func newEnvironment(cmd *cobra.Command) (scan.Environment, error) {
	env := scan.Environment{
		PortBackend: checker.DefaultPortBackend(),
		CTEndpoint:  ctEndpoint(cmd.Flags()),
	}
	if flag := cmd.Flags().Lookup("providers"); flag != nil && flag.Value.String() != "" {
		providers, err := checker.LoadProviderTable(flag.Value.String())
		if err != nil {
			return env, &scan.ConfigError{Field: "providers", Err: err}
		}
		env.Providers = providers
	}
	return env, nil
}

func countEnabled(cfg scan.Config) int {
	n := 0
	for _, t := range probeToggles {
		if *t.field(&cfg) {
			n++
		}
	}
	// Takeover only runs alongside subdomain enumeration.
	if cfg.Takeover && !cfg.Subdomains {
		n--
	}
	return n
}
