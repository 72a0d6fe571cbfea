package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/khanhnv2901/sentinelscope/internal/checker"
	"github.com/khanhnv2901/sentinelscope/internal/scan"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show runtime information and data table versions",
	Long: `Display sscan runtime information including:
  - Platform and selected port scan backend
  - Configuration file in use
  - Header, provider and port table versions
  - Registered probes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		providers, err := checker.DefaultProviders()
		if err != nil {
			return fmt.Errorf("failed to load provider table: %w", err)
		}

		configFile := viper.ConfigFileUsed()
		configExists := "✗ (using defaults)"
		if configFile == "" {
			homeDir, _ := os.UserHomeDir()
			configFile = homeDir + "/.sscan.yaml"
		} else if _, err := os.Stat(configFile); err == nil {
			configExists = "✓ (loaded)"
		}

		// Get output writer (for testing support)
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "sscan System Information")
		fmt.Fprintln(out, "========================")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Platform:            %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "Port scan backend:   %s\n", checker.DefaultPortBackend().Name())
		fmt.Fprintf(out, "Configuration File:  %s %s\n", configFile, configExists)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Data Tables:")
		fmt.Fprintf(out, "  Header grading:    %s\n", checker.HeaderTableVersion)
		fmt.Fprintf(out, "  Takeover providers: %s (%d providers)\n", providers.Version, len(providers.Providers))
		for _, profile := range []string{scan.ProfileTop30, scan.ProfileTop100} {
			ports, err := checker.ProfilePorts(profile)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  Port profile %-6s %d ports\n", profile+":", len(ports))
		}
		fmt.Fprintf(out, "  Subdomain wordlist: %d words\n", len(checker.DefaultWordlist()))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Probes: %s\n", strings.Join(scan.DefaultRegistry(scan.Environment{}).Names(), ", "))
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Environment overrides use the SSCAN_ prefix, e.g. SSCAN_SCAN_TIMEOUT=10s.")
		fmt.Fprintln(out, "Set SSCAN_PORT_BACKEND=dial to force the portable port scan backend.")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
