package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/khanhnv2901/sentinelscope/internal/scan"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string
var verbose bool
var logger *zap.SugaredLogger

var rootCmd = &cobra.Command{
	Use:           "sscan",
	Short:         "Domain reconnaissance: ports, TLS, headers, DNS posture, subdomains and takeover checks",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init config
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath("$HOME")
			viper.SetConfigName(".sscan")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("SSCAN")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()

		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if cfgFile != "" || !errors.As(err, &notFound) {
				return &scan.ConfigError{Field: "config", Err: err}
			}
		}

		// init logger
		l, err := newLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger = l.Sugar()
		if used := viper.ConfigFileUsed(); used != "" {
			logger.Debugf("config_file=%s", used)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	// Keep stdout for reports; logs go to stderr.
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Execute runs the root command and exits with 2 on configuration errors and
// 1 on any other failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorError("Error:"), err)
		if isUsageError(err) {
			fmt.Fprintln(os.Stderr, "Run 'sscan --help' for usage.")
		}
		os.Exit(exitCode(err))
	}
}

func init() {
	// config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sscan.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &scan.ConfigError{Field: "flags", Err: err}
	})

	// add subcommands
	rootCmd.AddCommand(versionCmd)
}
