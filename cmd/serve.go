package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/khanhnv2901/sentinelscope/internal/api"
	"github.com/khanhnv2901/sentinelscope/internal/scan"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// serveOptions are the HTTP service settings after config file merging.
type serveOptions struct {
	Addr            string
	AuthToken       string
	ShutdownTimeout time.Duration
	ScanTimeout     time.Duration
	CORSOrigins     []string
	RateLimit       int
	RateBurst       int
	TrustedProxies  []netip.Prefix
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run sscan as a REST API service",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := readServeOptions(cmd.Flags())
		if err != nil {
			return err
		}
		defaults, err := buildScanConfig(cmd, "")
		if err != nil {
			return err
		}
		env, err := newEnvironment(cmd)
		if err != nil {
			return err
		}

		zl := zap.NewNop()
		if logger != nil {
			zl = logger.Desugar()
		}

		orchestrator := scan.NewOrchestrator(scan.Options{
			Logger:   zl,
			Registry: scan.DefaultRegistry(env),
		})
		server := api.NewServer(api.Config{
			Scanner:        orchestrator,
			Defaults:       defaults,
			ScanTimeout:    opts.ScanTimeout,
			AuthToken:      opts.AuthToken,
			Logger:         zl,
			CORSOrigins:    opts.CORSOrigins,
			RateLimit:      opts.RateLimit,
			RateBurst:      opts.RateBurst,
			TrustedProxies: opts.TrustedProxies,
		})
		defer server.Close()

		writeTimeout := 30 * time.Second
		if opts.ScanTimeout+5*time.Second > writeTimeout {
			writeTimeout = opts.ScanTimeout + 5*time.Second
		}
		httpServer := &http.Server{
			Addr:              opts.Addr,
			Handler:           server,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       120 * time.Second,
		}

		// Channel to listen for errors from the server
		serverErrors := make(chan error, 1)

		// Start server in a goroutine
		go func() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s API server listening on %s\n", colorInfo("→"), opts.Addr)
			fmt.Fprintf(cmd.OutOrStdout(), "%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))
			serverErrors <- httpServer.ListenAndServe()
		}()

		// Channel to listen for interrupt signals
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		// Block until we receive a signal or an error
		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
		case sig := <-shutdown:
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s Received signal %v, initiating graceful shutdown...\n", colorInfo("→"), sig)

			// Create context with timeout for shutdown
			ctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
			defer cancel()

			// Attempt graceful shutdown
			if err := httpServer.Shutdown(ctx); err != nil {
				// Force close if graceful shutdown fails
				if closeErr := httpServer.Close(); closeErr != nil {
					return fmt.Errorf("failed to gracefully shutdown server: %w (close error: %v)", err, closeErr)
				}
				return fmt.Errorf("failed to gracefully shutdown server: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Server shutdown complete\n", colorSuccess("✓"))
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Address for the API server")
	serveCmd.Flags().String("auth-token", "", "Optional shared secret for scan requests (X-Auth-Token)")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	serveCmd.Flags().Duration("scan-timeout", 2*time.Minute, "Upper bound for one scan request (0 = none)")
	serveCmd.Flags().StringSlice("cors-origins", []string{}, "Allowed CORS origins (empty = allow all)")
	serveCmd.Flags().Int("rate-limit", 10, "Rate limit per IP (requests/second, 0 = disabled)")
	serveCmd.Flags().Int("rate-burst", 20, "Rate limit burst size")
	serveCmd.Flags().StringSlice("trusted-proxies", []string{}, "Proxy IPs or CIDRs whose X-Forwarded-For header is honoured")
	serveCmd.Flags().String("providers", "", "YAML takeover signature table (default: built-in)")
	addTuningFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func readServeOptions(flags *pflag.FlagSet) (serveOptions, error) {
	var opts serveOptions
	opts.Addr, _ = flags.GetString("addr")
	opts.AuthToken, _ = flags.GetString("auth-token")
	opts.ShutdownTimeout, _ = flags.GetDuration("shutdown-timeout")
	opts.ScanTimeout, _ = flags.GetDuration("scan-timeout")
	opts.CORSOrigins, _ = flags.GetStringSlice("cors-origins")
	opts.RateLimit, _ = flags.GetInt("rate-limit")
	opts.RateBurst, _ = flags.GetInt("rate-burst")
	proxies, _ := flags.GetStringSlice("trusted-proxies")

	if viper.IsSet(keyServerAddr) {
		applyStringDefault(flags, "addr", viper.GetString(keyServerAddr), func(v string) { opts.Addr = v })
	}
	if viper.IsSet(keyServerAuthToken) {
		applyStringDefault(flags, "auth-token", viper.GetString(keyServerAuthToken), func(v string) { opts.AuthToken = v })
	}
	if viper.IsSet(keyServerRateLimit) {
		applyIntDefault(flags, "rate-limit", viper.GetInt(keyServerRateLimit), func(v int) { opts.RateLimit = v })
	}
	if viper.IsSet(keyServerRateBurst) {
		applyIntDefault(flags, "rate-burst", viper.GetInt(keyServerRateBurst), func(v int) { opts.RateBurst = v })
	}
	if viper.IsSet(keyServerScanTimeout) {
		d, err := viperDuration(keyServerScanTimeout)
		if err != nil {
			return opts, err
		}
		applyDurationDefault(flags, "scan-timeout", d, func(v time.Duration) { opts.ScanTimeout = v })
	}
	if viper.IsSet(keyServerTrustedProxies) {
		applyStringSliceDefault(flags, "trusted-proxies", viper.GetStringSlice(keyServerTrustedProxies), func(v []string) { proxies = v })
	}
	var err error
	if opts.TrustedProxies, err = parseTrustedProxies(proxies); err != nil {
		return opts, err
	}
	if opts.ScanTimeout < 0 {
		return opts, &scan.ConfigError{Field: "scan_timeout", Err: fmt.Errorf("must not be negative")}
	}
	return opts, nil
}

// parseTrustedProxies accepts CIDRs and bare addresses.
func parseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			prefix, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, &scan.ConfigError{Field: "trusted_proxies", Err: err}
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, &scan.ConfigError{Field: "trusted_proxies", Err: err}
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
