package cmd

import (
	"errors"

	"github.com/khanhnv2901/sentinelscope/internal/scan"
)

const (
	exitInternalFault = 1
	exitConfigError   = 2
)

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case scan.IsConfigError(err):
		return exitConfigError
	default:
		return exitInternalFault
	}
}

// isUsageError reports whether err should be followed by the command usage.
func isUsageError(err error) bool {
	var cfgErr *scan.ConfigError
	return errors.As(err, &cfgErr) && (cfgErr.Field == "flags" || cfgErr.Field == "target")
}
