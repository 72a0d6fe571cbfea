package errors

import "errors"

// Domain errors
var (
	// Configuration errors
	ErrInvalidConfig      = errors.New("invalid scan configuration")
	ErrInvalidDomain      = errors.New("invalid domain")
	ErrPublicSuffix       = errors.New("domain is a public suffix")
	ErrInvalidPortProfile = errors.New("invalid port profile")
	ErrMissingCustomPorts = errors.New("custom port profile requires at least one port")
	ErrPortOutOfRange     = errors.New("port out of range [1,65535]")
	ErrNonPositiveValue   = errors.New("value must be positive")
	ErrInvalidScheme      = errors.New("scheme must be http or https")

	// Probe errors
	ErrProbeTimeout   = errors.New("timeout")
	ErrProbeCancelled = errors.New("cancelled")
	ErrInternalFault  = errors.New("internal fault")
	ErrNoAddresses    = errors.New("host has no addresses")
	ErrNoCertificate  = errors.New("no peer certificate presented")
	ErrNotFound       = errors.New("resource not found")
	ErrDependency     = errors.New("dependency probe did not succeed")

	// Table errors
	ErrInvalidTable = errors.New("invalid data table")
)
