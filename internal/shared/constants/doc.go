// Package constants centralizes scan defaults shared across the CLI, the API
// server and the probe packages.
//
// Keeping connect timeouts, fan-out caps, and body read limits in one place
// prevents magic numbers from scattering across cmd/ and internal/.
package constants
