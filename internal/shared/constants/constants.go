package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when creating report files.
	DefaultFilePerm fs.FileMode = 0o644
)

const (
	// DefaultTimeout governs HTTP-class probes.
	DefaultTimeout = 6 * time.Second
	// DefaultDNSTimeout governs DNS-class probes.
	DefaultDNSTimeout = 2 * time.Second
	// DefaultConcurrency caps simultaneous port connects.
	DefaultConcurrency = 200
	// DefaultPortProfile is used when no profile is requested.
	DefaultPortProfile = "top30"
)

const (
	// PortConnectTimeout is the fixed per-attempt TCP connect budget.
	PortConnectTimeout = 1 * time.Second
	// WordlistLookupConcurrency caps parallel wordlist DNS lookups.
	WordlistLookupConcurrency = 50
	// TakeoverCheckConcurrency caps parallel takeover candidate checks.
	TakeoverCheckConcurrency = 20
	// MaxTakeoverCandidates bounds how many subdomains the takeover probe inspects.
	MaxTakeoverCandidates = 200
	// TLSHandshakeTimeout bounds the TLS probe dial and handshake.
	TLSHandshakeTimeout = 3 * time.Second
)

const (
	// BodyFingerprintLimitBytes caps how much of a body is read for takeover signatures.
	BodyFingerprintLimitBytes = 8 * 1024
	// PreviewBodyLimitBytes caps how much of a page is read to find its title.
	PreviewBodyLimitBytes = 10 * 1024
	// PageBodyLimitBytes caps page reads for mixed content analysis.
	PageBodyLimitBytes = 512 * 1024
	// SecurityTxtLimitBytes caps security.txt reads.
	SecurityTxtLimitBytes = 32 * 1024
	// MaxMixedContentExamples bounds the examples kept per report.
	MaxMixedContentExamples = 10
)

const (
	// TLSSoonExpiryWindow warns operators when a certificate expires inside this window.
	TLSSoonExpiryWindow = 30 * 24 * time.Hour
	// UserAgent identifies scan traffic.
	UserAgent = "sentinelscope/1.0 (+https://github.com/khanhnv2901/sentinelscope)"
)
