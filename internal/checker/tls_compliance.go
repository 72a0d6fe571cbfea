package checker

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"
)

// versionSSL30 represents the legacy SSL 3.0 protocol version (0x0300).
// Defined locally so we can report SSL 3.0 without referencing the
// deprecated tls.VersionSSL30 symbol.
const versionSSL30 uint16 = 0x0300

// Weak cipher suites that should not be used (PCI DSS 4.1)
var weakCipherSuites = map[uint16]string{
	tls.TLS_RSA_WITH_RC4_128_SHA:                "TLS_RSA_WITH_RC4_128_SHA",
	tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA:           "TLS_RSA_WITH_3DES_EDE_CBC_SHA",
	tls.TLS_RSA_WITH_AES_128_CBC_SHA:            "TLS_RSA_WITH_AES_128_CBC_SHA",
	tls.TLS_RSA_WITH_AES_256_CBC_SHA:            "TLS_RSA_WITH_AES_256_CBC_SHA",
	tls.TLS_ECDHE_ECDSA_WITH_RC4_128_SHA:        "TLS_ECDHE_ECDSA_WITH_RC4_128_SHA",
	tls.TLS_ECDHE_RSA_WITH_RC4_128_SHA:          "TLS_ECDHE_RSA_WITH_RC4_128_SHA",
	tls.TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA:     "TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA",
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256: "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256",
}

// ComplianceIssue is a single protocol or certificate weakness.
type ComplianceIssue struct {
	Standard    string `json:"standard"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Remediation string `json:"remediation"`
}

// complianceIssues grades the negotiated session and leaf certificate
// against OWASP ASVS §9 and PCI DSS 4.1 expectations.
func complianceIssues(state *tls.ConnectionState, leaf *x509.Certificate) []ComplianceIssue {
	var issues []ComplianceIssue

	if state.Version < tls.VersionTLS12 {
		issues = append(issues, ComplianceIssue{
			Standard:    "OWASP ASVS 9.1.3 / PCI DSS 4.1",
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("Insecure TLS version: %s. Only TLS 1.2 and TLS 1.3 are allowed.", tlsVersionString(state.Version)),
			Remediation: "Upgrade to TLS 1.2 or TLS 1.3. Disable SSL 3.0, TLS 1.0, and TLS 1.1.",
		})
	}

	if weakName, isWeak := weakCipherSuites[state.CipherSuite]; isWeak {
		issues = append(issues, ComplianceIssue{
			Standard:    "OWASP ASVS 9.1.2 / PCI DSS 4.1",
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("Weak cipher suite detected: %s", weakName),
			Remediation: "Use AEAD cipher suites like AES-GCM or ChaCha20-Poly1305.",
		})
	}

	name := cipherSuiteString(state.CipherSuite)
	if state.Version < tls.VersionTLS13 && !strings.Contains(name, "ECDHE") && !strings.Contains(name, "DHE") {
		issues = append(issues, ComplianceIssue{
			Standard:    "OWASP ASVS 9.1.2",
			Severity:    SeverityMedium,
			Description: "Cipher suite does not provide Perfect Forward Secrecy (PFS)",
			Remediation: "Use cipher suites with ECDHE or DHE key exchange.",
		})
	}

	if leaf == nil {
		return issues
	}

	sigAlg := strings.ToLower(leaf.SignatureAlgorithm.String())
	if strings.Contains(sigAlg, "md5") || strings.Contains(sigAlg, "sha1") {
		issues = append(issues, ComplianceIssue{
			Standard:    "PCI DSS 4.1",
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("Weak signature algorithm: %s", leaf.SignatureAlgorithm),
			Remediation: "Use certificates with SHA-256 or stronger signature algorithms.",
		})
	}

	bits := publicKeyBits(leaf)
	switch {
	case leaf.PublicKeyAlgorithm == x509.RSA && bits > 0 && bits < 2048:
		issues = append(issues, ComplianceIssue{
			Standard:    "PCI DSS 4.1",
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("RSA key size too small: %d bits (minimum 2048 required)", bits),
			Remediation: "Use RSA keys of at least 2048 bits.",
		})
	case leaf.PublicKeyAlgorithm == x509.ECDSA && bits > 0 && bits < 224:
		issues = append(issues, ComplianceIssue{
			Standard:    "PCI DSS 4.1",
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("ECC key size too small: %d bits (minimum 224 required)", bits),
			Remediation: "Use ECC keys of at least 256 bits.",
		})
	}
	return issues
}

func publicKeyBits(cert *x509.Certificate) int {
	switch key := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return key.N.BitLen()
	case *ecdsa.PublicKey:
		return key.Curve.Params().BitSize
	default:
		return 0
	}
}

// tlsVersionString converts TLS version constant to string
func tlsVersionString(version uint16) string {
	switch version {
	case versionSSL30:
		return "SSL 3.0"
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("Unknown (0x%04x)", version)
	}
}

// cipherSuiteString converts cipher suite constant to string
func cipherSuiteString(suite uint16) string {
	if name, ok := weakCipherSuites[suite]; ok {
		return name
	}
	if name := tls.CipherSuiteName(suite); name != "" {
		return name
	}
	return fmt.Sprintf("Unknown (0x%04x)", suite)
}
