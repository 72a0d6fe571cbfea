package checker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/sentinelscope/internal/shared/errors"
)

// TLSResult describes the certificate and session negotiated with a host.
type TLSResult struct {
	Host            string            `json:"host"`
	Port            int               `json:"port"`
	Subject         string            `json:"subject"`
	Issuer          string            `json:"issuer"`
	SANs            []string          `json:"subject_alternative_names"`
	NotBefore       time.Time         `json:"not_before"`
	NotAfter        time.Time         `json:"not_after"`
	DaysUntilExpiry int               `json:"days_until_expiry"`
	Protocol        string            `json:"protocol"`
	CipherSuite     string            `json:"cipher_suite"`
	ALPN            string            `json:"alpn,omitempty"`
	Valid           bool              `json:"valid"`
	VerifyError     string            `json:"verify_error,omitempty"`
	SelfSigned      bool              `json:"self_signed"`
	Warnings        []string          `json:"warnings,omitempty"`
	Issues          []ComplianceIssue `json:"compliance_issues,omitempty"`
}

// Summary renders a one-line description of the result.
func (r TLSResult) Summary() string {
	validity := "valid"
	if !r.Valid {
		validity = "invalid"
	}
	return fmt.Sprintf("%s, %s certificate, expires in %d days, %d issues", r.Protocol, validity, r.DaysUntilExpiry, len(r.Issues))
}

// TLSChecker performs one handshake and inspects the leaf certificate.
// Chain verification is done after the handshake so that broken chains are
// still reported instead of aborting the probe.
type TLSChecker struct {
	Port  int
	Now   func() time.Time
	Roots *x509.CertPool // nil uses the system pool
}

// Run handshakes with host and reports on the negotiated session.
func (c *TLSChecker) Run(ctx context.Context, host string) (TLSResult, error) {
	port := c.Port
	if port == 0 {
		port = 443
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true, // #nosec G402 -- verification happens below with the full chain.
			NextProtos:         []string{"h2", "http/1.1"},
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return TLSResult{}, fmt.Errorf("tls handshake: %w", err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return TLSResult{}, sharedErrors.ErrNoCertificate
	}
	leaf := state.PeerCertificates[0]

	result := TLSResult{
		Host:            host,
		Port:            port,
		Subject:         leaf.Subject.String(),
		Issuer:          leaf.Issuer.String(),
		SANs:            leaf.DNSNames,
		NotBefore:       leaf.NotBefore.UTC(),
		NotAfter:        leaf.NotAfter.UTC(),
		DaysUntilExpiry: daysUntil(now(), leaf.NotAfter),
		Protocol:        tlsVersionString(state.Version),
		CipherSuite:     cipherSuiteString(state.CipherSuite),
		ALPN:            state.NegotiatedProtocol,
		SelfSigned:      leaf.Subject.String() == leaf.Issuer.String(),
	}
	if result.SANs == nil {
		result.SANs = []string{}
	}

	intermediates := x509.NewCertPool()
	for _, cert := range state.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}
	_, verifyErr := leaf.Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         c.Roots,
		Intermediates: intermediates,
		CurrentTime:   now(),
	})
	result.Valid = verifyErr == nil
	if verifyErr != nil {
		result.VerifyError = verifyErr.Error()
		result.Warnings = append(result.Warnings, "Certificate chain does not verify: "+verifyErr.Error())
	}

	switch {
	case result.DaysUntilExpiry < 0:
		result.Warnings = append(result.Warnings, fmt.Sprintf("Certificate expired %d days ago", -result.DaysUntilExpiry))
		result.Issues = append(result.Issues, ComplianceIssue{
			Standard:    "PCI DSS 4.1 / OWASP ASVS 9.2.1",
			Severity:    SeverityCritical,
			Description: "Certificate has expired",
			Remediation: "Renew the TLS certificate immediately.",
		})
	case now().Add(consts.TLSSoonExpiryWindow).After(leaf.NotAfter):
		result.Warnings = append(result.Warnings, "Certificate expiring within 30 days")
	}
	if result.SelfSigned {
		result.Warnings = append(result.Warnings, "Self-signed certificate detected. Use CA-signed certificates in production.")
	}
	result.Issues = append(result.Issues, complianceIssues(&state, leaf)...)
	return result, nil
}

// daysUntil is negative once t has passed; partial days round toward the past.
func daysUntil(now, t time.Time) int {
	return int(math.Floor(t.Sub(now).Hours() / 24))
}
