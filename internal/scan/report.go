package scan

import (
	"time"

	"github.com/khanhnv2901/sentinelscope/internal/checker"
)

// Probe names. They double as the report's JSON keys.
const (
	ProbePorts        = "ports"
	ProbeTLS          = "tls"
	ProbeHeaders      = "headers"
	ProbeDNS          = "dns"
	ProbeSubdomains   = "subdomains"
	ProbeCookies      = "cookies"
	ProbeCORS         = "cors"
	ProbeFingerprint  = "fingerprint"
	ProbePreview      = "preview"
	ProbeTakeover     = "takeover"
	ProbeSecurityTxt  = "security_txt"
	ProbeMixedContent = "mixed_content"
	ProbeDNSExtras    = "dns_extras"
	ProbeAXFR         = "axfr"
)

// Report is the aggregate of one scan. Each outcome field is owned by exactly
// one probe task and written once.
type Report struct {
	ScanID     string    `json:"scan_id"`
	Domain     string    `json:"domain"`
	Timestamp  time.Time `json:"timestamp"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`

	Ports        Outcome[checker.PortScanResult]     `json:"ports"`
	TLS          Outcome[checker.TLSResult]          `json:"tls"`
	Headers      Outcome[checker.HeaderResult]       `json:"headers"`
	DNS          Outcome[checker.DNSResult]          `json:"dns"`
	Subdomains   Outcome[checker.SubdomainResult]    `json:"subdomains"`
	Cookies      Outcome[checker.CookieResult]       `json:"cookies"`
	CORS         Outcome[checker.CORSResult]         `json:"cors"`
	Fingerprint  Outcome[checker.FingerprintResult]  `json:"fingerprint"`
	Preview      Outcome[checker.PreviewResult]      `json:"preview"`
	Takeover     Outcome[checker.TakeoverResult]     `json:"takeover"`
	SecurityTxt  Outcome[checker.SecurityTxtResult]  `json:"security_txt"`
	MixedContent Outcome[checker.MixedContentResult] `json:"mixed_content"`
	DNSExtras    Outcome[checker.DNSExtrasResult]    `json:"dns_extras"`
	AXFR         Outcome[checker.AXFRResult]         `json:"axfr"`
}

// ProbeSummary is one row of a human-readable report overview.
type ProbeSummary struct {
	Probe  string `json:"probe"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type summarizer interface {
	Summary() string
}

func summarize[T any](name string, o Outcome[T]) ProbeSummary {
	row := ProbeSummary{Probe: name, Status: o.Status()}
	switch o.Kind() {
	case KindSuccess:
		if s, ok := any(o.value).(summarizer); ok {
			row.Detail = s.Summary()
		}
	case KindFailure:
		row.Detail = o.Reason()
	}
	return row
}

// Summaries lists every probe in report order.
func (r *Report) Summaries() []ProbeSummary {
	return []ProbeSummary{
		summarize(ProbePorts, r.Ports),
		summarize(ProbeTLS, r.TLS),
		summarize(ProbeHeaders, r.Headers),
		summarize(ProbeDNS, r.DNS),
		summarize(ProbeSubdomains, r.Subdomains),
		summarize(ProbeCookies, r.Cookies),
		summarize(ProbeCORS, r.CORS),
		summarize(ProbeFingerprint, r.Fingerprint),
		summarize(ProbePreview, r.Preview),
		summarize(ProbeTakeover, r.Takeover),
		summarize(ProbeSecurityTxt, r.SecurityTxt),
		summarize(ProbeMixedContent, r.MixedContent),
		summarize(ProbeDNSExtras, r.DNSExtras),
		summarize(ProbeAXFR, r.AXFR),
	}
}

func disableUnset[T any](o *Outcome[T]) {
	if o.kind == kindUnset {
		*o = Disabled[T]()
	}
}

// disableUnregistered marks fields that no registered probe owns.
func (r *Report) disableUnregistered() {
	disableUnset(&r.Ports)
	disableUnset(&r.TLS)
	disableUnset(&r.Headers)
	disableUnset(&r.DNS)
	disableUnset(&r.Subdomains)
	disableUnset(&r.Cookies)
	disableUnset(&r.CORS)
	disableUnset(&r.Fingerprint)
	disableUnset(&r.Preview)
	disableUnset(&r.Takeover)
	disableUnset(&r.SecurityTxt)
	disableUnset(&r.MixedContent)
	disableUnset(&r.DNSExtras)
	disableUnset(&r.AXFR)
}

// Counts tallies outcomes by status: ok, error, skipped.
func (r *Report) Counts() (ok, failed, skipped int) {
	for _, s := range r.Summaries() {
		switch s.Status {
		case "ok":
			ok++
		case "error":
			failed++
		default:
			skipped++
		}
	}
	return ok, failed, skipped
}
