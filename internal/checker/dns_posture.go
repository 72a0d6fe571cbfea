package checker

import (
	"strings"
)

// SPF qualifiers reported in DNSPosture.SPFPolicy.
const (
	SPFFail      = "-all"
	SPFSoftFail  = "~all"
	SPFNeutral   = "?all"
	SPFPass      = "+all"
	PolicyAbsent = "absent"
)

// DMARC policies reported in DNSPosture.DMARCPolicy.
const (
	DMARCNone       = "none"
	DMARCQuarantine = "quarantine"
	DMARCReject     = "reject"
)

// DNSPosture is the mail-authentication assessment of a domain.
type DNSPosture struct {
	SPFPresent      bool     `json:"spf_present"`
	SPFRecord       string   `json:"spf_record,omitempty"`
	SPFPolicy       string   `json:"spf_policy"`
	SPFRecordCount  int      `json:"spf_record_count"`
	DMARCPresent    bool     `json:"dmarc_present"`
	DMARCRecord     string   `json:"dmarc_record,omitempty"`
	DMARCPolicy     string   `json:"dmarc_policy"`
	Recommendations []string `json:"recommendations"`
}

// AnalyzeDNSPosture derives SPF and DMARC posture from the apex TXT records,
// the _dmarc TXT records and whether the domain publishes MX records.
// Recommendations are ordered SPF, DMARC, then mail-specific hints.
func AnalyzeDNSPosture(apexTXT, dmarcTXT []string, hasMX bool) DNSPosture {
	posture := DNSPosture{
		SPFPolicy:       PolicyAbsent,
		DMARCPolicy:     PolicyAbsent,
		Recommendations: []string{},
	}

	var spfRecords []string
	for _, txt := range apexTXT {
		if isSPF(txt) {
			spfRecords = append(spfRecords, strings.TrimSpace(txt))
		}
	}
	posture.SPFRecordCount = len(spfRecords)
	if len(spfRecords) > 0 {
		posture.SPFPresent = true
		posture.SPFRecord = spfRecords[0]
		posture.SPFPolicy = spfAllQualifier(spfRecords[0])
	}

	switch {
	case !posture.SPFPresent:
		posture.Recommendations = append(posture.Recommendations,
			"Publish an SPF record ending in -all (e.g. 'v=spf1 include:_spf.<provider> -all') to restrict who may send mail for this domain")
	case len(spfRecords) > 1:
		posture.Recommendations = append(posture.Recommendations,
			"Multiple SPF records found; receivers treat this as a permanent error. Merge them into a single v=spf1 record")
	}
	switch posture.SPFPolicy {
	case SPFPass:
		posture.Recommendations = append(posture.Recommendations,
			"SPF ends in +all which authorizes every sender; change it to -all or ~all")
	case SPFNeutral:
		posture.Recommendations = append(posture.Recommendations,
			"SPF policy is neutral (?all or no all mechanism); tighten it to -all or ~all")
	}

	for _, txt := range dmarcTXT {
		if isDMARC(txt) {
			posture.DMARCPresent = true
			posture.DMARCRecord = strings.TrimSpace(txt)
			posture.DMARCPolicy = dmarcPolicy(txt)
			break
		}
	}
	switch posture.DMARCPolicy {
	case PolicyAbsent:
		posture.Recommendations = append(posture.Recommendations,
			"Publish a DMARC record at _dmarc.<domain> (start with 'v=DMARC1; p=none; rua=mailto:...' and move to quarantine or reject)")
	case DMARCNone:
		posture.Recommendations = append(posture.Recommendations,
			"DMARC policy is p=none (monitoring only); move to p=quarantine or p=reject")
	}

	if !hasMX && posture.SPFPolicy != SPFFail {
		posture.Recommendations = append(posture.Recommendations,
			"No MX records found; if the domain sends no mail, publish 'v=spf1 -all' and a DMARC p=reject record to block spoofing")
	}
	return posture
}

func isSPF(txt string) bool {
	txt = strings.ToLower(strings.TrimSpace(txt))
	return txt == "v=spf1" || strings.HasPrefix(txt, "v=spf1 ")
}

func isDMARC(txt string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(txt)), "v=dmarc1")
}

// spfAllQualifier returns the qualifier of the last all mechanism. A record
// without one is neutral for unmatched senders.
func spfAllQualifier(record string) string {
	terms := strings.Fields(strings.ToLower(record))
	for i := len(terms) - 1; i >= 0; i-- {
		switch terms[i] {
		case "-all":
			return SPFFail
		case "~all":
			return SPFSoftFail
		case "?all":
			return SPFNeutral
		case "+all", "all":
			return SPFPass
		}
	}
	return SPFNeutral
}

func dmarcPolicy(record string) string {
	for _, tag := range strings.Split(record, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(tag), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "p") {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case DMARCReject:
			return DMARCReject
		case DMARCQuarantine:
			return DMARCQuarantine
		default:
			return DMARCNone
		}
	}
	// A DMARC record without a valid p= tag is treated as monitoring only.
	return DMARCNone
}
