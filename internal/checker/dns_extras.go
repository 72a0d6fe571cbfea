package checker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"github.com/sourcegraph/conc"
)

// DNSExtrasResult reports DNSSEC and CAA configuration.
type DNSExtrasResult struct {
	Domain        string   `json:"domain"`
	DNSSECPresent bool     `json:"dnssec_present"`
	DNSKEYCount   int      `json:"dnskey_count"`
	Authenticated bool     `json:"authenticated_data"`
	CAARecords    []string `json:"caa_records"`
	CAAIssuers    []string `json:"caa_issuers"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Summary renders a one-line description of the result.
func (r DNSExtrasResult) Summary() string {
	dnssec := "no DNSSEC"
	if r.DNSSECPresent {
		dnssec = "DNSSEC keys published"
	}
	return fmt.Sprintf("%s, %d CAA records", dnssec, len(r.CAARecords))
}

// DNSExtrasChecker queries DNSKEY and CAA records over the wire.
type DNSExtrasChecker struct {
	Querier DNSQuerier
}

// Run issues both queries concurrently.
func (c *DNSExtrasChecker) Run(ctx context.Context, domain string) (DNSExtrasResult, error) {
	result := DNSExtrasResult{
		Domain:     domain,
		CAARecords: []string{},
		CAAIssuers: []string{},
	}

	var keyErr, caaErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		resp, err := c.Querier.Query(ctx, domain, dns.TypeDNSKEY)
		if err != nil {
			keyErr = err
			return
		}
		for _, rr := range resp.Answer {
			if _, ok := rr.(*dns.DNSKEY); ok {
				result.DNSKEYCount++
			}
		}
		result.DNSSECPresent = result.DNSKEYCount > 0
		result.Authenticated = resp.AuthenticatedData
	})
	wg.Go(func() {
		resp, err := c.Querier.Query(ctx, domain, dns.TypeCAA)
		if err != nil {
			caaErr = err
			return
		}
		seen := make(map[string]struct{})
		for _, rr := range resp.Answer {
			caa, ok := rr.(*dns.CAA)
			if !ok {
				continue
			}
			result.CAARecords = append(result.CAARecords, strconv.Itoa(int(caa.Flag))+" "+caa.Tag+" "+strconv.Quote(caa.Value))
			if caa.Tag != "issue" && caa.Tag != "issuewild" {
				continue
			}
			issuer, _, _ := strings.Cut(caa.Value, ";")
			issuer = strings.TrimSpace(issuer)
			if _, dup := seen[issuer]; issuer != "" && !dup {
				seen[issuer] = struct{}{}
				result.CAAIssuers = append(result.CAAIssuers, issuer)
			}
		}
	})
	wg.Wait()

	if keyErr != nil && caaErr != nil {
		return DNSExtrasResult{}, keyErr
	}
	if keyErr != nil {
		result.Warnings = append(result.Warnings, "DNSKEY query failed: "+keyErr.Error())
	}
	if caaErr != nil {
		result.Warnings = append(result.Warnings, "CAA query failed: "+caaErr.Error())
	}
	if caaErr == nil && len(result.CAARecords) == 0 {
		result.Warnings = append(result.Warnings, "No CAA records; any certificate authority may issue certificates for this domain")
	}
	return result, nil
}
