package checker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/sourcegraph/conc"
)

// DNSResult holds the apex records plus the mail posture derived from them.
type DNSResult struct {
	Domain      string   `json:"domain"`
	ARecords    []string `json:"a_records"`
	AAAARecords []string `json:"aaaa_records"`
	MXRecords   []string `json:"mx_records"`
	TXTRecords  []string `json:"txt_records"`
	NSRecords   []string `json:"ns_records"`
	DNSPosture
	Errors []string `json:"lookup_errors,omitempty"`
}

// Summary renders a one-line description of the result.
func (r DNSResult) Summary() string {
	return fmt.Sprintf("%d A, %d AAAA, %d MX, SPF %s, DMARC %s",
		len(r.ARecords), len(r.AAAARecords), len(r.MXRecords), r.SPFPolicy, r.DMARCPolicy)
}

// DNSChecker looks up the apex records of a domain. Each lookup runs
// concurrently; NXDOMAIN/NODATA answers count as empty, not as errors.
type DNSChecker struct {
	Resolver Resolver
}

// Run performs the lookups. It fails only when every lookup failed for a
// reason other than the name or record type not existing.
func (d *DNSChecker) Run(ctx context.Context, domain string) (DNSResult, error) {
	result := DNSResult{
		Domain:      domain,
		ARecords:    []string{},
		AAAARecords: []string{},
		MXRecords:   []string{},
		TXTRecords:  []string{},
		NSRecords:   []string{},
	}
	var dmarcTXT []string

	var (
		mu       sync.Mutex
		failures []error
	)
	record := func(kind string, err error) bool {
		if err == nil {
			return true
		}
		if isNotFound(err) {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, fmt.Errorf("%s lookup: %w", kind, err))
		return false
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		addrs, err := d.Resolver.LookupIPAddr(ctx, domain)
		if !record("A/AAAA", err) {
			return
		}
		for _, addr := range addrs {
			if addr.IP.To4() != nil {
				result.ARecords = append(result.ARecords, addr.IP.String())
			} else {
				result.AAAARecords = append(result.AAAARecords, addr.IP.String())
			}
		}
	})
	wg.Go(func() {
		mxs, err := d.Resolver.LookupMX(ctx, domain)
		if !record("MX", err) {
			return
		}
		sort.SliceStable(mxs, func(i, j int) bool { return mxs[i].Pref < mxs[j].Pref })
		for _, mx := range mxs {
			result.MXRecords = append(result.MXRecords, strconv.Itoa(int(mx.Pref))+" "+mx.Host)
		}
	})
	wg.Go(func() {
		txt, err := d.Resolver.LookupTXT(ctx, domain)
		if record("TXT", err) {
			result.TXTRecords = append(result.TXTRecords, txt...)
		}
	})
	wg.Go(func() {
		txt, err := d.Resolver.LookupTXT(ctx, "_dmarc."+domain)
		if record("DMARC TXT", err) {
			dmarcTXT = txt
		}
	})
	wg.Go(func() {
		nss, err := d.Resolver.LookupNS(ctx, domain)
		if !record("NS", err) {
			return
		}
		for _, ns := range nss {
			result.NSRecords = append(result.NSRecords, ns.Host)
		}
	})
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return DNSResult{}, err
	}
	if len(failures) == 5 {
		return DNSResult{}, failures[0]
	}
	for _, err := range failures {
		result.Errors = append(result.Errors, err.Error())
	}
	result.DNSPosture = AnalyzeDNSPosture(result.TXTRecords, dmarcTXT, len(result.MXRecords) > 0)
	return result, nil
}
