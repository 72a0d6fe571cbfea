package scan

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/khanhnv2901/sentinelscope/internal/checker"
)

func TestOutcomeJSONShape(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome[checker.PreviewResult]
		want    string
	}{
		{"disabled", Disabled[checker.PreviewResult](), `null`},
		{"failure", Failure[checker.PreviewResult]("timeout"), `{"error":"timeout"}`},
		{"success", Success(checker.PreviewResult{URL: "https://example.com", StatusCode: 200}), `"status_code":200`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.outcome)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if tt.name == "success" {
				if !strings.Contains(string(data), tt.want) || strings.Contains(string(data), `"error"`) {
					t.Errorf("Expected result object containing %s, got %s", tt.want, data)
				}
				return
			}
			if string(data) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, data)
			}
		})
	}
}

func TestOutcomeUnsetRefusesToMarshal(t *testing.T) {
	var o Outcome[checker.TLSResult]
	if _, err := json.Marshal(o); err == nil {
		t.Error("Expected an unset outcome to fail marshaling")
	}
}

func TestOutcomeDecodeKeepsVariants(t *testing.T) {
	var report struct {
		TLS  Outcome[checker.TLSResult]  `json:"tls"`
		DNS  Outcome[checker.DNSResult]  `json:"dns"`
		CORS Outcome[checker.CORSResult] `json:"cors"`
	}
	data := `{"tls": null, "dns": {"error": "lookup example.com: i/o timeout"}, "cors": {"url": "https://example.com", "severity": "low"}}`
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !report.TLS.IsDisabled() {
		t.Errorf("Expected tls disabled, got %s", report.TLS.Kind())
	}
	if !report.DNS.IsFailure() || report.DNS.Reason() != "lookup example.com: i/o timeout" {
		t.Errorf("Expected dns failure, got %s %q", report.DNS.Kind(), report.DNS.Reason())
	}
	cors, ok := report.CORS.Value()
	if !ok || cors.URL != "https://example.com" {
		t.Errorf("Expected cors success, got %s", report.CORS.Kind())
	}
}

func TestReportSummaries(t *testing.T) {
	r := &Report{Domain: "example.com"}
	r.disableUnregistered()
	r.Ports = Success(checker.PortScanResult{Profile: "top30", OpenPorts: []int{80, 443}, Candidates: 30})
	r.TLS = Failure[checker.TLSResult]("timeout")

	rows := r.Summaries()
	if len(rows) != len(allProbes) {
		t.Fatalf("Expected %d rows, got %d", len(allProbes), len(rows))
	}
	if rows[0].Probe != ProbePorts || rows[0].Status != "ok" || rows[0].Detail != "open: 80,443" {
		t.Errorf("Unexpected ports row: %+v", rows[0])
	}
	if rows[1].Status != "error" || rows[1].Detail != "timeout" {
		t.Errorf("Unexpected tls row: %+v", rows[1])
	}
	ok, failed, skipped := r.Counts()
	if ok != 1 || failed != 1 || skipped != len(allProbes)-2 {
		t.Errorf("Expected 1/1/%d, got %d/%d/%d", len(allProbes)-2, ok, failed, skipped)
	}
}
