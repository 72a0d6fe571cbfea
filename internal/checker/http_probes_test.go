package checker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHeadersChecker_Run(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Server", "nginx/1.25.0")
	}))
	defer server.Close()

	result, err := (&HeadersChecker{}).Run(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Score != 30 {
		t.Errorf("Expected score 30, got %d", result.Score)
	}
	if result.Grade != "F" {
		t.Errorf("Expected grade F, got %s", result.Grade)
	}
	if result.TableVersion != HeaderTableVersion {
		t.Errorf("Expected table version %s, got %s", HeaderTableVersion, result.TableVersion)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", result.StatusCode)
	}
}

func TestPreviewChecker_Run(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/home", http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Server", "test-server")
		_, _ = w.Write([]byte("<html><head><title>\n  Example   Domain \n</title></head><body></body></html>"))
	}))
	defer server.Close()

	result, err := (&PreviewChecker{}).Run(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Title != "Example Domain" {
		t.Errorf("Expected title 'Example Domain', got %q", result.Title)
	}
	if !strings.HasSuffix(result.FinalURL, "/home") {
		t.Errorf("Expected redirect to be followed, got %s", result.FinalURL)
	}
	if result.Server != "test-server" || !strings.HasPrefix(result.ContentType, "text/html") {
		t.Errorf("Unexpected metadata %+v", result)
	}
}

func TestFingerprint(t *testing.T) {
	header := http.Header{}
	header.Set("Server", "cloudflare")
	header.Set("CF-RAY", "8a1b2c3d4e5f-AMS")
	header.Set("X-Powered-By", "PHP/8.2")
	header.Add("Set-Cookie", "PHPSESSID=abc; path=/")
	body := []byte(`<html><head><meta name="generator" content="WordPress 6.5"></head></html>`)

	result := Fingerprint(header, body)
	if result.WAFOrCDN != "cloudflare" {
		t.Errorf("Expected cloudflare, got %q", result.WAFOrCDN)
	}
	want := []string{"PHP/8.2", "PHP", "WordPress 6.5"}
	if strings.Join(result.Technologies, "|") != strings.Join(want, "|") {
		t.Errorf("Expected technologies %v, got %v", want, result.Technologies)
	}
}

func TestAnalyzeMixedContent(t *testing.T) {
	body := []byte(`<html><head>
		<link rel="stylesheet" href="http://cdn.example.com/site.css">
		<link rel="canonical" href="http://example.com/">
		<script src="http://cdn.example.com/app.js"></script>
		<script src="https://cdn.example.com/ok.js"></script>
	</head><body>
		<img src="http://img.example.com/a.png" srcset="http://img.example.com/a2.png 2x, https://img.example.com/a3.png 3x">
		<a href="http://example.org/">plain link</a>
	</body></html>`)

	result := AnalyzeMixedContent(body)
	if result.Active != 2 {
		t.Errorf("Expected 2 active references, got %d", result.Active)
	}
	if result.Passive != 2 {
		t.Errorf("Expected 2 passive references, got %d", result.Passive)
	}
	if result.ByTag["img"] != 2 || result.ByTag["script"] != 1 || result.ByTag["link"] != 1 {
		t.Errorf("Unexpected per-tag counts %v", result.ByTag)
	}
	if result.Severity != SeverityHigh {
		t.Errorf("Expected high severity, got %s", result.Severity)
	}
	if len(result.Examples) != 4 {
		t.Errorf("Expected 4 examples, got %v", result.Examples)
	}
}

func TestMixedContentChecker_PlainHTTPNotApplicable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<script src="http://cdn.example.com/app.js"></script>`))
	}))
	defer server.Close()

	result, err := (&MixedContentChecker{}).Run(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Applicable {
		t.Error("Expected http page to be not applicable")
	}
}

func TestMixedContentChecker_HTTPS(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<iframe src="http://ads.example.com/frame"></iframe>`))
	}))
	defer server.Close()

	result, err := (&MixedContentChecker{}).Run(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !result.Applicable || result.Active != 1 {
		t.Errorf("Expected one active reference, got %+v", result)
	}
}

func TestSecurityTxtChecker_WellKnown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/security.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("# comment\nContact: mailto:security@example.com\nContact: https://example.com/report\nExpires: 2030-01-01T00:00:00Z\nPolicy: https://example.com/policy\nPreferred-Languages: en, vi\n"))
	}))
	defer server.Close()

	now := func() time.Time { return time.Date(2029, 6, 1, 0, 0, 0, 0, time.UTC) }
	result, err := (&SecurityTxtChecker{Now: now}).Run(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !result.Found || len(result.Contacts) != 2 {
		t.Fatalf("Expected two contacts, got %+v", result)
	}
	if result.Expired {
		t.Error("Expected file not to be expired")
	}
	if result.Policy != "https://example.com/policy" || result.PreferredLanguages != "en, vi" {
		t.Errorf("Unexpected fields %+v", result)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", result.Warnings)
	}
}

func TestSecurityTxtChecker_FallbackAndMissing(t *testing.T) {
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/security.txt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("Contact: mailto:sec@example.com\nExpires: 2020-01-01T00:00:00Z\n"))
	}))
	defer fallback.Close()

	result, err := (&SecurityTxtChecker{}).Run(context.Background(), fallback.URL)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !result.Found || !strings.HasSuffix(result.URL, "/security.txt") || !result.Expired {
		t.Errorf("Expected expired fallback file, got %+v", result)
	}

	soft404 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>Page not found. Contact: us</html>"))
	}))
	defer soft404.Close()

	result, err = (&SecurityTxtChecker{}).Run(context.Background(), soft404.URL)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.Found {
		t.Error("Expected soft 404 HTML not to count as security.txt")
	}
}
