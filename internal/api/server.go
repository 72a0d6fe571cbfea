package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/khanhnv2901/sentinelscope/internal/api/middleware"
	"github.com/khanhnv2901/sentinelscope/internal/scan"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxRequestBody bounds scan request bodies.
const maxRequestBody = 64 << 10

// ScanRequest mirrors scan.Config using the service's field names. Omitted
// toggles keep the server default; timeouts are seconds.
type ScanRequest struct {
	Domain         string   `json:"domain"`
	ScanPorts      *bool    `json:"scan_ports"`
	ScanSubdomains *bool    `json:"scan_subdomains"`
	AnalyzeHeaders *bool    `json:"analyze_headers"`
	AnalyzeTLS     *bool    `json:"analyze_tls"`
	AnalyzeDNS     *bool    `json:"analyze_dns"`
	WebPreview     *bool    `json:"web_preview"`
	AnalyzeCORS    *bool    `json:"analyze_cors"`
	AnalyzeCookies *bool    `json:"analyze_cookies"`
	FingerprintWeb *bool    `json:"fingerprint_web"`
	SecurityTxt    *bool    `json:"security_txt"`
	MixedContent   *bool    `json:"mixed_content"`
	DNSExtras      *bool    `json:"dns_extras"`
	Takeover       *bool    `json:"takeover"`
	AXFR           *bool    `json:"axfr"`
	PortProfile    string   `json:"port_profile"`
	CustomPorts    []int    `json:"custom_ports"`
	Timeout        *float64 `json:"timeout"`
	DNSTimeout     *float64 `json:"dns_timeout"`
	Concurrency    *int     `json:"concurrency"`
}

// Config builds the scan configuration for req on top of defaults.
func (req ScanRequest) Config(defaults scan.Config) scan.Config {
	cfg := defaults
	cfg.Domain = req.Domain
	toggles := []struct {
		src *bool
		dst *bool
	}{
		{req.ScanPorts, &cfg.Ports},
		{req.ScanSubdomains, &cfg.Subdomains},
		{req.AnalyzeHeaders, &cfg.Headers},
		{req.AnalyzeTLS, &cfg.TLS},
		{req.AnalyzeDNS, &cfg.DNS},
		{req.WebPreview, &cfg.Preview},
		{req.AnalyzeCORS, &cfg.CORS},
		{req.AnalyzeCookies, &cfg.Cookies},
		{req.FingerprintWeb, &cfg.Fingerprint},
		{req.SecurityTxt, &cfg.SecurityTxt},
		{req.MixedContent, &cfg.MixedContent},
		{req.DNSExtras, &cfg.DNSExtras},
		{req.Takeover, &cfg.Takeover},
		{req.AXFR, &cfg.AXFR},
	}
	for _, t := range toggles {
		if t.src != nil {
			*t.dst = *t.src
		}
	}
	if req.PortProfile != "" {
		cfg.PortProfile = req.PortProfile
	}
	if len(req.CustomPorts) > 0 {
		cfg.CustomPorts = req.CustomPorts
		if req.PortProfile == "" {
			cfg.PortProfile = ""
		}
	}
	if req.Timeout != nil {
		cfg.Timeout = seconds(*req.Timeout)
	}
	if req.DNSTimeout != nil {
		cfg.DNSTimeout = seconds(*req.DNSTimeout)
	}
	if req.Concurrency != nil {
		cfg.Concurrency = *req.Concurrency
	}
	return cfg
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Scanner runs one scan. *scan.Orchestrator satisfies it.
type Scanner interface {
	Run(ctx context.Context, cfg scan.Config) (*scan.Report, error)
	RunObserved(ctx context.Context, cfg scan.Config, observe func(scan.ProbeEvent)) (*scan.Report, error)
}

type Config struct {
	Scanner Scanner
	// Defaults seeds every request; its Domain is ignored.
	Defaults    scan.Config
	ScanTimeout time.Duration // caps a whole scan request (0 = no cap)
	AuthToken   string
	Logger      *zap.Logger
	CORSOrigins []string // Allowed CORS origins (empty = allow all)
	RateLimit   int      // Requests per second per IP (0 = disabled)
	RateBurst   int      // Burst size for rate limiter
	// TrustedProxies lists the peers whose X-Forwarded-For header names the
	// client. Requests from anyone else are keyed on the peer address.
	TrustedProxies []netip.Prefix
}

type Server struct {
	cfg      Config
	router   chi.Router
	handler  http.Handler
	limiters *rateLimiterMap
}

func NewServer(cfg Config) *Server {
	if cfg.Defaults.Timeout == 0 {
		cfg.Defaults = scan.DefaultConfig("")
	}
	srv := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		limiters: newRateLimiterMap(),
	}
	srv.routes()
	// Middleware chain: RequestID -> Logging -> RateLimit -> CORS -> router
	srv.handler = middleware.RequestID(srv.withLogging(srv.withRateLimit(srv.withCORS(srv.router))))
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops background maintenance.
func (s *Server) Close() {
	s.limiters.stop()
}

func (s *Server) routes() {
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, errors.New("not found"))
	})
	s.router.MethodNotAllowed(s.methodNotAllowed)

	s.router.Get("/health", s.handleHealth)
	s.router.With(s.withAuth).Post("/scan/domain", s.handleScan)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Group(func(r chi.Router) {
			r.Use(s.withAuth)
			r.Post("/scan/domain", s.handleScan)
			r.Post("/scan/domain/stream", s.handleScanStream)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decodeScanRequest(w http.ResponseWriter, r *http.Request) (scan.Config, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return scan.Config{}, false
	}
	if strings.TrimSpace(req.Domain) == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("domain is required"))
		return scan.Config{}, false
	}
	cfg := req.Config(s.cfg.Defaults)
	// Validate up front so the stream endpoint can still answer 400.
	if _, err := cfg.Validate(); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return scan.Config{}, false
	}
	return cfg, true
}

func (s *Server) scanContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.ScanTimeout > 0 {
		return context.WithTimeout(r.Context(), s.cfg.ScanTimeout)
	}
	return context.WithCancel(r.Context())
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.decodeScanRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.scanContext(r)
	defer cancel()

	report, err := s.cfg.Scanner.Run(ctx, cfg)
	if r.Context().Err() != nil {
		// The client is gone; nobody is left to read a response.
		s.requestLogger(r).Info("client_disconnected", zap.String("domain", cfg.Domain))
		return
	}
	if err != nil {
		if scan.IsConfigError(err) {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type streamEvent struct {
	Probe      string `json:"probe"`
	Phase      string `json:"phase"`
	Outcome    string `json:"outcome,omitempty"`
	Reason     string `json:"reason,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// handleScanStream emits one server-sent "probe" event per lifecycle change
// and a final "report" event.
func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	cfg, ok := s.decodeScanRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.scanContext(r)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var mu sync.Mutex
	broken := false
	send := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			s.requestLogger(r).Error("failed to marshal stream event", zap.Error(err))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if broken {
			return
		}
		frame := fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event, data)
		if !s.writeStreamChunk(w, frame) {
			broken = true
			cancel()
			return
		}
		flusher.Flush()
	}

	report, err := s.cfg.Scanner.RunObserved(ctx, cfg, func(ev scan.ProbeEvent) {
		out := streamEvent{Probe: ev.Probe, Phase: ev.Phase, Reason: ev.Reason, DurationMS: ev.Duration.Milliseconds()}
		if ev.Phase == scan.PhaseFinished {
			out.Outcome = ev.Kind.String()
		}
		send("probe", out)
	})
	if r.Context().Err() != nil {
		return
	}
	if err != nil {
		s.requestLogger(r).Error("stream_scan_failed", zap.Error(err))
		send("error", map[string]string{"error": "internal server error"})
		return
	}
	send("report", report)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip rate limiting if disabled
		if s.cfg.RateLimit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := clientAddress(r, s.cfg.TrustedProxies)
		limiter := s.limiters.getLimiter(clientIP, s.cfg.RateLimit, s.cfg.RateBurst)
		if !limiter.Allow() {
			s.requestLogger(r).Warn("rate_limit_exceeded",
				zap.String("client_ip", clientIP),
			)
			s.writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientAddress returns the peer host. When the peer is a trusted proxy the
// X-Forwarded-For chain is walked from the right and the first untrusted hop
// wins, so a client cannot pick its own key by prepending entries.
func clientAddress(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}

	var hops []string
	for _, value := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(value, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !isTrusted(hops[i], trusted) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	return peer
}

func isTrusted(host string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowOrigin := "*"
		if len(s.cfg.CORSOrigins) > 0 {
			allowOrigin = ""
			for _, allowedOrigin := range s.cfg.CORSOrigins {
				if allowedOrigin == origin {
					allowOrigin = origin
					break
				}
			}
		}

		if allowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Token, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
			if allowOrigin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		if s.cfg.Logger != nil {
			requestID := middleware.GetRequestID(r.Context())
			s.cfg.Logger.Info("http_request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Int("status", lrw.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.Int64("bytes", lrw.bytesWritten),
			)
		}
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		// Use constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code and bytes written
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesWritten += int64(n)
	return n, err
}

// Flush lets streaming handlers reach the client through the wrapper.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// Sanitize error messages to prevent information disclosure
	msg := err.Error()

	// For 5xx errors, return generic message and log details server-side
	if status >= 500 {
		s.requestLogger(r).Error("internal_server_error",
			zap.Error(err),
			zap.Int("status", status),
		)
		msg = "internal server error"
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger creates a logger with request context (request ID, method, path)
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if s.cfg.Logger == nil {
		return zap.NewNop()
	}

	requestID := middleware.GetRequestID(r.Context())
	return s.cfg.Logger.With(
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (s *Server) writeStreamChunk(w http.ResponseWriter, data []byte) bool {
	if _, err := w.Write(data); err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Error("failed to write stream chunk", zap.Error(err))
		}
		return false
	}
	return true
}

// rateLimiterMap manages per-IP rate limiters with automatic cleanup
type rateLimiterMap struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	done     chan struct{}
	once     sync.Once
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiterMap() *rateLimiterMap {
	m := &rateLimiterMap{
		limiters: make(map[string]*ipLimiter),
		done:     make(chan struct{}),
	}
	// Start cleanup goroutine to remove stale limiters
	go m.cleanupLoop()
	return m
}

func (m *rateLimiterMap) getLimiter(ip string, rps, burst int) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, exists := m.limiters[ip]
	if !exists {
		if burst <= 0 {
			burst = rps
		}
		limiter = &ipLimiter{
			limiter:  rate.NewLimiter(rate.Limit(rps), burst),
			lastSeen: time.Now(),
		}
		m.limiters[ip] = limiter
	} else {
		limiter.lastSeen = time.Now()
	}

	return limiter.limiter
}

func (m *rateLimiterMap) stop() {
	m.once.Do(func() { close(m.done) })
}

// cleanupLoop removes limiters that haven't been used in 5 minutes
func (m *rateLimiterMap) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}
		m.mu.Lock()
		for ip, limiter := range m.limiters {
			if time.Since(limiter.lastSeen) > 5*time.Minute {
				delete(m.limiters, ip)
			}
		}
		m.mu.Unlock()
	}
}
