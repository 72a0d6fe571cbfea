package checker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"

	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
)

// NewHTTPClient builds the client used by HTTP-class probes. Deadlines come
// from the request context, so the client itself carries no timeout.
func NewHTTPClient(followRedirects bool) *http.Client {
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- posture is graded by the TLS probe, not here.
			DisableKeepAlives:   true,
			TLSHandshakeTimeout: consts.TLSHandshakeTimeout,
		},
	}
	if !followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// Page is a fetched HTTP response with a bounded body.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Cookies    []*http.Cookie
	Body       []byte
	TLS        *tls.ConnectionState
}

// fetchPage performs a GET and reads at most limit bytes of the body.
func fetchPage(ctx context.Context, client *http.Client, target string, limit int64, extra http.Header) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", consts.UserAgent)
	for key, values := range extra {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	page := &Page{
		URL:        target,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Cookies:    resp.Cookies(),
		TLS:        resp.TLS,
	}
	if limit > 0 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read body: %w", err)
		}
		page.Body = body
	}
	return page, nil
}
