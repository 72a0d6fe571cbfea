package checker

import (
	"context"
	"fmt"
	"net/http"

	consts "github.com/khanhnv2901/sentinelscope/internal/shared/constants"
)

// PreviewResult is a lightweight snapshot of the landing page.
type PreviewResult struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url"`
	StatusCode  int    `json:"status_code"`
	Title       string `json:"title,omitempty"`
	Server      string `json:"server,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Summary renders a one-line description of the result.
func (r PreviewResult) Summary() string {
	if r.Title == "" {
		return fmt.Sprintf("HTTP %d", r.StatusCode)
	}
	return fmt.Sprintf("HTTP %d %q", r.StatusCode, r.Title)
}

// PreviewChecker fetches the landing page and extracts its title.
type PreviewChecker struct {
	Client *http.Client
}

// Run fetches target, following redirects.
func (c *PreviewChecker) Run(ctx context.Context, target string) (PreviewResult, error) {
	client := c.Client
	if client == nil {
		client = NewHTTPClient(true)
	}
	page, err := fetchPage(ctx, client, target, consts.PreviewBodyLimitBytes, nil)
	if err != nil {
		return PreviewResult{}, err
	}
	return PreviewResult{
		URL:         target,
		FinalURL:    page.FinalURL,
		StatusCode:  page.StatusCode,
		Title:       pageTitle(page.Body),
		Server:      page.Header.Get("Server"),
		ContentType: page.Header.Get("Content-Type"),
	}, nil
}
