// Package lookup resolves identifiers against the external lookup site.
//
// Client performs exactly one HTTP attempt; Retrying adds bounded
// exponential backoff on transient failures; Disabled is the dry-run
// resolver used when lookups are switched off.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rangescan/internal/core/ranges"
)

// Config configures the lookup client.
type Config struct {
	Enabled bool

	BaseURL    string
	FormPath   string
	SubmitPath string
	FormField  string

	PayloadColumn string
	PayloadDigits int

	UserAgent string
	Timeout   time.Duration

	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig returns the settings of the production lookup site.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		BaseURL:         "https://tgsouthernpower.org",
		FormPath:        "/knowyourusn",
		SubmitPath:      "/getUkscno",
		FormField:       "ukscno",
		PayloadColumn:   "Mobile",
		PayloadDigits:   10,
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		Timeout:         30 * time.Second,
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lookup responded %d %s", e.Code, http.StatusText(e.Code))
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client performs single lookup attempts over HTTP.
type Client struct {
	http       *http.Client
	cfg        Config
	submitURL  string
	formURL    string
	extraction Extraction
}

// NewClient creates a client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		http:       httpClient,
		cfg:        cfg,
		submitURL:  base + cfg.SubmitPath,
		formURL:    base + cfg.FormPath,
		extraction: Extraction{Column: cfg.PayloadColumn, Digits: cfg.PayloadDigits},
	}
}

var _ ranges.Resolver = (*Client)(nil)

// Resolve implements ranges.Resolver with one request.
func (c *Client) Resolve(ctx context.Context, identifier string) (ranges.Outcome, error) {
	identifier = strings.TrimSpace(identifier)
	out := ranges.Outcome{Identifier: identifier, Attempts: 1}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	form := url.Values{c.cfg.FormField: {identifier}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitURL, strings.NewReader(form.Encode()))
	if err != nil {
		return out, fmt.Errorf("build lookup request: %w", err)
	}
	c.browserHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.formURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return out, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return out, &StatusError{Code: resp.StatusCode}
	}

	payload, found, err := c.extraction.Extract(resp.Body, identifier)
	if err != nil {
		return out, classify(err)
	}
	out.Found = found
	out.Payload = payload
	return out, nil
}

// Health fetches the form page.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.formURL, nil)
	if err != nil {
		return err
	}
	c.browserHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func (c *Client) browserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// classify maps deadline errors onto ranges.ErrTimeout.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ranges.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ranges.ErrTimeout, err)
	}
	return err
}
