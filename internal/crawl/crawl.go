// Package crawl fetches the legislative-notice index and parses its rows.
package crawl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hyunsoo-kim/Bill-Herald/internal/clock"
	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
)

// Notice is one scraped legislative announcement. Num is assigned upstream
// and is monotone: higher means newer. Identity for diffing is Num alone.
type Notice struct {
	Num              int    `json:"num"`
	Subject          string `json:"subject"`
	ProposerCategory string `json:"proposerCategory"`
	Committee        string `json:"committee"`
	Link             string `json:"link"`
}

// Crawler produces the current upstream notice list, newest first.
type Crawler interface {
	Crawl(ctx context.Context) ([]Notice, error)
}

const (
	// DefaultBaseURL is the National Assembly legislative-notice site.
	DefaultBaseURL = "https://pal.assembly.go.kr"
	defaultList    = "/napal/lgsltpa/lgsltpaOngoing/list.do?menuNo=1100026"

	defaultUserAgent = "Mozilla/5.0 (compatible; BillHerald/1.0)"
	defaultTimeout   = 15 * time.Second
	defaultRetries   = 3
)

// Options configures the HTTP crawler. Zero values take defaults.
type Options struct {
	BaseURL    string
	ListPath   string
	UserAgent  string
	Timeout    time.Duration // per-attempt ceiling
	Retries    int           // retries after the first attempt
	RetryDelay time.Duration
}

// Client fetches and parses the upstream index over HTTP.
type Client struct {
	httpc      *http.Client
	base       *url.URL
	listPath   string
	userAgent  string
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	log        *logging.Logger
	clk        clock.Clock
}

// New creates a crawler client.
func New(opts Options, log *logging.Logger, clk clock.Clock) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ListPath == "" {
		opts.ListPath = defaultList
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("crawl: parse base url %q: %w", opts.BaseURL, err)
	}

	return &Client{
		httpc:      &http.Client{Timeout: opts.Timeout},
		base:       base,
		listPath:   opts.ListPath,
		userAgent:  opts.UserAgent,
		timeout:    opts.Timeout,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		log:        log,
		clk:        clk,
	}, nil
}

// Crawl fetches the index page, retrying transient failures. The returned
// slice preserves page order (newest rows first).
func (c *Client) Crawl(ctx context.Context) ([]Notice, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.log.Warn("crawl retrying", "attempt", attempt, "error", lastErr)
			if err := c.clk.Sleep(ctx, c.retryDelay); err != nil {
				return nil, err
			}
		}

		notices, err := c.fetchOnce(ctx)
		if err == nil {
			return notices, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("crawl: %w", lastErr)
}

func (c *Client) fetchOnce(ctx context.Context) ([]Notice, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	listURL, err := url.Parse(c.listPath)
	if err != nil {
		return nil, fmt.Errorf("parse list path: %w", err)
	}
	target := c.base.ResolveReference(listURL).String()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "ko, en;q=0.5")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch index: unexpected status %d", resp.StatusCode)
	}

	notices, err := ParseList(resp.Body, c.base)
	if err != nil {
		return nil, err
	}
	return notices, nil
}
