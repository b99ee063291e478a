// Package notify delivers legislative notice embeds to Discord-compatible
// webhook endpoints and classifies delivery failures so the dispatcher can
// tell broken endpoints from transient trouble.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hyunsoo-kim/Bill-Herald/internal/clock"
	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
	"github.com/hyunsoo-kim/Bill-Herald/internal/metrics"
)

// Category classifies a failed delivery.
type Category string

const (
	CategoryNotFound       Category = "NOT_FOUND"
	CategoryUnauthorized   Category = "UNAUTHORIZED"
	CategoryForbidden      Category = "FORBIDDEN"
	CategoryRateLimited    Category = "RATE_LIMITED"
	CategoryNetworkError   Category = "NETWORK_ERROR"
	CategoryInvalidWebhook Category = "INVALID_WEBHOOK"
	CategoryUnknownError   Category = "UNKNOWN_ERROR"
)

// Permanent reports whether a failure of this category cannot heal on its
// own. Permanent failures mark the endpoint for deactivation.
func (c Category) Permanent() bool {
	switch c {
	case CategoryNotFound, CategoryUnauthorized, CategoryForbidden, CategoryInvalidWebhook:
		return true
	}
	return false
}

// providerCodeUnknownWebhook is Discord's JSON error code for a webhook
// that was deleted on the Discord side.
const providerCodeUnknownWebhook = 10015

// Result is the outcome of one delivery.
type Result struct {
	Success  bool
	Category Category // set when Success is false
	Err      error
	Duration time.Duration
}

// ShouldDelete reports whether the endpoint is permanently broken and must
// not receive further deliveries.
func (r Result) ShouldDelete() bool { return !r.Success && r.Category.Permanent() }

// Sender delivers embeds to webhook endpoints.
type Sender interface {
	Send(ctx context.Context, url string, embed Embed) Result
	TestDelivery(ctx context.Context, url string) Result
}

// Discord posts embeds to Discord webhook URLs.
type Discord struct {
	client *http.Client
	msgs   Messages
	clk    clock.Clock
	log    *logging.Logger
}

func NewDiscord(msgs Messages, clk clock.Clock, log *logging.Logger) *Discord {
	return &Discord{
		client: &http.Client{Timeout: 10 * time.Second},
		msgs:   msgs,
		clk:    clk,
		log:    log.Component("notify"),
	}
}

// Send posts a single embed to the endpoint and classifies the outcome.
func (d *Discord) Send(ctx context.Context, endpoint string, embed Embed) Result {
	start := d.clk.Now()
	res := d.post(ctx, endpoint, embed)
	res.Duration = d.clk.Since(start)

	if res.Success {
		metrics.DeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		metrics.DeliveriesTotal.WithLabelValues(string(res.Category)).Inc()
		d.log.Warn("delivery failed",
			"category", string(res.Category),
			"permanent", res.Category.Permanent(),
			"error", res.Err)
	}
	metrics.DeliveryDuration.Observe(res.Duration.Seconds())
	return res
}

// TestDelivery sends the welcome embed, proving the endpoint accepts posts
// before it is registered.
func (d *Discord) TestDelivery(ctx context.Context, endpoint string) Result {
	return d.Send(ctx, endpoint, d.msgs.WelcomeEmbed(d.clk.Now()))
}

func (d *Discord) post(ctx context.Context, endpoint string, embed Embed) Result {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Result{Category: CategoryInvalidWebhook, Err: fmt.Errorf("invalid webhook url %q", endpoint)}
	}

	body, err := json.Marshal(payload{Username: d.msgs.Username, Embeds: []Embed{embed}})
	if err != nil {
		return Result{Category: CategoryUnknownError, Err: fmt.Errorf("marshal discord payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return Result{Category: CategoryInvalidWebhook, Err: fmt.Errorf("create discord request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{Category: classifyTransport(err), Err: fmt.Errorf("send discord request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Success: true}
	}
	cat := classifyStatus(resp.StatusCode, providerCode(resp.Body))
	return Result{Category: cat, Err: fmt.Errorf("discord returned %s", resp.Status)}
}

// classifyStatus maps an HTTP failure status, plus Discord's own error
// code when present, to a category. A deleted webhook answers 404 at the
// HTTP layer or code 10015 in the body; both mean the endpoint is gone.
func classifyStatus(status, code int) Category {
	switch {
	case status == http.StatusNotFound || code == providerCodeUnknownWebhook:
		return CategoryNotFound
	case status == http.StatusUnauthorized:
		return CategoryUnauthorized
	case status == http.StatusForbidden:
		return CategoryForbidden
	case status == http.StatusTooManyRequests:
		return CategoryRateLimited
	case status >= 400 && status < 500:
		return CategoryInvalidWebhook
	default:
		return CategoryUnknownError
	}
}

// classifyTransport maps errors from the HTTP round trip. Connection and
// resolution failures are transient; everything unrecognized stays
// non-permanent so an endpoint is never deactivated on a guess.
func classifyTransport(err error) Category {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryNetworkError
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryNetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryNetworkError
	}
	return CategoryUnknownError
}

// providerCode extracts Discord's error code from a failure body.
func providerCode(r io.Reader) int {
	raw, err := io.ReadAll(io.LimitReader(r, 4<<10))
	if err != nil {
		return 0
	}
	var body struct {
		Code int `json:"code"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return 0
	}
	return body.Code
}
