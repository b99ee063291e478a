package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
)

// recaptchaEndpoint is Google's token verification oracle.
const recaptchaEndpoint = "https://www.google.com/recaptcha/api/siteverify"

// Recaptcha verifies registration tokens against Google's siteverify API.
// An empty secret disables verification: every token is accepted and a
// warning is logged once. Load refuses an empty secret in production, so
// the disabled mode only ever runs in development.
type Recaptcha struct {
	secret   string
	endpoint string
	client   *http.Client
	log      *logging.Logger
	warnOnce sync.Once
}

func NewRecaptcha(secret string, log *logging.Logger) *Recaptcha {
	return &Recaptcha{
		secret:   secret,
		endpoint: recaptchaEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.Component("recaptcha"),
	}
}

// Verify reports whether the oracle accepted the token. A transport or
// decode failure is an error, not a rejection, so the caller can answer 500
// instead of blaming the user.
func (rc *Recaptcha) Verify(ctx context.Context, token string) (bool, error) {
	if rc.secret == "" {
		rc.warnOnce.Do(func() {
			rc.log.Warn("recaptcha secret not configured, accepting all tokens")
		})
		return true, nil
	}
	if token == "" {
		return false, nil
	}

	form := url.Values{"secret": {rc.secret}, "response": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("build recaptcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := rc.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify recaptcha token: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode recaptcha response: %w", err)
	}
	return out.Success, nil
}
