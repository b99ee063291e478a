// Package ratelimit paces outgoing webhook deliveries. Discord enforces
// both a global budget and a per-webhook budget; the limiter tracks the
// last send time for each in Redis so restarts and concurrent workers
// share the same view.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hyunsoo-kim/Bill-Herald/internal/clock"
	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
	"github.com/hyunsoo-kim/Bill-Herald/internal/metrics"
)

const (
	// GlobalInterval spaces sends across all endpoints: 30 per second.
	GlobalInterval = time.Second / 30
	// EndpointInterval spaces sends to a single endpoint: 60 per minute.
	EndpointInterval = time.Second

	keyGlobal   = "rate_limit:global"
	keyEndpoint = "rate_limit:webhook:"
)

// Limiter throttles sends against the global and per-endpoint budgets.
// State lives in Redis; when Redis is unreachable the limiter degrades to
// letting sends through rather than blocking deliveries.
type Limiter struct {
	rdb    *redis.Client
	prefix string
	clk    clock.Clock
	log    *logging.Logger
}

func New(rdb *redis.Client, prefix string, clk clock.Clock, log *logging.Logger) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix, clk: clk, log: log.Component("ratelimit")}
}

func (l *Limiter) endpointKey(id int64) string {
	return l.prefix + keyEndpoint + strconv.FormatInt(id, 10)
}

// Acquire blocks until a send to the endpoint fits both budgets. The wait
// is the larger of the global and per-endpoint remainders. Returns early
// with the context error when ctx is cancelled mid-wait.
func (l *Limiter) Acquire(ctx context.Context, endpointID int64) error {
	now := l.clk.Now()
	wait := l.remaining(ctx, l.prefix+keyGlobal, GlobalInterval, now)
	if w := l.remaining(ctx, l.endpointKey(endpointID), EndpointInterval, now); w > wait {
		wait = w
	}
	if wait <= 0 {
		return nil
	}
	metrics.RateLimitWait.Observe(wait.Seconds())
	return l.clk.Sleep(ctx, wait)
}

// Record stamps the endpoint and the global budget with the current time.
// Callers invoke it only after a delivery actually went out, so failed
// sends do not consume budget.
func (l *Limiter) Record(ctx context.Context, endpointID int64) {
	ms := strconv.FormatInt(l.clk.Now().UnixMilli(), 10)
	pipe := l.rdb.TxPipeline()
	pipe.Set(ctx, l.prefix+keyGlobal, ms, 0)
	pipe.Set(ctx, l.endpointKey(endpointID), ms, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("rate limit record failed", "endpointID", endpointID, "error", err)
	}
}

// remaining returns how long a send on key must still wait, or zero when
// the budget is free. Missing or unreadable state counts as free.
func (l *Limiter) remaining(ctx context.Context, key string, interval time.Duration, now time.Time) time.Duration {
	raw, err := l.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		l.log.Warn("rate limit read failed", "key", key, "error", err)
		return 0
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		l.log.Warn("rate limit state corrupt", "key", key, "value", raw)
		return 0
	}
	elapsed := now.Sub(time.UnixMilli(ms))
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}
