package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyunsoo-kim/Bill-Herald/internal/alert"
	"github.com/hyunsoo-kim/Bill-Herald/internal/clock"
	"github.com/hyunsoo-kim/Bill-Herald/internal/crawl"
	"github.com/hyunsoo-kim/Bill-Herald/internal/events"
	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
	"github.com/hyunsoo-kim/Bill-Herald/internal/metrics"
)

// NoticeCache is the slice of the recency cache the scheduler drives. It
// is the cache's only mutator.
type NoticeCache interface {
	Initialize(ctx context.Context, notices []crawl.Notice) error
	FindNew(ctx context.Context, crawled []crawl.Notice) []crawl.Notice
	Update(ctx context.Context, crawled []crawl.Notice) error
}

// NoticeDispatcher fans new notices out to endpoints.
type NoticeDispatcher interface {
	Dispatch(ctx context.Context, notices []crawl.Notice) ([]DispatchResult, error)
}

// SchedulerStatus is a snapshot of the crawl loop for the API.
type SchedulerStatus struct {
	Initialized bool      `json:"initialized"`
	Processing  bool      `json:"processing"`
	LastCrawl   time.Time `json:"lastCrawl"`
	Interval    string    `json:"interval"`
}

// Scheduler crawls the notice index on a fixed cadence, diffs against the
// recency cache and hands new notices to the dispatcher. Ticks are
// strictly non-reentrant: a tick that finds the previous one still running
// skips.
type Scheduler struct {
	crawler  crawl.Crawler
	cache    NoticeCache
	dispatch NoticeDispatcher
	alerts   *alert.Multi
	bus      *events.Bus
	clk      clock.Clock
	log      *logging.Logger
	interval time.Duration

	initialized  atomic.Bool
	isProcessing atomic.Bool

	mu        sync.Mutex
	lastCrawl time.Time
}

func NewScheduler(crawler crawl.Crawler, cache NoticeCache, dispatch NoticeDispatcher, alerts *alert.Multi, bus *events.Bus, clk clock.Clock, log *logging.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		crawler:  crawler,
		cache:    cache,
		dispatch: dispatch,
		alerts:   alerts,
		bus:      bus,
		clk:      clk,
		log:      log.Component("scheduler"),
		interval: interval,
	}
}

// InitializeCache performs the startup crawl and warms the recency cache.
// Until it succeeds, ticks keep retrying it instead of diffing.
func (s *Scheduler) InitializeCache(ctx context.Context) error {
	notices, err := s.crawler.Crawl(ctx)
	if err != nil {
		metrics.CrawlsTotal.WithLabelValues("error").Inc()
		s.alerts.Raise(ctx, alert.Event{
			Type:    alert.EventCrawlFailed,
			Message: "initial crawl failed",
			Error:   err.Error(),
		})
		return fmt.Errorf("initial crawl: %w", err)
	}
	metrics.CrawlsTotal.WithLabelValues("ok").Inc()

	if err := s.cache.Initialize(ctx, notices); err != nil {
		return fmt.Errorf("warm recency cache: %w", err)
	}
	s.initialized.Store(true)
	s.setLastCrawl(s.clk.Now())
	s.log.Info("recency cache initialized", "notices", len(notices))
	return nil
}

// Run drives the tick loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("crawl scheduler started", "interval", s.interval)
	for {
		select {
		case <-s.clk.After(s.interval):
			s.Tick(ctx)
		case <-ctx.Done():
			s.log.Info("crawl scheduler stopped")
			return nil
		}
	}
}

// Tick runs one crawl-diff-dispatch cycle.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.initialized.Load() {
		if err := s.InitializeCache(ctx); err != nil {
			s.log.Warn("cache not initialized, skipping tick", "error", err)
		}
		return
	}
	if !s.isProcessing.CompareAndSwap(false, true) {
		s.log.Warn("previous tick still running, skipping")
		return
	}
	defer s.isProcessing.Store(false)

	start := s.clk.Now()
	crawled, err := s.crawler.Crawl(ctx)
	metrics.CrawlDuration.Observe(s.clk.Since(start).Seconds())
	if err != nil {
		metrics.CrawlsTotal.WithLabelValues("error").Inc()
		s.log.Error("crawl failed", "error", err)
		s.alerts.Raise(ctx, alert.Event{
			Type:    alert.EventCrawlFailed,
			Message: "scheduled crawl failed",
			Error:   err.Error(),
		})
		return
	}
	metrics.CrawlsTotal.WithLabelValues("ok").Inc()
	s.setLastCrawl(s.clk.Now())

	if len(crawled) == 0 {
		s.log.Warn("crawl returned no notices, skipping tick")
		return
	}

	fresh := s.cache.FindNew(ctx, crawled)
	if len(fresh) == 0 {
		// Keep the window's ordering current even when nothing is new.
		if err := s.cache.Update(ctx, crawled); err != nil {
			s.log.Error("cache update failed", "error", err)
		}
		s.publishCrawl(len(crawled), 0)
		return
	}

	metrics.NoticesDiscovered.Add(float64(len(fresh)))
	s.log.Info("new notices found", "count", len(fresh), "crawled", len(crawled))

	_, dispatchErr := s.dispatch.Dispatch(ctx, fresh)

	// The cache must advance even when dispatch failed, otherwise the next
	// tick re-fires the same notices.
	if err := s.cache.Update(ctx, crawled); err != nil {
		s.log.Error("cache update failed", "error", err)
	}
	if dispatchErr != nil {
		s.log.Error("dispatch failed", "error", dispatchErr, "notices", len(fresh))
	}
	s.publishCrawl(len(crawled), len(fresh))
}

// TriggerCrawl runs a tick outside the normal cadence.
func (s *Scheduler) TriggerCrawl(ctx context.Context) {
	s.log.Info("manual crawl triggered")
	s.Tick(ctx)
}

// Initialized reports whether the startup crawl has succeeded.
func (s *Scheduler) Initialized() bool { return s.initialized.Load() }

// Status returns a snapshot for the API.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	last := s.lastCrawl
	s.mu.Unlock()
	return SchedulerStatus{
		Initialized: s.initialized.Load(),
		Processing:  s.isProcessing.Load(),
		LastCrawl:   last,
		Interval:    s.interval.String(),
	}
}

func (s *Scheduler) setLastCrawl(t time.Time) {
	s.mu.Lock()
	s.lastCrawl = t
	s.mu.Unlock()
}

func (s *Scheduler) publishCrawl(crawled, fresh int) {
	s.bus.Publish(events.SSEEvent{
		Type:      events.EventCrawlCompleted,
		Message:   fmt.Sprintf("total=%d new=%d", crawled, fresh),
		Timestamp: s.clk.Now(),
	})
}
