package engine

import (
	"context"
	"sync"
	"time"

	"github.com/hyunsoo-kim/Bill-Herald/internal/alert"
	"github.com/hyunsoo-kim/Bill-Herald/internal/crawl"
	"github.com/hyunsoo-kim/Bill-Herald/internal/notify"
	"github.com/hyunsoo-kim/Bill-Herald/internal/store"
)

// mockClock implements clock.Clock for engine tests. Sleep returns
// immediately, recording the requested duration and advancing the clock.
type mockClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newMockClock(t time.Time) *mockClock {
	return &mockClock{now: t}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func (c *mockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *mockClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *mockClock) recordedSleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// mockCrawler implements crawl.Crawler, replaying scripted results.
type mockCrawler struct {
	mu      sync.Mutex
	results []crawlResult
	calls   int
}

type crawlResult struct {
	notices []crawl.Notice
	err     error
}

// script queues one crawl outcome. The last queued outcome repeats once
// the queue drains.
func (m *mockCrawler) script(notices []crawl.Notice, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, crawlResult{notices: notices, err: err})
}

func (m *mockCrawler) Crawl(_ context.Context) ([]crawl.Notice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.results) == 0 {
		return nil, nil
	}
	r := m.results[0]
	if len(m.results) > 1 {
		m.results = m.results[1:]
	}
	return r.notices, r.err
}

func (m *mockCrawler) crawlCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockCache implements NoticeCache, recording every call.
type mockCache struct {
	mu          sync.Mutex
	initCalls   [][]crawl.Notice
	initErr     error
	fresh       []crawl.Notice
	findCalls   [][]crawl.Notice
	updateCalls [][]crawl.Notice
	updateErr   error
}

func (m *mockCache) Initialize(_ context.Context, notices []crawl.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls = append(m.initCalls, notices)
	return m.initErr
}

func (m *mockCache) FindNew(_ context.Context, crawled []crawl.Notice) []crawl.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls = append(m.findCalls, crawled)
	return m.fresh
}

func (m *mockCache) Update(_ context.Context, crawled []crawl.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls = append(m.updateCalls, crawled)
	return m.updateErr
}

func (m *mockCache) updates() [][]crawl.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]crawl.Notice(nil), m.updateCalls...)
}

// mockDispatcher implements NoticeDispatcher for scheduler tests.
type mockDispatcher struct {
	mu    sync.Mutex
	calls [][]crawl.Notice
	err   error
}

func (m *mockDispatcher) Dispatch(_ context.Context, notices []crawl.Notice) ([]DispatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, notices)
	if m.err != nil {
		return nil, m.err
	}
	results := make([]DispatchResult, len(notices))
	for i, n := range notices {
		results[i] = DispatchResult{Notice: n}
	}
	return results, nil
}

func (m *mockDispatcher) dispatched() [][]crawl.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]crawl.Notice(nil), m.calls...)
}

// mockDirectory implements EndpointDirectory for dispatcher tests.
type mockDirectory struct {
	mu            sync.Mutex
	endpoints     []store.Endpoint
	findErr       error
	findCalls     int
	deactivated   []int64
	deactivateErr map[int64]error
}

func (m *mockDirectory) FindActive(_ context.Context) ([]store.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	return append([]store.Endpoint(nil), m.endpoints...), nil
}

func (m *mockDirectory) Deactivate(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.deactivateErr[id]; ok {
		return err
	}
	m.deactivated = append(m.deactivated, id)
	for i, ep := range m.endpoints {
		if ep.ID == id {
			m.endpoints[i].Active = false
		}
	}
	return nil
}

func (m *mockDirectory) deactivatedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.deactivated...)
}

// mockPacer implements Pacer, recording acquire and record calls.
type mockPacer struct {
	mu         sync.Mutex
	acquireErr error
	acquires   []int64
	records    []int64
}

func (m *mockPacer) Acquire(_ context.Context, endpointID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquires = append(m.acquires, endpointID)
	return m.acquireErr
}

func (m *mockPacer) Record(_ context.Context, endpointID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, endpointID)
}

func (m *mockPacer) acquired() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.acquires...)
}

func (m *mockPacer) recorded() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.records...)
}

// mockSender implements notify.Sender with per-URL scripted results. Each
// Send pops the next queued result for that URL; the last result repeats.
type mockSender struct {
	mu      sync.Mutex
	results map[string][]notify.Result
	sends   []string
	started chan<- struct{}
	release <-chan struct{}
}

func newMockSender() *mockSender {
	return &mockSender{results: make(map[string][]notify.Result)}
}

func (m *mockSender) script(url string, results ...notify.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[url] = append(m.results[url], results...)
}

// blockOn makes every Send signal started and wait for release before
// returning, so a test can hold a delivery in flight.
func (m *mockSender) blockOn(started chan<- struct{}, release <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = started
	m.release = release
}

func (m *mockSender) Send(_ context.Context, url string, _ notify.Embed) notify.Result {
	m.mu.Lock()
	m.sends = append(m.sends, url)
	r := notify.Result{Success: true}
	if queue := m.results[url]; len(queue) > 0 {
		r = queue[0]
		if len(queue) > 1 {
			m.results[url] = queue[1:]
		}
	}
	started, release := m.started, m.release
	m.mu.Unlock()

	// The wait happens outside the lock so sentTo stays callable while a
	// send is held open.
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}
	return r
}

func (m *mockSender) TestDelivery(ctx context.Context, url string) notify.Result {
	return m.Send(ctx, url, notify.Embed{})
}

func (m *mockSender) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sends...)
}

// mockJanitor implements EndpointJanitor for health monitor tests. When
// failCall is set, cleanupErr hits only that call (1-based); otherwise it
// hits every call.
type mockJanitor struct {
	mu           sync.Mutex
	stats        store.Stats
	statsErr     error
	cleanupCalls []int
	cleanupErr   error
	failCall     int
	deletedPer   int
}

func (m *mockJanitor) Stats(_ context.Context) (store.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statsErr != nil {
		return store.Stats{}, m.statsErr
	}
	return m.stats, nil
}

func (m *mockJanitor) CleanupOlderInactive(_ context.Context, ageDays int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCalls = append(m.cleanupCalls, ageDays)
	if m.cleanupErr != nil && (m.failCall == 0 || m.failCall == len(m.cleanupCalls)) {
		return 0, m.cleanupErr
	}
	return m.deletedPer, nil
}

func (m *mockJanitor) cleanups() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.cleanupCalls...)
}

// spyAlerter records raised events for assertions.
type spyAlerter struct {
	mu     sync.Mutex
	events []alert.Event
	err    error
}

func (s *spyAlerter) Send(_ context.Context, event alert.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *spyAlerter) Name() string { return "spy" }

func (s *spyAlerter) raised() []alert.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alert.Event(nil), s.events...)
}
