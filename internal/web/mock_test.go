package web

import (
	"context"

	"github.com/hyunsoo-kim/Bill-Herald/internal/cache"
	"github.com/hyunsoo-kim/Bill-Herald/internal/crawl"
	"github.com/hyunsoo-kim/Bill-Herald/internal/engine"
	"github.com/hyunsoo-kim/Bill-Herald/internal/events"
	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
	"github.com/hyunsoo-kim/Bill-Herald/internal/notify"
	"github.com/hyunsoo-kim/Bill-Herald/internal/store"
)

// mockRegistry implements EndpointRegistry in memory. byURL seeds the
// duplicate lookup; the err fields force failures on individual calls.
type mockRegistry struct {
	byURL      map[string]store.Endpoint
	findErr    error
	upsertEp   store.Endpoint
	upsertOut  store.UpsertOutcome
	upsertErr  error
	count      int
	countErr   error
	stats      store.Stats
	statsErr   error
	registered []string
}

func (m *mockRegistry) CreateOrReactivate(_ context.Context, rawURL string) (store.Endpoint, store.UpsertOutcome, error) {
	if m.upsertErr != nil {
		return store.Endpoint{}, 0, m.upsertErr
	}
	m.registered = append(m.registered, rawURL)
	return m.upsertEp, m.upsertOut, nil
}

func (m *mockRegistry) FindByURL(_ context.Context, rawURL string) (store.Endpoint, error) {
	if m.findErr != nil {
		return store.Endpoint{}, m.findErr
	}
	ep, ok := m.byURL[rawURL]
	if !ok {
		return store.Endpoint{}, store.ErrNotFound
	}
	return ep, nil
}

func (m *mockRegistry) Count(context.Context) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.count, nil
}

func (m *mockRegistry) Stats(context.Context) (store.Stats, error) {
	if m.statsErr != nil {
		return store.Stats{}, m.statsErr
	}
	return m.stats, nil
}

// mockNotices implements NoticeSource with canned values.
type mockNotices struct {
	notices     []crawl.Notice
	recentErr   error
	recentLimit int
	meta        cache.Meta
	metaErr     error
	pingErr     error
}

func (m *mockNotices) Recent(_ context.Context, limit int) ([]crawl.Notice, error) {
	m.recentLimit = limit
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	return m.notices, nil
}

func (m *mockNotices) Meta(context.Context) (cache.Meta, error) {
	if m.metaErr != nil {
		return cache.Meta{}, m.metaErr
	}
	return m.meta, nil
}

func (m *mockNotices) Ping(context.Context) error { return m.pingErr }

// mockTester implements DeliveryTester, recording probed endpoints.
type mockTester struct {
	result notify.Result
	probed []string
}

func (m *mockTester) TestDelivery(_ context.Context, endpoint string) notify.Result {
	m.probed = append(m.probed, endpoint)
	return m.result
}

// mockVerifier implements TokenVerifier, recording presented tokens.
type mockVerifier struct {
	ok     bool
	err    error
	tokens []string
}

func (m *mockVerifier) Verify(_ context.Context, token string) (bool, error) {
	m.tokens = append(m.tokens, token)
	return m.ok, m.err
}

type mockExecInspector struct{ status engine.ExecutorStatus }

func (m *mockExecInspector) Status() engine.ExecutorStatus { return m.status }

type mockSchedInspector struct{ status engine.SchedulerStatus }

func (m *mockSchedInspector) Status() engine.SchedulerStatus { return m.status }

type mockHealthInspector struct {
	diag engine.Diagnostics
	err  error
}

func (m *mockHealthInspector) Diagnose(context.Context) (engine.Diagnostics, error) {
	return m.diag, m.err
}

// apiHarness wires a Server with mock dependencies and a real event bus.
type apiHarness struct {
	srv      *Server
	registry *mockRegistry
	notices  *mockNotices
	tester   *mockTester
	verifier *mockVerifier
	exec     *mockExecInspector
	sched    *mockSchedInspector
	health   *mockHealthInspector
	bus      *events.Bus
}

func newAPIHarness() *apiHarness {
	h := &apiHarness{
		registry: &mockRegistry{
			byURL:     map[string]store.Endpoint{},
			upsertEp:  store.Endpoint{ID: 7, Active: true},
			upsertOut: store.OutcomeCreated,
			count:     3,
		},
		notices:  &mockNotices{},
		tester:   &mockTester{result: notify.Result{Success: true}},
		verifier: &mockVerifier{ok: true},
		exec:     &mockExecInspector{},
		sched:    &mockSchedInspector{},
		health:   &mockHealthInspector{},
		bus:      events.New(),
	}
	h.srv = NewServer(Dependencies{
		Registry:  h.registry,
		Notices:   h.notices,
		Tester:    h.tester,
		Verifier:  h.verifier,
		Executor:  h.exec,
		Scheduler: h.sched,
		Health:    h.health,
		Events:    h.bus,
		Log:       logging.New(false),
	})
	return h
}
