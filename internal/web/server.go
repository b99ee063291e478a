package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyunsoo-kim/Bill-Herald/internal/cache"
	"github.com/hyunsoo-kim/Bill-Herald/internal/crawl"
	"github.com/hyunsoo-kim/Bill-Herald/internal/engine"
	"github.com/hyunsoo-kim/Bill-Herald/internal/events"
	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
	"github.com/hyunsoo-kim/Bill-Herald/internal/notify"
	"github.com/hyunsoo-kim/Bill-Herald/internal/store"
)

// EndpointRegistry is the subset of the webhook store the API uses.
type EndpointRegistry interface {
	CreateOrReactivate(ctx context.Context, rawURL string) (store.Endpoint, store.UpsertOutcome, error)
	FindByURL(ctx context.Context, rawURL string) (store.Endpoint, error)
	Count(ctx context.Context) (int, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// NoticeSource reads the recency cache.
type NoticeSource interface {
	Recent(ctx context.Context, limit int) ([]crawl.Notice, error)
	Meta(ctx context.Context) (cache.Meta, error)
	Ping(ctx context.Context) error
}

// DeliveryTester performs the live probe a registration must pass.
type DeliveryTester interface {
	TestDelivery(ctx context.Context, endpoint string) notify.Result
}

// TokenVerifier checks a captcha token against the external oracle.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// BatchInspector exposes the executor's job table.
type BatchInspector interface {
	Status() engine.ExecutorStatus
}

// CrawlInspector exposes the scheduler state.
type CrawlInspector interface {
	Status() engine.SchedulerStatus
}

// HealthInspector runs on-demand registry diagnostics.
type HealthInspector interface {
	Diagnose(ctx context.Context) (engine.Diagnostics, error)
}

// EventStream is the SSE fan-out bus.
type EventStream interface {
	Publish(evt events.SSEEvent)
	Subscribe() (<-chan events.SSEEvent, func())
}

// Dependencies carries everything the HTTP surface needs. Narrow interfaces
// keep handler tests small.
type Dependencies struct {
	Registry  EndpointRegistry
	Notices   NoticeSource
	Tester    DeliveryTester
	Verifier  TokenVerifier
	Executor  BatchInspector
	Scheduler CrawlInspector
	Health    HealthInspector
	Events    EventStream

	// Origins lists the allowed CORS origins (from FRONTEND_URL). Empty
	// means any origin, without credentials.
	Origins []string

	Log *logging.Logger
}

// Server is the public HTTP surface: the /api routes the frontend talks to
// plus the Prometheus endpoint.
type Server struct {
	deps   Dependencies
	mux    *chi.Mux
	server *http.Server
}

func NewServer(deps Dependencies) *Server {
	s := &Server{deps: deps}

	origins := deps.Origins
	credentials := true
	if len(origins) == 0 {
		origins = []string{"*"}
		credentials = false
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: credentials,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks", s.apiRegisterWebhook)
		r.Get("/webhooks/stats/detailed", s.apiDetailedStats)
		r.Get("/webhooks/system-health", s.apiSystemHealth)
		r.Get("/notices/recent", s.apiRecentNotices)
		r.Get("/stats", s.apiStats)
		r.Get("/batch/status", s.apiBatchStatus)
		r.Get("/health", s.apiHealth)
		r.Get("/events", s.apiEvents)
	})
	r.Handle("/metrics", promhttp.Handler())

	s.mux = r
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe blocks serving HTTP until the listener fails or Shutdown
// is called.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  120 * time.Second,
	}
	s.deps.Log.Info("api listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// logRequests emits one debug line per request after it completes.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.deps.Log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
