package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hyunsoo-kim/Bill-Herald/internal/cache"
	"github.com/hyunsoo-kim/Bill-Herald/internal/engine"
	"github.com/hyunsoo-kim/Bill-Herald/internal/events"
	"github.com/hyunsoo-kim/Bill-Herald/internal/metrics"
	"github.com/hyunsoo-kim/Bill-Herald/internal/notify"
	"github.com/hyunsoo-kim/Bill-Herald/internal/store"
)

// maxActiveEndpoints caps how many endpoints may be active at once.
const maxActiveEndpoints = 100

// recentNoticesLimit is how many cached notices the frontend gets.
const recentNoticesLimit = 20

// registerRequest is the POST /api/webhooks body.
type registerRequest struct {
	URL            string `json:"url"`
	RecaptchaToken string `json:"recaptchaToken"`
}

// apiRegisterWebhook runs the registration pipeline: shape validation,
// captcha verification, duplicate and quota checks, then a live test
// delivery before the endpoint is persisted. Order matters: the live test
// posts a visible message into the subscriber's channel, so every cheap
// rejection happens first.
func (s *Server) apiRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		writeFail(w, http.StatusBadRequest, "요청 본문을 읽을 수 없습니다")
		return
	}

	if errs := validateWebhookURL(req.URL); len(errs) > 0 {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, response{
			Success: false,
			Message: "유효하지 않은 웹훅 URL입니다",
			Errors:  errs,
		})
		return
	}

	ok, err := s.deps.Verifier.Verify(ctx, req.RecaptchaToken)
	if err != nil {
		s.deps.Log.Error("recaptcha verification errored", "error", err)
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		writeInternal(w, err)
		return
	}
	if !ok {
		metrics.RegistrationsTotal.WithLabelValues("verification_failed").Inc()
		writeFail(w, http.StatusBadRequest, "reCAPTCHA 검증에 실패했습니다")
		return
	}

	existing, err := s.deps.Registry.FindByURL(ctx, req.URL)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.deps.Log.Error("duplicate lookup failed", "error", err)
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		writeInternal(w, err)
		return
	}
	if err == nil && existing.Active {
		metrics.RegistrationsTotal.WithLabelValues("duplicate").Inc()
		writeFail(w, http.StatusConflict, "이미 등록된 웹훅입니다")
		return
	}

	active, err := s.deps.Registry.Count(ctx)
	if err != nil {
		s.deps.Log.Error("active count failed", "error", err)
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		writeInternal(w, err)
		return
	}
	if active >= maxActiveEndpoints {
		metrics.RegistrationsTotal.WithLabelValues("quota").Inc()
		writeJSON(w, http.StatusTooManyRequests, response{
			Success: false,
			Message: "등록 가능한 웹훅 수를 초과했습니다 (최대 100개)",
			Details: map[string]int{"active": active, "max": maxActiveEndpoints},
		})
		return
	}

	probe := s.deps.Tester.TestDelivery(ctx, req.URL)
	if !probe.Success {
		metrics.RegistrationsTotal.WithLabelValues("test_failed").Inc()
		writeJSON(w, http.StatusBadRequest, response{
			Success:    false,
			Message:    deliveryTestMessage(probe.Category),
			TestResult: &testResult{Success: false, Category: string(probe.Category)},
		})
		return
	}

	ep, outcome, err := s.deps.Registry.CreateOrReactivate(ctx, req.URL)
	if err != nil {
		s.deps.Log.Error("webhook registration failed", "error", err)
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		writeInternal(w, err)
		return
	}

	msg := "웹훅이 등록되었습니다"
	label := "created"
	if outcome == store.OutcomeReactivated {
		msg = "웹훅이 다시 활성화되었습니다"
		label = "reactivated"
	}
	metrics.RegistrationsTotal.WithLabelValues(label).Inc()
	s.deps.Log.Info("webhook registered", "id", ep.ID, "outcome", label)
	s.deps.Events.Publish(events.SSEEvent{
		Type:      events.EventEndpointRegistered,
		Endpoint:  ep.ID,
		Message:   msg,
		Timestamp: time.Now(),
	})

	writeJSON(w, http.StatusCreated, response{
		Success:    true,
		Message:    msg,
		Data:       ep,
		TestResult: &testResult{Success: true},
	})
}

// deliveryTestMessage maps a failed live-test category to the user-facing
// rejection message.
func deliveryTestMessage(cat notify.Category) string {
	switch cat {
	case notify.CategoryNotFound:
		return "존재하지 않는 웹훅입니다. Discord에서 웹훅이 삭제되지 않았는지 확인해주세요"
	case notify.CategoryUnauthorized, notify.CategoryForbidden:
		return "웹훅에 접근할 수 없습니다. 웹훅 권한을 확인해주세요"
	case notify.CategoryRateLimited:
		return "Discord 요청 한도에 도달했습니다. 잠시 후 다시 시도해주세요"
	case notify.CategoryNetworkError:
		return "Discord에 연결할 수 없습니다. 잠시 후 다시 시도해주세요"
	case notify.CategoryInvalidWebhook:
		return "유효하지 않은 웹훅 URL입니다"
	default:
		return "웹훅 테스트 전송에 실패했습니다"
	}
}

func (s *Server) apiRecentNotices(w http.ResponseWriter, r *http.Request) {
	notices, err := s.deps.Notices.Recent(r.Context(), recentNoticesLimit)
	if err != nil {
		s.deps.Log.Error("recent notices lookup failed", "error", err)
		writeInternal(w, err)
		return
	}
	writeData(w, http.StatusOK, notices)
}

func (s *Server) apiStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := s.deps.Registry.Stats(ctx)
	if err != nil {
		s.deps.Log.Error("webhook stats failed", "error", err)
		writeInternal(w, err)
		return
	}
	meta, err := s.deps.Notices.Meta(ctx)
	if err != nil {
		s.deps.Log.Error("cache meta failed", "error", err)
		writeInternal(w, err)
		return
	}
	writeData(w, http.StatusOK, struct {
		Webhooks        store.Stats           `json:"webhooks"`
		Cache           cache.Meta            `json:"cache"`
		BatchProcessing engine.ExecutorStatus `json:"batchProcessing"`
	}{st, meta, s.deps.Executor.Status()})
}

func (s *Server) apiBatchStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, struct {
		Executor  engine.ExecutorStatus  `json:"executor"`
		Scheduler engine.SchedulerStatus `json:"scheduler"`
	}{s.deps.Executor.Status(), s.deps.Scheduler.Status()})
}

func (s *Server) apiHealth(w http.ResponseWriter, r *http.Request) {
	cacheState := "connected"
	if err := s.deps.Notices.Ping(r.Context()); err != nil {
		cacheState = "disconnected"
	}
	writeData(w, http.StatusOK, struct {
		Timestamp time.Time `json:"timestamp"`
		Cache     string    `json:"cache"`
	}{time.Now(), cacheState})
}

func (s *Server) apiDetailedStats(w http.ResponseWriter, r *http.Request) {
	diag, err := s.deps.Health.Diagnose(r.Context())
	if err != nil {
		s.deps.Log.Error("registry diagnostics failed", "error", err)
		writeInternal(w, err)
		return
	}
	writeData(w, http.StatusOK, diag)
}

func (s *Server) apiSystemHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Registry.Stats(r.Context())
	if err != nil {
		s.deps.Log.Error("webhook stats failed", "error", err)
		writeInternal(w, err)
		return
	}
	eff := st.Efficiency()
	status := "healthy"
	if eff < 70 {
		status = "needs_optimization"
	}
	writeData(w, http.StatusOK, struct {
		Efficiency float64     `json:"efficiency"`
		Stats      store.Stats `json:"stats"`
		Status     string      `json:"status"`
	}{eff, st, status})
}
