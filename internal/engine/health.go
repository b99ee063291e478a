package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hyunsoo-kim/Bill-Herald/internal/alert"
	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
	"github.com/hyunsoo-kim/Bill-Herald/internal/metrics"
	"github.com/hyunsoo-kim/Bill-Herald/internal/store"
)

// Retention thresholds for the adaptive cleanup passes.
const (
	retentionDefaultDays   = 14
	retentionReducedDays   = 7
	retentionEmergencyDays = 3

	dailyReducedEfficiency = 70
	dailyPurgeEfficiency   = 50
	optimizeEfficiency     = 80
	emergencyEfficiency    = 30

	emergencyMinTotal  = 100
	oldInactiveBacklog = 50
	registryWarnTotal  = 2000
)

// EndpointJanitor is the slice of the endpoint repository the monitor
// needs: aggregate stats and age-based physical deletion.
type EndpointJanitor interface {
	Stats(ctx context.Context) (store.Stats, error)
	CleanupOlderInactive(ctx context.Context, ageDays int) (int, error)
}

// Diagnostics grades the registry from its efficiency.
type Diagnostics struct {
	Efficiency float64     `json:"efficiency"`
	Grade      string      `json:"grade"`
	Stats      store.Stats `json:"stats"`
	CheckedAt  time.Time   `json:"checkedAt"`
}

// Grade maps efficiency to an operator-facing health grade.
func Grade(efficiency float64) string {
	switch {
	case efficiency >= 90:
		return "excellent"
	case efficiency >= 80:
		return "good"
	case efficiency >= 60:
		return "fair"
	case efficiency >= 40:
		return "poor"
	default:
		return "critical"
	}
}

// Health runs the adaptive endpoint cleanup schedules: a daily pass at
// midnight, an optimization pass at 02:00 and an hourly guard. Cleanup
// intensity scales with how degraded the registry is.
type Health struct {
	repo   EndpointJanitor
	alerts *alert.Multi
	log    *logging.Logger
	cron   *cron.Cron

	mu   sync.Mutex
	last Diagnostics
}

func NewHealth(repo EndpointJanitor, alerts *alert.Multi, loc *time.Location, log *logging.Logger) *Health {
	return &Health{
		repo:   repo,
		alerts: alerts,
		log:    log.Component("health"),
		cron:   cron.New(cron.WithLocation(loc)),
	}
}

// Start registers the three schedules and starts the cron runner.
func (h *Health) Start(ctx context.Context) error {
	schedules := []struct {
		spec string
		run  func(context.Context)
	}{
		{"0 0 * * *", h.DailyPass},
		{"0 2 * * *", h.OptimizePass},
		{"0 * * * *", h.HourlyPass},
	}
	for _, s := range schedules {
		run := s.run
		if _, err := h.cron.AddFunc(s.spec, func() { run(ctx) }); err != nil {
			return fmt.Errorf("register schedule %q: %w", s.spec, err)
		}
	}
	h.cron.Start()
	h.log.Info("endpoint health monitor started")
	return nil
}

// Stop halts the cron runner, waiting for a running pass to finish.
func (h *Health) Stop() {
	<-h.cron.Stop().Done()
	h.log.Info("endpoint health monitor stopped")
}

// DailyPass always removes long-inactive endpoints and tightens the
// retention window as efficiency drops.
func (h *Health) DailyPass(ctx context.Context) {
	st, err := h.repo.Stats(ctx)
	if err != nil {
		h.log.Error("daily cleanup: stats failed", "error", err)
		return
	}
	eff := st.Efficiency()

	deleted := 0
	n, err := h.repo.CleanupOlderInactive(ctx, retentionDefaultDays)
	if err != nil {
		h.log.Error("daily cleanup failed", "ageDays", retentionDefaultDays, "error", err)
		return
	}
	deleted += n

	if eff < dailyReducedEfficiency {
		if n, err = h.repo.CleanupOlderInactive(ctx, retentionReducedDays); err != nil {
			h.log.Error("daily cleanup failed", "ageDays", retentionReducedDays, "error", err)
		} else {
			deleted += n
		}
	}
	if eff < dailyPurgeEfficiency {
		if n, err = h.repo.CleanupOlderInactive(ctx, 0); err != nil {
			h.log.Error("daily cleanup failed", "ageDays", 0, "error", err)
		} else {
			deleted += n
		}
	}

	metrics.CleanupDeletions.WithLabelValues("daily").Add(float64(deleted))
	h.log.Info("daily cleanup complete", "deleted", deleted, "efficiency", fmt.Sprintf("%.1f", eff))
	h.diagnose(ctx)
}

// OptimizePass purges all inactive endpoints when the registry is
// noticeably degraded and warns when it is overgrown.
func (h *Health) OptimizePass(ctx context.Context) {
	st, err := h.repo.Stats(ctx)
	if err != nil {
		h.log.Error("optimization: stats failed", "error", err)
		return
	}
	eff := st.Efficiency()

	deleted := 0
	if eff < optimizeEfficiency && st.Inactive > 0 {
		deleted, err = h.repo.CleanupOlderInactive(ctx, 0)
		if err != nil {
			h.log.Error("optimization cleanup failed", "error", err)
			return
		}
	}
	if st.Total > registryWarnTotal {
		h.log.Warn("registry overgrown", "total", st.Total)
		h.alerts.Raise(ctx, alert.Event{
			Type:      alert.EventRegistryOverflow,
			Message:   fmt.Sprintf("registered endpoints exceed %d", registryWarnTotal),
			Endpoints: st.Total,
		})
	}

	metrics.CleanupDeletions.WithLabelValues("optimize").Add(float64(deleted))
	h.log.Info("optimization pass complete", "deleted", deleted, "efficiency", fmt.Sprintf("%.1f", eff))
	h.diagnose(ctx)
}

// HourlyPass is the emergency guard: a badly degraded registry is purged
// immediately, and a large inactive backlog is trimmed early.
func (h *Health) HourlyPass(ctx context.Context) {
	st, err := h.repo.Stats(ctx)
	if err != nil {
		h.log.Error("hourly monitor: stats failed", "error", err)
		return
	}
	eff := st.Efficiency()

	deleted := 0
	switch {
	case eff < emergencyEfficiency && st.Total > emergencyMinTotal:
		deleted, err = h.repo.CleanupOlderInactive(ctx, 0)
		if err != nil {
			h.log.Error("emergency cleanup failed", "error", err)
			return
		}
		h.log.Warn("emergency cleanup executed", "deleted", deleted, "efficiency", fmt.Sprintf("%.1f", eff))
		h.alerts.Raise(ctx, alert.Event{
			Type:      alert.EventEmergencyCleanup,
			Message:   "registry efficiency critical, purged all inactive endpoints",
			Endpoints: st.Total,
			Deleted:   deleted,
		})
	case st.OldInactive > oldInactiveBacklog:
		deleted, err = h.repo.CleanupOlderInactive(ctx, retentionEmergencyDays)
		if err != nil {
			h.log.Error("backlog cleanup failed", "error", err)
			return
		}
	}

	metrics.CleanupDeletions.WithLabelValues("hourly").Add(float64(deleted))
	h.diagnose(ctx)
}

// Diagnose grades the registry and caches the result for the API.
func (h *Health) Diagnose(ctx context.Context) (Diagnostics, error) {
	st, err := h.repo.Stats(ctx)
	if err != nil {
		return Diagnostics{}, err
	}
	d := Diagnostics{
		Efficiency: st.Efficiency(),
		Grade:      Grade(st.Efficiency()),
		Stats:      st,
		CheckedAt:  time.Now().UTC(),
	}
	h.mu.Lock()
	h.last = d
	h.mu.Unlock()
	return d, nil
}

// LastDiagnostics returns the most recent grade without touching the repo.
func (h *Health) LastDiagnostics() Diagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *Health) diagnose(ctx context.Context) {
	d, err := h.Diagnose(ctx)
	if err != nil {
		h.log.Error("diagnostics failed", "error", err)
		return
	}
	h.log.Info("registry diagnostics",
		"grade", d.Grade,
		"efficiency", fmt.Sprintf("%.1f", d.Efficiency),
		"total", d.Stats.Total,
		"active", d.Stats.Active)
}
