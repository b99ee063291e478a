package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyunsoo-kim/Bill-Herald/internal/alert"
	"github.com/hyunsoo-kim/Bill-Herald/internal/clock"
	"github.com/hyunsoo-kim/Bill-Herald/internal/crawl"
	"github.com/hyunsoo-kim/Bill-Herald/internal/events"
	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
	"github.com/hyunsoo-kim/Bill-Herald/internal/metrics"
	"github.com/hyunsoo-kim/Bill-Herald/internal/notify"
	"github.com/hyunsoo-kim/Bill-Herald/internal/store"
)

// EndpointDirectory is the slice of the endpoint repository the dispatcher
// needs: the current active set and the ability to retire an endpoint.
type EndpointDirectory interface {
	FindActive(ctx context.Context) ([]store.Endpoint, error)
	Deactivate(ctx context.Context, id int64) error
}

// Pacer gates deliveries against the global and per-endpoint rate budgets.
type Pacer interface {
	Acquire(ctx context.Context, endpointID int64) error
	Record(ctx context.Context, endpointID int64)
}

// DispatchResult aggregates one notice's delivery wave.
type DispatchResult struct {
	Notice            crawl.Notice `json:"notice"`
	TotalEndpoints    int          `json:"totalEndpoints"`
	SuccessCount      int          `json:"successCount"`
	FailedCount       int          `json:"failedCount"`
	Deactivated       int          `json:"deactivated"`
	TemporaryFailures int          `json:"temporaryFailures"`
}

// Dispatcher fans new notices out to the active endpoints. Each notice
// becomes one executor job; within a job, endpoints are sent to
// sequentially so the per-endpoint rate budget never causes contention.
type Dispatcher struct {
	repo   EndpointDirectory
	sender notify.Sender
	pacer  Pacer
	exec   *Executor
	msgs   notify.Messages
	bus    *events.Bus
	alerts *alert.Multi
	clk    clock.Clock
	log    *logging.Logger
	opts   Options

	// Advisory set of endpoints that failed permanently but are not yet
	// deactivated. Parallel notice jobs skip them; cleared once the row
	// is actually deactivated.
	mu      sync.Mutex
	flagged map[int64]struct{}
}

func NewDispatcher(repo EndpointDirectory, sender notify.Sender, pacer Pacer, exec *Executor, msgs notify.Messages, bus *events.Bus, alerts *alert.Multi, clk clock.Clock, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		repo:    repo,
		sender:  sender,
		pacer:   pacer,
		exec:    exec,
		msgs:    msgs,
		bus:     bus,
		alerts:  alerts,
		clk:     clk,
		log:     log.Component("dispatch"),
		flagged: make(map[int64]struct{}),
	}
}

// Dispatch submits one job per notice and awaits the whole batch. Results
// are returned in notice order. Refused with ErrShuttingDown during
// shutdown.
func (d *Dispatcher) Dispatch(ctx context.Context, notices []crawl.Notice) ([]DispatchResult, error) {
	if len(notices) == 0 {
		return nil, nil
	}

	results := make([]DispatchResult, len(notices))
	jobs := make([]Job, len(notices))
	for i, n := range notices {
		jobs[i] = func(ctx context.Context) error {
			r, err := d.dispatchNotice(ctx, n)
			results[i] = r
			return err
		}
	}

	id, err := d.exec.Submit(ctx, jobs, d.opts)
	if err != nil {
		return nil, err
	}
	d.log.Info("dispatch batch submitted", "id", id, "notices", len(notices))

	if _, err := d.exec.Await(ctx, id); err != nil {
		// The detached batch may still be writing results; hand back none.
		return nil, fmt.Errorf("await batch %s: %w", id, err)
	}

	for _, r := range results {
		d.bus.Publish(events.SSEEvent{
			Type:      events.EventNoticeDispatched,
			NoticeNum: r.Notice.Num,
			Subject:   r.Notice.Subject,
			Message:   fmt.Sprintf("sent=%d failed=%d deactivated=%d", r.SuccessCount, r.FailedCount, r.Deactivated),
			Timestamp: d.clk.Now(),
		})
		if r.TotalEndpoints > 0 && r.SuccessCount == 0 {
			d.alerts.Raise(ctx, alert.Event{
				Type:      alert.EventDispatchDegraded,
				Message:   "notice reached no endpoints",
				NoticeNum: r.Notice.Num,
				Endpoints: r.TotalEndpoints,
			})
		}
	}
	return results, nil
}

// dispatchNotice sends one notice to every active endpoint. The active set
// is fetched fresh so endpoints deactivated by an earlier notice in the
// same batch are not re-tried. Only the endpoint fetch can fail the job;
// delivery failures are captured per endpoint.
func (d *Dispatcher) dispatchNotice(ctx context.Context, n crawl.Notice) (DispatchResult, error) {
	res := DispatchResult{Notice: n}

	endpoints, err := d.repo.FindActive(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch active endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		d.log.Info("no active endpoints, skipping delivery", "num", n.Num)
		return res, nil
	}

	embed := d.msgs.NoticeEmbed(n, d.clk.Now())
	var broken []store.Endpoint
	for _, ep := range endpoints {
		if d.isFlagged(ep.ID) {
			continue
		}
		res.TotalEndpoints++

		dres := d.deliver(ctx, ep, embed)
		if dres.Success {
			res.SuccessCount++
			continue
		}
		res.FailedCount++
		if dres.ShouldDelete() {
			d.flag(ep.ID)
			broken = append(broken, ep)
		} else {
			res.TemporaryFailures++
		}
	}

	for _, ep := range broken {
		if err := d.repo.Deactivate(ctx, ep.ID); err != nil {
			// Leave the advisory flag set so parallel jobs keep skipping it.
			d.log.Error("deactivate endpoint failed", "endpointID", ep.ID, "error", err)
			continue
		}
		d.unflag(ep.ID)
		res.Deactivated++
		metrics.WebhooksDeactivated.Inc()
		d.log.Info("endpoint deactivated after permanent failure", "endpointID", ep.ID)
		d.bus.Publish(events.SSEEvent{
			Type:      events.EventEndpointDeactivated,
			Endpoint:  ep.ID,
			Timestamp: d.clk.Now(),
		})
	}
	return res, nil
}

// deliver sends one embed to one endpoint under the rate limiter,
// retrying transient failures. Permanent failures stop immediately; a
// success records rate-limit state.
func (d *Dispatcher) deliver(ctx context.Context, ep store.Endpoint, embed notify.Embed) notify.Result {
	opts := d.opts.withDefaults()
	var res notify.Result
	for attempt := 0; attempt <= opts.RetryCount; attempt++ {
		if attempt > 0 {
			if err := d.clk.Sleep(ctx, opts.RetryDelay); err != nil {
				return res
			}
		}
		if err := d.pacer.Acquire(ctx, ep.ID); err != nil {
			return notify.Result{Category: notify.CategoryUnknownError, Err: err}
		}
		res = d.sender.Send(ctx, ep.URL, embed)
		if res.Success {
			d.pacer.Record(ctx, ep.ID)
			return res
		}
		if res.Category.Permanent() {
			return res
		}
	}
	return res
}

func (d *Dispatcher) isFlagged(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.flagged[id]
	return ok
}

func (d *Dispatcher) flag(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flagged[id] = struct{}{}
}

func (d *Dispatcher) unflag(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.flagged, id)
}
