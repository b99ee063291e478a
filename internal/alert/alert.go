// Package alert raises operational events (crawl failures, emergency
// cleanups) toward the operator. Alerts are advisory: a failing channel
// is logged and never blocks the pipeline that raised it.
package alert

import (
	"context"
	"time"
)

// EventType identifies an operational condition worth telling the operator about.
type EventType string

const (
	EventCrawlFailed      EventType = "crawl_failed"
	EventDispatchDegraded EventType = "dispatch_degraded"
	EventEmergencyCleanup EventType = "emergency_cleanup"
	EventRegistryOverflow EventType = "registry_overflow"
	EventShutdownStalled  EventType = "shutdown_stalled"
)

// Event is one operational alert.
type Event struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	NoticeNum int       `json:"notice_num,omitempty"`
	Endpoints int       `json:"endpoints,omitempty"`
	Deleted   int       `json:"deleted,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Alerter delivers an event to one channel.
type Alerter interface {
	Send(ctx context.Context, event Event) error
	Name() string
}

// Logger is a minimal logging interface to avoid importing the logging package.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Multi fans an event out to every configured channel. Channel errors are
// logged and swallowed.
type Multi struct {
	alerters []Alerter
	log      Logger
}

func NewMulti(log Logger, alerters ...Alerter) *Multi {
	return &Multi{alerters: alerters, log: log}
}

// Raise sends the event to all channels. Returns true when at least one
// channel accepted it (or none are configured).
func (m *Multi) Raise(ctx context.Context, event Event) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if len(m.alerters) == 0 {
		return true
	}
	anyOK := false
	for _, a := range m.alerters {
		if err := a.Send(ctx, event); err != nil {
			m.log.Error("alert delivery failed",
				"channel", a.Name(),
				"event", string(event.Type),
				"error", err.Error(),
			)
		} else {
			anyOK = true
		}
	}
	return anyOK
}
