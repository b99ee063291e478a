package alert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type spyLogger struct {
	infoCalls  []logCall
	errorCalls []logCall
}

type logCall struct {
	msg  string
	args []any
}

func (s *spyLogger) Info(msg string, args ...any) {
	s.infoCalls = append(s.infoCalls, logCall{msg, args})
}
func (s *spyLogger) Error(msg string, args ...any) {
	s.errorCalls = append(s.errorCalls, logCall{msg, args})
}

type stubAlerter struct {
	name string
	err  error
	sent []Event
}

func (s *stubAlerter) Name() string { return s.name }
func (s *stubAlerter) Send(_ context.Context, event Event) error {
	s.sent = append(s.sent, event)
	return s.err
}

func TestMultiRaisesToAll(t *testing.T) {
	a := &stubAlerter{name: "a"}
	b := &stubAlerter{name: "b"}
	m := NewMulti(&spyLogger{}, a, b)

	ok := m.Raise(context.Background(), Event{Type: EventCrawlFailed, Message: "boom"})

	if !ok {
		t.Fatal("Raise = false, want true")
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("sent a=%d b=%d, want 1 each", len(a.sent), len(b.sent))
	}
	if a.sent[0].Message != "boom" {
		t.Errorf("message = %q, want boom", a.sent[0].Message)
	}
}

func TestMultiLogsErrorsButContinues(t *testing.T) {
	failing := &stubAlerter{name: "broken", err: errors.New("connection refused")}
	ok := &stubAlerter{name: "ok"}
	log := &spyLogger{}
	m := NewMulti(log, failing, ok)

	if !m.Raise(context.Background(), Event{Type: EventEmergencyCleanup}) {
		t.Fatal("Raise = false, want true when one channel succeeds")
	}
	if len(ok.sent) != 1 {
		t.Fatalf("ok channel got %d events, want 1", len(ok.sent))
	}
	if len(log.errorCalls) != 1 {
		t.Fatalf("got %d error logs, want 1", len(log.errorCalls))
	}
	if !strings.Contains(log.errorCalls[0].msg, "alert delivery failed") {
		t.Errorf("error log msg = %q", log.errorCalls[0].msg)
	}
}

func TestMultiAllFailing(t *testing.T) {
	m := NewMulti(&spyLogger{}, &stubAlerter{name: "x", err: errors.New("nope")})
	if m.Raise(context.Background(), Event{Type: EventCrawlFailed}) {
		t.Error("Raise = true, want false when every channel fails")
	}
}

func TestMultiNoChannels(t *testing.T) {
	m := NewMulti(&spyLogger{})
	if !m.Raise(context.Background(), Event{Type: EventCrawlFailed}) {
		t.Error("Raise = false, want true with no channels configured")
	}
}

func TestRaiseStampsTimestamp(t *testing.T) {
	s := &stubAlerter{name: "s"}
	m := NewMulti(&spyLogger{}, s)

	m.Raise(context.Background(), Event{Type: EventRegistryOverflow})

	if s.sent[0].Timestamp.IsZero() {
		t.Error("Raise did not stamp a timestamp")
	}
}

func TestLogAlerterWritesEvent(t *testing.T) {
	log := &spyLogger{}
	la := NewLogAlerter(log)

	err := la.Send(context.Background(), Event{
		Type:      EventDispatchDegraded,
		Message:   "all sends failed",
		NoticeNum: 2210345,
		Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})

	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(log.infoCalls) != 1 {
		t.Fatalf("got %d info calls, want 1", len(log.infoCalls))
	}
	args := log.infoCalls[0].args
	found := false
	for i := 0; i < len(args)-1; i += 2 {
		if args[i] == "type" && args[i+1] == "dispatch_degraded" {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected type=dispatch_degraded in log args: %v", args)
	}
}

func TestNewMQTTDefaults(t *testing.T) {
	m := NewMQTT("tcp://localhost:1883", "herald/alerts")
	if m.clientID != "bill-herald" {
		t.Errorf("clientID = %q, want bill-herald", m.clientID)
	}
	if m.qos != 1 {
		t.Errorf("qos = %d, want 1", m.qos)
	}
}
