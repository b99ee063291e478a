package alert

import "context"

// LogAlerter writes every event as a structured log line. It is always
// enabled and serves as a guaranteed alert record.
type LogAlerter struct {
	log Logger
}

func NewLogAlerter(log Logger) *LogAlerter {
	return &LogAlerter{log: log}
}

// Name returns the channel name for logging.
func (l *LogAlerter) Name() string { return "log" }

// Send writes the event fields as structured key-value pairs at Info level.
func (l *LogAlerter) Send(_ context.Context, event Event) error {
	l.log.Info("operational alert",
		"type", string(event.Type),
		"message", event.Message,
		"notice_num", event.NoticeNum,
		"endpoints", event.Endpoints,
		"deleted", event.Deleted,
		"error", event.Error,
		"timestamp", event.Timestamp.String(),
	)
	return nil
}
