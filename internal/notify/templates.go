package notify

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/hyunsoo-kim/Bill-Herald/internal/crawl"
)

// Messages holds the operator-customizable message text. Fields left empty
// in the YAML file keep their Korean defaults.
type Messages struct {
	Username           string `yaml:"username"`
	NoticeTitle        string `yaml:"noticeTitle"` // text/template over a notice
	NoticeFooter       string `yaml:"noticeFooter"`
	WelcomeTitle       string `yaml:"welcomeTitle"`
	WelcomeDescription string `yaml:"welcomeDescription"`
}

// DefaultMessages returns the built-in message set.
func DefaultMessages() Messages {
	return Messages{
		Username:           "국회 입법예고 알림",
		NoticeTitle:        "{{.Subject}}",
		NoticeFooter:       "국회 입법예고",
		WelcomeTitle:       "웹훅 등록 완료",
		WelcomeDescription: "이 채널로 국회 입법예고 알림이 전송됩니다.",
	}
}

// LoadMessages reads message overrides from a YAML file. An empty path
// returns the defaults.
func LoadMessages(path string) (Messages, error) {
	msgs := DefaultMessages()
	if path == "" {
		return msgs, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return msgs, fmt.Errorf("read message templates: %w", err)
	}
	var overrides Messages
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return msgs, fmt.Errorf("parse message templates: %w", err)
	}
	msgs.merge(overrides)
	return msgs, nil
}

func (m *Messages) merge(o Messages) {
	if o.Username != "" {
		m.Username = o.Username
	}
	if o.NoticeTitle != "" {
		m.NoticeTitle = o.NoticeTitle
	}
	if o.NoticeFooter != "" {
		m.NoticeFooter = o.NoticeFooter
	}
	if o.WelcomeTitle != "" {
		m.WelcomeTitle = o.WelcomeTitle
	}
	if o.WelcomeDescription != "" {
		m.WelcomeDescription = o.WelcomeDescription
	}
}

// renderTitle executes the notice title template. On template error the
// raw subject is used so a bad override never blocks delivery.
func (m Messages) renderTitle(n crawl.Notice) string {
	t, err := template.New("title").Parse(m.NoticeTitle)
	if err != nil {
		return n.Subject
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, n); err != nil {
		return n.Subject
	}
	return buf.String()
}
