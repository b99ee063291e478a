package notify

import (
	"strconv"
	"time"

	"github.com/hyunsoo-kim/Bill-Herald/internal/crawl"
)

// Discord embed colors.
const (
	colorNotice  = 0x3498DB // blue
	colorWelcome = 0x2ECC71 // green
)

// Embed is the subset of the Discord embed object the service produces.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type payload struct {
	Username string  `json:"username"`
	Embeds   []Embed `json:"embeds"`
}

// NoticeEmbed builds the embed announcing a legislative notice.
func (m Messages) NoticeEmbed(n crawl.Notice, now time.Time) Embed {
	e := Embed{
		Title:     m.renderTitle(n),
		URL:       n.Link,
		Color:     colorNotice,
		Timestamp: now.UTC().Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: m.NoticeFooter},
	}
	if n.Num > 0 {
		e.Fields = append(e.Fields, EmbedField{Name: "의안번호", Value: strconv.Itoa(n.Num), Inline: true})
	}
	if n.Committee != "" {
		e.Fields = append(e.Fields, EmbedField{Name: "소관위원회", Value: n.Committee, Inline: true})
	}
	if n.ProposerCategory != "" {
		e.Fields = append(e.Fields, EmbedField{Name: "제안자 구분", Value: n.ProposerCategory, Inline: true})
	}
	return e
}

// WelcomeEmbed builds the embed sent when a webhook is registered, proving
// the endpoint can receive deliveries.
func (m Messages) WelcomeEmbed(now time.Time) Embed {
	return Embed{
		Title:       m.WelcomeTitle,
		Description: m.WelcomeDescription,
		Color:       colorWelcome,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Footer:      &EmbedFooter{Text: m.NoticeFooter},
	}
}
