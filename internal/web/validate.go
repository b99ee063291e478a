package web

import (
	"net/url"
	"regexp"
	"strings"
)

// maxWebhookURLLength bounds the raw URL before any parsing happens.
const maxWebhookURLLength = 500

var (
	snowflakeRe = regexp.MustCompile(`^[0-9]{17,20}$`)
	tokenRe     = regexp.MustCompile(`^[A-Za-z0-9_-]{64,68}$`)
)

// validateWebhookURL checks that raw is a well-formed Discord webhook URL:
// https, host discord.com or discordapp.com (www accepted), path
// /api/webhooks/<snowflake>/<token> with a 17-20 digit snowflake and a
// 64-68 char token. It returns every rule the URL breaks so the client can
// show them all at once; an empty slice means the URL is acceptable.
func validateWebhookURL(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{"웹훅 URL을 입력해주세요"}
	}

	var errs []string
	if len(raw) > maxWebhookURLLength {
		errs = append(errs, "URL이 너무 깁니다 (최대 500자)")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return append(errs, "URL 형식이 올바르지 않습니다")
	}
	if u.Scheme != "https" {
		errs = append(errs, "https URL만 등록할 수 있습니다")
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "discord.com" && host != "discordapp.com" {
		errs = append(errs, "Discord 웹훅 URL만 등록할 수 있습니다")
	}

	// Path splits as ["", "api", "webhooks", <id>, <token>].
	parts := strings.Split(u.Path, "/")
	if len(parts) < 5 || parts[1] != "api" || parts[2] != "webhooks" {
		return append(errs, "웹훅 URL 경로는 /api/webhooks/<id>/<token> 형식이어야 합니다")
	}
	if !snowflakeRe.MatchString(parts[3]) {
		errs = append(errs, "웹훅 ID가 올바르지 않습니다")
	}
	if !tokenRe.MatchString(parts[4]) {
		errs = append(errs, "웹훅 토큰이 올바르지 않습니다")
	}
	return errs
}
