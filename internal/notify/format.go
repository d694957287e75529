package notify

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/sydlexius/massaction/internal/event"
)

// Payload kinds, chosen from the webhook URL.
const (
	kindGeneric = "generic"
	kindDiscord = "discord"
	kindSlack   = "slack"
	kindGotify  = "gotify"
)

// kindOf picks the payload format a webhook URL expects.
func kindOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return kindGeneric
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case (host == "discord.com" || host == "discordapp.com") && strings.HasPrefix(u.Path, "/api/webhooks/"):
		return kindDiscord
	case host == "hooks.slack.com":
		return kindSlack
	case strings.HasSuffix(u.Path, "/message") && u.Query().Has("token"):
		return kindGotify
	default:
		return kindGeneric
	}
}

// formatPayload returns the request body and content-type for a delivery.
func formatPayload(kind string, e event.Event) ([]byte, string) {
	switch kind {
	case kindDiscord:
		return formatDiscord(e)
	case kindSlack:
		return formatSlack(e)
	case kindGotify:
		return formatGotify(e)
	default:
		return formatGeneric(e)
	}
}

func formatGeneric(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"event":     string(e.Type),
		"timestamp": e.Timestamp,
		"data":      e.Data,
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatDiscord(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title(e),
				"description": formatDescription(e),
				"color":       embedColor(e),
				"timestamp":   e.Timestamp.Format("2006-01-02T15:04:05Z"),
			},
		},
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatSlack(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"text": fmt.Sprintf("*%s*\n%s", title(e), formatDescription(e)),
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func formatGotify(e event.Event) ([]byte, string) {
	payload := map[string]any{
		"title":   title(e),
		"message": formatDescription(e),
	}
	body, _ := json.Marshal(payload)
	return body, "application/json"
}

func title(e event.Event) string {
	return fmt.Sprintf("Mass action: %s", e.Type)
}

// embedColor is green for clean runs and orange when items failed or the
// job was cancelled.
func embedColor(e event.Event) int {
	ko, _ := e.Data["ko"].(int)
	cancelled, _ := e.Data["cancelled"].(bool)
	if ko > 0 || cancelled {
		return 15105570
	}
	return 3066993
}

func formatDescription(e event.Event) string {
	if e.Data == nil {
		return string(e.Type)
	}
	if msg, ok := e.Data["message"].(string); ok {
		return msg
	}
	if id, ok := e.Data["job_id"].(string); ok {
		return fmt.Sprintf("Job %s (%v on %v) %v: %v ok, %v ko, %v noright of %v items",
			id, e.Data["action"], e.Data["itemtype"], e.Data["status"],
			e.Data["ok"], e.Data["ko"], e.Data["noright"], e.Data["total_items"])
	}
	b, _ := json.Marshal(e.Data)
	return string(b)
}

// redact drops the query and user info of a webhook URL for logging; both
// commonly carry the webhook's secret.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	u.User = nil
	u.RawQuery = ""
	if kindOf(raw) == kindDiscord || kindOf(raw) == kindSlack {
		u.Path = ""
	}
	return u.String()
}
