package push

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// SlackNotifier mirrors pushes into a Slack channel, typically used by
// operators to keep an eye on draft approvals and cross-bot traffic
// without opening the desktop client.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier creates a notifier posting to the given channel ID.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
	}
}

// PushToUser posts a compact rendering of the event. Failures are
// logged and swallowed; Slack is a mirror, not the delivery path.
func (s *SlackNotifier) PushToUser(userID, event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Slack notifier marshal failed", "event", event, "error", err)
		return
	}
	text := fmt.Sprintf("`%s` → user %s\n```%s```", event, userID, string(body))
	_, _, err = s.client.PostMessage(s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		slog.Warn("Slack notifier post failed", "event", event, "error", err)
	}
}
