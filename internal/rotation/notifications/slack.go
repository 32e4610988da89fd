package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SlackConfig holds configuration for Slack webhook notifications.
type SlackConfig struct {
	// WebhookURL is the Slack incoming webhook URL.
	WebhookURL string

	// Channel overrides the webhook's default channel.
	Channel string

	// Events limits which events are sent. Empty sends all.
	Events []EventType

	// MentionOnFailure lists handles to mention when a cycle fails.
	MentionOnFailure []string
}

// SlackNotifier posts Block Kit messages to an incoming webhook
type SlackNotifier struct {
	config SlackConfig
	filter eventFilter
	client *http.Client
}

// NewSlackNotifier creates a Slack notifier.
func NewSlackNotifier(config SlackConfig) (*SlackNotifier, error) {
	if err := validateURL(config.WebhookURL); err != nil {
		return nil, fmt.Errorf("slack: %w", err)
	}
	return &SlackNotifier{
		config: config,
		filter: eventFilter(config.Events),
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Name returns the notifier name.
func (s *SlackNotifier) Name() string { return "slack" }

// SupportsEvent implements Notifier.
func (s *SlackNotifier) SupportsEvent(t EventType) bool {
	return s.filter.SupportsEvent(t)
}

// Send posts the event to Slack.
func (s *SlackNotifier) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(s.buildMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus("slack", resp)
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackMessage struct {
	Channel string       `json:"channel,omitempty"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks"`
}

func (s *SlackNotifier) buildMessage(event Event) slackMessage {
	summary := event.Summary()
	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: slackTitle(event.Type), Emoji: true}},
		{Type: "section", Fields: []slackText{
			{Type: "mrkdwn", Text: fmt.Sprintf("*Identity:*\n%s", event.Identity)},
			{Type: "mrkdwn", Text: fmt.Sprintf("*Action:*\n%s", event.Action)},
		}},
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: summary}},
	}

	if event.Error != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf(":warning: *Error:*\n```%s```", event.Error)},
		})
	}
	if event.Type == EventFailed && len(s.config.MentionOnFailure) > 0 {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Attention:* " + strings.Join(s.config.MentionOnFailure, " ")},
		})
	}
	blocks = append(blocks, slackBlock{
		Type: "context",
		Elements: []slackText{{
			Type: "mrkdwn",
			Text: fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s>",
				event.Timestamp.Unix(), event.Timestamp.Format(time.RFC3339)),
		}},
	})

	return slackMessage{Channel: s.config.Channel, Text: summary, Blocks: blocks}
}

func slackTitle(t EventType) string {
	switch t {
	case EventRotated:
		return ":white_check_mark: Access key rotated"
	case EventRepaired:
		return ":wrench: Access key deactivated"
	default:
		return ":x: Rotation failed"
	}
}
