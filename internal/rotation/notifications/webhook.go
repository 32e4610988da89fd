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

// Webhook defaults
const (
	DefaultWebhookTimeout  = 10 * time.Second
	DefaultWebhookAttempts = 3
	DefaultWebhookWait     = time.Second
)

// WebhookConfig holds configuration for webhook notifications.
type WebhookConfig struct {
	// Name distinguishes several webhooks in logs.
	Name string

	// URL is the endpoint that receives the JSON event.
	URL string

	// Method is POST, PUT or PATCH (default: POST).
	Method string

	// Headers are added to every request, typically for authentication.
	Headers map[string]string

	// Events limits which events are sent. Empty sends all.
	Events []EventType

	// MaxAttempts bounds delivery attempts (default: 3).
	MaxAttempts int

	// InitialWait is doubled after each failed attempt (default: 1s).
	InitialWait time.Duration

	// Timeout applies to each request (default: 10s).
	Timeout time.Duration
}

// WebhookNotifier posts each event as JSON
type WebhookNotifier struct {
	config WebhookConfig
	filter eventFilter
	client *http.Client
}

// NewWebhookNotifier validates the configuration and applies defaults
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := validateURL(config.URL); err != nil {
		return nil, err
	}
	config.Method = strings.ToUpper(config.Method)
	switch config.Method {
	case "":
		config.Method = http.MethodPost
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, fmt.Errorf("invalid method: %s (must be POST, PUT, or PATCH)", config.Method)
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultWebhookAttempts
	}
	if config.InitialWait <= 0 {
		config.InitialWait = DefaultWebhookWait
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultWebhookTimeout
	}

	return &WebhookNotifier{
		config: config,
		filter: eventFilter(config.Events),
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Name returns the notifier name.
func (w *WebhookNotifier) Name() string {
	if w.config.Name != "" {
		return "webhook:" + w.config.Name
	}
	return "webhook"
}

// SupportsEvent implements Notifier.
func (w *WebhookNotifier) SupportsEvent(t EventType) bool {
	return w.filter.SupportsEvent(t)
}

// Send delivers the event, retrying with exponential backoff.
func (w *WebhookNotifier) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(webhookPayload{
		Event:           event,
		DurationSeconds: event.Duration.Seconds(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var lastErr error
	wait := w.config.InitialWait
	for attempt := 1; attempt <= w.config.MaxAttempts; attempt++ {
		if lastErr = w.post(ctx, payload); lastErr == nil {
			return nil
		}
		if attempt == w.config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", w.config.MaxAttempts, lastErr)
}

type webhookPayload struct {
	Event
	DurationSeconds float64 `json:"duration_seconds"`
}

func (w *WebhookNotifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, w.config.Method, w.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return checkStatus("webhook", resp)
}
