package notifications

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
)

// Notifier delivers events to one destination
type Notifier interface {
	// Name identifies the notifier in logs and metrics
	Name() string

	// Send delivers a single event
	Send(ctx context.Context, event Event) error

	// SupportsEvent reports whether the notifier wants this event type
	SupportsEvent(t EventType) bool
}

// eventFilter is shared by the notifiers. An empty filter accepts all events.
type eventFilter []EventType

func (f eventFilter) SupportsEvent(t EventType) bool {
	return len(f) == 0 || slices.Contains(f, t)
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("invalid URL: %s", raw)
	}
	return nil
}

func checkStatus(name string, resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", name, resp.StatusCode)
	}
	return nil
}
