// Package notifications delivers rotation outcomes to Slack and generic
// webhooks. Delivery is asynchronous and best effort: a slow or failing
// endpoint never delays or fails a rotation.
package notifications

import (
	"fmt"
	"time"

	"github.com/systmms/keyrotate/internal/rotation/storage"
)

// EventType is the kind of outcome being reported
type EventType string

const (
	// EventRotated is sent when a new access key was issued.
	EventRotated EventType = "rotated"

	// EventRepaired is sent when an older key was deactivated.
	EventRepaired EventType = "repaired"

	// EventFailed is sent when a cycle ended in failure.
	EventFailed EventType = "failed"
)

// Event describes one engine cycle that changed, or tried to change, an
// identity's keys. It never carries a secret.
type Event struct {
	Type            EventType     `json:"event"`
	Identity        string        `json:"identity"`
	Action          string        `json:"action"`
	Reason          string        `json:"reason,omitempty"`
	Error           string        `json:"error,omitempty"`
	OldCredentialID string        `json:"old_credential_id,omitempty"`
	NewCredentialID string        `json:"new_credential_id,omitempty"`
	Duration        time.Duration `json:"-"`
	Timestamp       time.Time     `json:"timestamp"`
}

// EventFromEntry converts a history entry. Unchanged cycles and cycles with
// unknown outcomes produce no event.
func EventFromEntry(entry *storage.HistoryEntry) (Event, bool) {
	if entry == nil {
		return Event{}, false
	}

	var typ EventType
	switch entry.Outcome {
	case "rotated":
		typ = EventRotated
	case "repaired":
		typ = EventRepaired
	case "failed":
		typ = EventFailed
	default:
		return Event{}, false
	}

	return Event{
		Type:            typ,
		Identity:        entry.Identity,
		Action:          entry.Action,
		Reason:          entry.Reason,
		Error:           entry.Error,
		OldCredentialID: entry.OldCredentialID,
		NewCredentialID: entry.NewCredentialID,
		Duration:        entry.Duration,
		Timestamp:       entry.Timestamp,
	}, true
}

// Summary is a one line description used by chat style notifiers
func (e Event) Summary() string {
	switch e.Type {
	case EventRotated:
		if e.OldCredentialID != "" {
			return fmt.Sprintf("%s rotated %s to %s", e.Identity, e.OldCredentialID, e.NewCredentialID)
		}
		return fmt.Sprintf("%s issued %s", e.Identity, e.NewCredentialID)
	case EventRepaired:
		return fmt.Sprintf("%s deactivated %s", e.Identity, e.OldCredentialID)
	default:
		if e.Reason != "" {
			return fmt.Sprintf("%s %s failed: %s", e.Identity, e.Action, e.Reason)
		}
		return fmt.Sprintf("%s %s failed", e.Identity, e.Action)
	}
}

// ParseEventTypes validates a configured event filter
func ParseEventTypes(names []string) ([]EventType, error) {
	out := make([]EventType, 0, len(names))
	for _, n := range names {
		switch t := EventType(n); t {
		case EventRotated, EventRepaired, EventFailed:
			out = append(out, t)
		default:
			return nil, fmt.Errorf("unknown event %q (must be rotated, repaired or failed)", n)
		}
	}
	return out, nil
}
