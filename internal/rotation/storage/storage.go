package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNoHistory is returned by GetLatest when an identity has never been evaluated.
var ErrNoHistory = errors.New("no rotation history")

// Storage defines the interface for rotation history storage
type Storage interface {
	// SaveHistory saves a history entry for one engine cycle
	SaveHistory(entry *HistoryEntry) error

	// GetHistory retrieves history for an identity, newest first. limit <= 0 means all.
	GetHistory(identity string, limit int) ([]HistoryEntry, error)

	// GetLatest returns the newest entry for an identity
	GetLatest(identity string) (*HistoryEntry, error)

	// CleanupOldEntries removes entries older than the specified duration
	CleanupOldEntries(olderThan time.Duration) error
}

// newEntryID returns a time ordered identifier for entries saved without one
func newEntryID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Actions recorded by the engine
const (
	ActionEvaluate         = "evaluate"
	ActionForceRotate      = "rotate"
	ActionCleanup          = "cleanup"
	ActionMarkInactive     = "mark_inactive_older"
	ActionDeleteCredential = "delete"
)

// Step statuses
const (
	StepSucceeded = "succeeded"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// HistoryEntry represents a single engine cycle for one identity
type HistoryEntry struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	Identity        string            `json:"identity"`
	Action          string            `json:"action"`
	Decision        string            `json:"decision,omitempty"`
	Outcome         string            `json:"outcome"` // unchanged, rotated, repaired, failed
	Reason          string            `json:"reason,omitempty"`
	Error           string            `json:"error,omitempty"`
	Duration        time.Duration     `json:"duration"`
	OldCredentialID string            `json:"old_credential_id,omitempty"`
	NewCredentialID string            `json:"new_credential_id,omitempty"`
	Steps           []StepResult      `json:"steps,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// StepResult represents the result of a single remote call in a cycle
type StepResult struct {
	Name        string        `json:"name"`
	Status      string        `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Mutated reports whether any step other than a list succeeded.
func (e HistoryEntry) Mutated() bool {
	for _, s := range e.Steps {
		if s.Name != "list" && s.Status == StepSucceeded {
			return true
		}
	}
	return false
}

// Discard is a Storage that keeps nothing.
type Discard struct{}

func (Discard) SaveHistory(*HistoryEntry) error                  { return nil }
func (Discard) GetHistory(string, int) ([]HistoryEntry, error)   { return []HistoryEntry{}, nil }
func (Discard) GetLatest(string) (*HistoryEntry, error)          { return nil, ErrNoHistory }
func (Discard) CleanupOldEntries(time.Duration) error            { return nil }
