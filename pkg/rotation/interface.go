package rotation

import (
	"context"
	"time"

	"github.com/systmms/keyrotate/internal/rotation/storage"
	"github.com/systmms/keyrotate/pkg/credential"
)

// CredentialStore is the identity provider's credential API. Implementations
// perform one remote call per method and never retry.
type CredentialStore interface {
	// List returns every credential of the identity, without secrets.
	List(ctx context.Context, identity credential.Identity) (credential.Set, error)

	// Create issues a new Active credential. The returned value is the only
	// place its secret is ever available.
	Create(ctx context.Context, identity credential.Identity) (credential.Credential, error)

	// SetStatus changes the status of one credential.
	SetStatus(ctx context.Context, identity credential.Identity, id string, status credential.Status) error

	// Delete removes one credential.
	Delete(ctx context.Context, identity credential.Identity, id string) error
}

// ProfileSink persists a freshly created credential so later sessions
// authenticate with it.
type ProfileSink interface {
	Persist(ctx context.Context, identity credential.Identity, cred credential.Credential) error
}

// ProfileSinkFunc adapts a function to ProfileSink.
type ProfileSinkFunc func(ctx context.Context, identity credential.Identity, cred credential.Credential) error

// Persist calls f.
func (f ProfileSinkFunc) Persist(ctx context.Context, identity credential.Identity, cred credential.Credential) error {
	return f(ctx, identity, cred)
}

// Recorder receives one history entry per engine cycle.
// storage.Storage satisfies it.
type Recorder interface {
	SaveHistory(entry *storage.HistoryEntry) error
}

// Metrics observes engine cycles and remote calls.
type Metrics interface {
	ObserveCycle(action, outcome string, duration time.Duration)
	ObserveStep(step, status string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCycle(string, string, time.Duration) {}
func (noopMetrics) ObserveStep(string, string, time.Duration)  {}
