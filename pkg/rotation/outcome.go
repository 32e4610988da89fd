package rotation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/systmms/keyrotate/pkg/credential"
)

// OutcomeKind is the closed result variant of an engine cycle.
type OutcomeKind int

const (
	Unchanged OutcomeKind = iota + 1
	Rotated
	Repaired
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Rotated:
		return "rotated"
	case Repaired:
		return "repaired"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of one engine cycle.
type Outcome struct {
	Kind OutcomeKind

	// CredentialID is the newly created credential on Rotated and on failures
	// after the create step.
	CredentialID string

	// DeactivatedID is the credential set Inactive during the cycle, if any.
	DeactivatedID string

	// DeletedID is the credential removed during the cycle, if any.
	DeletedID string

	// Reason is a human readable explanation, always set on Failed.
	Reason string

	// Err matches one of the error kinds on Failed.
	Err error

	// NewCredential holds the created credential including its secret, so the
	// caller can recover it when persisting or a later step failed.
	NewCredential *credential.Credential

	// PersistError is the ProfileSink failure, if any. It never makes a
	// rotation fail.
	PersistError error

	Decision Decision
}

// Retryable reports whether calling Evaluate again can make progress.
func (o Outcome) Retryable() bool {
	return o.Kind == Failed && Retryable(o.Err)
}

// OK reports whether the outcome is not Failed.
func (o Outcome) OK() bool {
	return o.Kind != Failed
}

func (o Outcome) String() string {
	switch o.Kind {
	case Rotated:
		return fmt.Sprintf("rotated: %s", o.CredentialID)
	case Repaired:
		return fmt.Sprintf("repaired: %s deactivated", o.DeactivatedID)
	case Failed:
		return fmt.Sprintf("failed: %s", o.Reason)
	default:
		return o.Kind.String()
	}
}

type outcomeJSON struct {
	Kind          string          `json:"kind"`
	CredentialID  string          `json:"credential_id,omitempty"`
	DeactivatedID string          `json:"deactivated_id,omitempty"`
	DeletedID     string          `json:"deleted_id,omitempty"`
	Decision      string          `json:"decision,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Retryable     bool            `json:"retryable"`
	PersistError  string          `json:"persist_error,omitempty"`
	NewCredential *credentialJSON `json:"new_credential,omitempty"`
}

type credentialJSON struct {
	ID        string `json:"id"`
	Secret    string `json:"secret,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// MarshalJSON encodes the outcome for the request boundary. The new
// credential's secret is included so an encrypted response can carry it.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		Kind:          o.Kind.String(),
		CredentialID:  o.CredentialID,
		DeactivatedID: o.DeactivatedID,
		DeletedID:     o.DeletedID,
		Reason:        o.Reason,
		ErrorKind:     KindName(o.Err),
		Retryable:     o.Retryable(),
	}
	if o.Decision.Kind != 0 {
		out.Decision = o.Decision.Kind.String()
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	if o.PersistError != nil {
		out.PersistError = o.PersistError.Error()
	}
	if c := o.NewCredential; c != nil {
		out.NewCredential = &credentialJSON{
			ID:        c.ID,
			Secret:    c.Secret.Reveal(),
			Status:    c.Status.String(),
			CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return json.Marshal(out)
}
