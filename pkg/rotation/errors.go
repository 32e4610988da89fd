package rotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/systmms/keyrotate/pkg/credential"
)

// Error kinds. Every Failed outcome carries an error that matches exactly one
// of these with errors.Is.
var (
	// ErrConfiguration covers invalid engine settings and incomplete identities.
	ErrConfiguration = errors.New("configuration error")
	// ErrLimitExceeded means more than two credentials exist for the identity.
	ErrLimitExceeded = credential.ErrLimitExceeded
	// ErrAmbiguousState means two credentials were found and one was retired;
	// the caller must evaluate again.
	ErrAmbiguousState = errors.New("ambiguous credential state")
	// ErrPartialRotation means the rotation sequence stopped after a new
	// credential was created.
	ErrPartialRotation = errors.New("partial rotation")
	// ErrTransientProvider covers provider call failures and timeouts.
	ErrTransientProvider = errors.New("transient provider error")
	// ErrNoCredential means the identity has nothing to rotate from.
	ErrNoCredential = errors.New("no credential")
	// ErrAuthorization means the session cannot call the provider.
	ErrAuthorization = errors.New("authorization error")
)

// Step names a remote call made by the engine.
type Step string

const (
	StepList       Step = "list"
	StepDeactivate Step = "deactivate"
	StepCreate     Step = "create"
	StepPersist    Step = "persist"
	StepDelete     Step = "delete"
)

// StepError ties a provider error to the step that produced it and the error
// kind it maps to.
type StepError struct {
	Step Step
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *StepError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsTimeout reports whether the step failed on a deadline.
func (e *StepError) IsTimeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

func stepError(step Step, kind, err error) *StepError {
	return &StepError{Step: step, Kind: kind, Err: err}
}

// Retryable reports whether re-running Evaluate can make progress after err.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrLimitExceeded),
		errors.Is(err, ErrNoCredential),
		errors.Is(err, ErrAuthorization):
		return false
	case errors.Is(err, ErrAmbiguousState),
		errors.Is(err, ErrPartialRotation),
		errors.Is(err, ErrTransientProvider):
		return true
	default:
		return false
	}
}

// KindName returns a short label for the error kind, used in metrics and the
// wire envelope.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrLimitExceeded):
		return "provider_limit_exceeded"
	case errors.Is(err, ErrAmbiguousState):
		return "ambiguous_state"
	case errors.Is(err, ErrPartialRotation):
		return "partial_rotation"
	case errors.Is(err, ErrTransientProvider):
		return "transient_provider"
	case errors.Is(err, ErrNoCredential):
		return "no_credential"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	default:
		return "unknown"
	}
}
