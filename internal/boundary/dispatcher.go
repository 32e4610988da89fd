package boundary

import (
	"context"
	"errors"
	"fmt"

	"github.com/systmms/keyrotate/internal/logging"
	"github.com/systmms/keyrotate/pkg/credential"
	"github.com/systmms/keyrotate/pkg/rotation"
)

// Operation names accepted by the dispatcher
const (
	OpPublishCredential = "publish_credential"
	OpDeleteCredential  = "delete_credential"
	OpCheckCredential   = "check_credential"
	OpRemoveInactive    = "remove_inactive_credential"
	OpMarkInactiveOlder = "mark_inactive_older_credential"
)

var (
	// ErrUnknownOperation is returned for operation names outside the dispatch table
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrBadRequest is returned when a request is missing a required field
	ErrBadRequest = errors.New("bad request")
)

// Operations lists every operation in dispatch order
func Operations() []string {
	return []string{
		OpPublishCredential,
		OpDeleteCredential,
		OpCheckCredential,
		OpRemoveInactive,
		OpMarkInactiveOlder,
	}
}

// Engine is the part of rotation.Engine the dispatcher drives
type Engine interface {
	Evaluate(ctx context.Context, identity credential.Identity) rotation.Outcome
	Rotate(ctx context.Context, identity credential.Identity) rotation.Outcome
	Check(ctx context.Context, identity credential.Identity) (bool, rotation.Decision, error)
	Cleanup(ctx context.Context, identity credential.Identity) (credential.Set, error)
	MarkInactiveOlder(ctx context.Context, identity credential.Identity) rotation.Outcome
	Delete(ctx context.Context, identity credential.Identity, id string) (credential.Set, error)
}

// Request is one call into the dispatch table
type Request struct {
	Operation    string
	Identity     credential.Identity
	CredentialID string
	Force        bool
}

// Envelope is the uniform response of every operation. Data holds a
// rotation.Outcome, a credential.Set or a bool depending on the operation.
type Envelope struct {
	Msg       string `json:"msg"`
	Data      any    `json:"data"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// Failed reports whether the operation did not complete
func (e Envelope) Failed() bool {
	return e.ErrorKind != ""
}

type operationFunc func(ctx context.Context, req Request) Envelope

// Dispatcher routes requests to engine operations
type Dispatcher struct {
	engine Engine
	logger *logging.Logger
	table  map[string]operationFunc
}

// NewDispatcher creates a dispatcher over engine
func NewDispatcher(engine Engine, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	d := &Dispatcher{engine: engine, logger: logger}
	d.table = map[string]operationFunc{
		OpPublishCredential: d.publish,
		OpDeleteCredential:  d.delete,
		OpCheckCredential:   d.check,
		OpRemoveInactive:    d.removeInactive,
		OpMarkInactiveOlder: d.markInactiveOlder,
	}
	return d
}

// Dispatch runs one operation. Engine failures are reported inside the
// envelope; the error is only set when the request itself is unusable.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Envelope, error) {
	op, ok := d.table[req.Operation]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownOperation, req.Operation)
	}
	if err := req.Identity.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if req.Operation == OpDeleteCredential && req.CredentialID == "" {
		return Envelope{}, fmt.Errorf("%w: %s requires a credential id", ErrBadRequest, OpDeleteCredential)
	}

	d.logger.Debug("Dispatching %s for %s", req.Operation, req.Identity)
	env := op(ctx, req)
	if env.Failed() {
		d.logger.Warn("%s for %s failed: %s", req.Operation, req.Identity, env.Msg)
	}
	return env, nil
}

func (d *Dispatcher) publish(ctx context.Context, req Request) Envelope {
	var out rotation.Outcome
	if req.Force {
		out = d.engine.Rotate(ctx, req.Identity)
	} else {
		out = d.engine.Evaluate(ctx, req.Identity)
	}
	return outcomeEnvelope(out)
}

func (d *Dispatcher) markInactiveOlder(ctx context.Context, req Request) Envelope {
	return outcomeEnvelope(d.engine.MarkInactiveOlder(ctx, req.Identity))
}

func (d *Dispatcher) delete(ctx context.Context, req Request) Envelope {
	set, err := d.engine.Delete(ctx, req.Identity, req.CredentialID)
	if err != nil {
		return errorEnvelope(err, set)
	}
	return Envelope{Msg: fmt.Sprintf("credential %s deleted", req.CredentialID), Data: set.Redacted()}
}

func (d *Dispatcher) removeInactive(ctx context.Context, req Request) Envelope {
	set, err := d.engine.Cleanup(ctx, req.Identity)
	if err != nil {
		return errorEnvelope(err, set)
	}
	return Envelope{Msg: "inactive credentials removed", Data: set.Redacted()}
}

func (d *Dispatcher) check(ctx context.Context, req Request) Envelope {
	due, decision, err := d.engine.Check(ctx, req.Identity)
	if err != nil {
		return errorEnvelope(err, false)
	}
	if due {
		return Envelope{Msg: fmt.Sprintf("rotation due: credential is %d days old", decision.AgeDays), Data: true}
	}
	return Envelope{Msg: "rotation not due", Data: false}
}

func outcomeEnvelope(out rotation.Outcome) Envelope {
	env := Envelope{Msg: out.String(), Data: out}
	if !out.OK() {
		env.ErrorKind = rotation.KindName(out.Err)
	}
	return env
}

func errorEnvelope(err error, data any) Envelope {
	if set, ok := data.(credential.Set); ok {
		data = set.Redacted()
	}
	return Envelope{Msg: err.Error(), Data: data, ErrorKind: rotation.KindName(err)}
}
