package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/systmms/keyrotate/internal/logging"
	"github.com/systmms/keyrotate/internal/rotation/storage"
	"github.com/systmms/keyrotate/pkg/credential"
)

// DefaultCallTimeout bounds every remote call made by the engine.
const DefaultCallTimeout = 30 * time.Second

// Reasons attached to Failed outcomes produced by the engine.
const (
	ReasonAmbiguousRepaired = "ambiguous state repaired, retry required"
	ReasonPartialRotation   = "rotation partially applied: new credential created, old not yet deactivated"
	ReasonStaleNotDeleted   = "stale credential not yet deleted"
	ReasonStaleRemoved      = "stale inactive credential removed, retry required"
	ReasonListFailed        = "listing credentials failed"
	ReasonCreateFailed      = "creating a new credential failed"
	ReasonRepairFailed      = "ambiguous state detected, deactivating the older credential failed"
	ReasonTimeoutPrefix     = "timeout: "
)

// Engine reconciles the credential set of an identity toward a single,
// young, Active credential. Calls for the same identity never interleave.
type Engine struct {
	store       CredentialStore
	sink        ProfileSink
	recorder    Recorder
	metrics     Metrics
	logger      *logging.Logger
	maxAgeDays  int
	callTimeout time.Duration
	now         func() time.Time

	group singleflight.Group
	locks KeyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithProfileSink sets the sink that receives new credentials.
func WithProfileSink(sink ProfileSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithRecorder sets the history recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithMetrics sets the metrics observer.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxAgeDays sets the rotation threshold. Values <= 0 make every decision
// Fatal with ErrConfiguration.
func WithMaxAgeDays(days int) Option {
	return func(e *Engine) { e.maxAgeDays = days }
}

// WithCallTimeout bounds each remote call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithClock overrides the time source used for age computation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over the given store.
func NewEngine(store CredentialStore, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	e := &Engine{
		store:       store,
		recorder:    storage.Discard{},
		metrics:     noopMetrics{},
		logger:      logger,
		maxAgeDays:  DefaultMaxAgeDays,
		callTimeout: DefaultCallTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxAgeDays returns the configured rotation threshold.
func (e *Engine) MaxAgeDays() int {
	return e.maxAgeDays
}

// Evaluate observes the identity's credentials and applies the policy
// decision. Concurrent calls for the same identity share one cycle.
func (e *Engine) Evaluate(ctx context.Context, identity credential.Identity) Outcome {
	return e.shared(ctx, storage.ActionEvaluate, identity, false)
}

// Rotate is Evaluate with the age threshold ignored: a single credential is
// always rotated. Any other set size takes the normal decision path.
func (e *Engine) Rotate(ctx context.Context, identity credential.Identity) Outcome {
	return e.shared(ctx, storage.ActionForceRotate, identity, true)
}

func (e *Engine) shared(ctx context.Context, action string, identity credential.Identity, force bool) Outcome {
	key := action + "|" + identity.Key()
	v, _, _ := e.group.Do(key, func() (interface{}, error) {
		unlock := e.locks.Lock(identity.Key())
		defer unlock()
		return e.evaluate(ctx, action, identity, force), nil
	})
	return v.(Outcome)
}

func (e *Engine) evaluate(ctx context.Context, action string, identity credential.Identity, force bool) Outcome {
	c := e.begin(action, identity)
	if err := identity.Validate(); err != nil {
		return c.finish(failed(err.Error(), fmt.Errorf("%w: %w", ErrConfiguration, err)))
	}

	set, err := c.list(ctx)
	if err != nil {
		return c.finish(failedStep(ReasonListFailed, err))
	}

	decision := Decide(set, e.now(), e.maxAgeDays)
	if force && decision.Kind == NoAction {
		decision.Kind = Rotate
	}
	c.entry.Decision = decision.Kind.String()
	e.logger.Debug("Decision for %s: %s (%d credentials)", identity, decision.Kind, set.Len())

	var out Outcome
	switch decision.Kind {
	case NoAction:
		e.logger.Info("REPORT user '%s' does not need a new credential (age %d days, max %d)",
			identity.UserName, decision.AgeDays, e.maxAgeDays)
		out = Outcome{Kind: Unchanged}
	case Fatal:
		e.logger.Error("Cannot reconcile credentials for %s: %s", identity, decision.Reason)
		out = failed(decision.Reason, decision.Err)
	case RepairAmbiguous:
		out = c.repair(ctx, decision.TargetID)
	case Cleanup:
		out = c.removeStale(ctx, decision.TargetID)
	case Rotate:
		e.logger.Info("REPORT user '%s' needs a new credential", identity.UserName)
		out = c.rotate(ctx, set)
	default:
		out = failed(fmt.Sprintf("unhandled decision %s", decision.Kind), ErrConfiguration)
	}
	out.Decision = decision
	return c.finish(out)
}

// Check reports whether rotation is due without mutating anything.
func (e *Engine) Check(ctx context.Context, identity credential.Identity) (bool, Decision, error) {
	if err := identity.Validate(); err != nil {
		return false, Decision{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	set, err := e.Snapshot(ctx, identity)
	if err != nil {
		return false, Decision{}, err
	}
	decision := Decide(set, e.now(), e.maxAgeDays)
	if decision.Kind == Fatal {
		return false, decision, fmt.Errorf("%w: %s", decision.Err, decision.Reason)
	}
	return decision.Kind == Rotate, decision, nil
}

// Snapshot returns a fresh listing of the identity's credentials.
func (e *Engine) Snapshot(ctx context.Context, identity credential.Identity) (credential.Set, error) {
	cctx, cancel := e.callContext(ctx)
	defer cancel()
	start := time.Now()
	set, err := e.store.List(cctx, identity)
	e.metrics.ObserveStep(string(StepList), stepStatus(err), time.Since(start))
	if err != nil {
		return nil, stepError(StepList, classify(err), err)
	}
	return set.Redacted(), nil
}

// Cleanup deletes every Inactive credential of the identity and returns the
// remaining set. Nothing is deleted when no Active credential would remain.
func (e *Engine) Cleanup(ctx context.Context, identity credential.Identity) (credential.Set, error) {
	unlock := e.locks.Lock(identity.Key())
	defer unlock()

	c := e.begin(storage.ActionCleanup, identity)
	set, err := c.list(ctx)
	if err != nil {
		c.finish(failedStep(ReasonListFailed, err))
		return nil, err
	}
	if set.Len() > 0 && len(set.Active()) == 0 {
		err := fmt.Errorf("%w: %s", ErrNoCredential, ReasonNoActiveCredential)
		c.finish(failed(ReasonNoActiveCredential, err))
		return set, err
	}

	e.logger.Info("SERVICE:REMOVE inactive credentials for '%s'", identity.UserName)
	for _, stale := range set.Inactive() {
		if err := c.delete(ctx, stale.ID); err != nil {
			c.finish(failedStep(ReasonStaleNotDeleted, err))
			return nil, err
		}
		c.entry.OldCredentialID = stale.ID
	}

	remaining, err := c.list(ctx)
	if err != nil {
		c.finish(failedStep(ReasonListFailed, err))
		return nil, err
	}
	c.finish(Outcome{Kind: Unchanged})
	return remaining, nil
}

// MarkInactiveOlder deactivates the older of exactly two credentials.
func (e *Engine) MarkInactiveOlder(ctx context.Context, identity credential.Identity) Outcome {
	unlock := e.locks.Lock(identity.Key())
	defer unlock()

	c := e.begin(storage.ActionMarkInactive, identity)
	set, err := c.list(ctx)
	if err != nil {
		return c.finish(failedStep(ReasonListFailed, err))
	}
	if set.Len() != credential.MaxPerIdentity {
		reason := fmt.Sprintf("marking inactive requires exactly %d credentials, found %d",
			credential.MaxPerIdentity, set.Len())
		return c.finish(failed(reason, ErrConfiguration))
	}

	older, _ := set.Older()
	newer, _ := set.Newer()
	if !older.IsActive() {
		return c.finish(Outcome{Kind: Unchanged, Reason: fmt.Sprintf("credential %s is already inactive", older.ID)})
	}
	if !newer.IsActive() {
		reason := fmt.Sprintf("refusing to deactivate %s: it is the only active credential", older.ID)
		return c.finish(failed(reason, ErrConfiguration))
	}

	e.logger.Info("SERVICE:MARK credential inactive. User: %s, AccessKeyId: %s", identity.UserName, older.ID)
	if err := c.setInactive(ctx, older.ID); err != nil {
		return c.finish(failedStep(ReasonRepairFailed, err))
	}
	c.entry.OldCredentialID = older.ID
	return c.finish(Outcome{Kind: Repaired, DeactivatedID: older.ID})
}

// Delete removes one credential. The last Active credential and unknown ids
// are refused.
func (e *Engine) Delete(ctx context.Context, identity credential.Identity, id string) (credential.Set, error) {
	unlock := e.locks.Lock(identity.Key())
	defer unlock()

	c := e.begin(storage.ActionDeleteCredential, identity)
	set, err := c.list(ctx)
	if err != nil {
		c.finish(failedStep(ReasonListFailed, err))
		return nil, err
	}

	target, ok := set.Get(id)
	if !ok {
		err := fmt.Errorf("%w: credential %s not found for %s", ErrConfiguration, id, identity)
		c.finish(failed(err.Error(), err))
		return set, err
	}
	if target.IsActive() && len(set.Active()) == 1 {
		err := fmt.Errorf("%w: refusing to delete %s, it is the last active credential", ErrConfiguration, id)
		c.finish(failed(err.Error(), err))
		return set, err
	}

	e.logger.Info("SERVICE:DELETE credential. User: %s, AccessKeyId: %s", identity.UserName, id)
	if err := c.delete(ctx, id); err != nil {
		c.finish(failedStep(ReasonStaleNotDeleted, err))
		return nil, err
	}
	c.entry.OldCredentialID = id

	remaining, err := c.list(ctx)
	if err != nil {
		c.finish(failedStep(ReasonListFailed, err))
		return nil, err
	}
	c.finish(Outcome{Kind: Unchanged, DeletedID: id})
	return remaining, nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.callTimeout)
}

// cycle accumulates the history of one engine operation.
type cycle struct {
	engine   *Engine
	identity credential.Identity
	started  time.Time
	entry    storage.HistoryEntry
}

func (e *Engine) begin(action string, identity credential.Identity) *cycle {
	started := time.Now()
	return &cycle{
		engine:   e,
		identity: identity,
		started:  started,
		entry: storage.HistoryEntry{
			Timestamp: started.UTC(),
			Identity:  identity.Key(),
			Action:    action,
		},
	}
}

func (c *cycle) finish(out Outcome) Outcome {
	e := c.engine
	c.entry.Outcome = out.Kind.String()
	c.entry.Reason = out.Reason
	c.entry.Duration = time.Since(c.started)
	if out.Err != nil {
		c.entry.Error = out.Err.Error()
	}
	if out.CredentialID != "" {
		c.entry.NewCredentialID = out.CredentialID
	}
	if out.DeactivatedID != "" {
		c.entry.OldCredentialID = out.DeactivatedID
	} else if out.DeletedID != "" && c.entry.OldCredentialID == "" {
		c.entry.OldCredentialID = out.DeletedID
	}
	if out.PersistError != nil {
		if c.entry.Metadata == nil {
			c.entry.Metadata = map[string]string{}
		}
		c.entry.Metadata["persist_error"] = out.PersistError.Error()
	}

	if err := e.recorder.SaveHistory(&c.entry); err != nil {
		e.logger.Warn("Failed to record rotation history for %s: %v", c.identity, err)
	}
	e.metrics.ObserveCycle(c.entry.Action, c.entry.Outcome, c.entry.Duration)
	return out
}

// call runs one remote step under the per-call timeout and records it.
func (c *cycle) call(ctx context.Context, step Step, fn func(context.Context) error) error {
	cctx, cancel := c.engine.callContext(ctx)
	defer cancel()

	start := time.Now()
	err := fn(cctx)
	done := time.Now()

	result := storage.StepResult{
		Name:        string(step),
		Status:      stepStatus(err),
		StartedAt:   start.UTC(),
		CompletedAt: done.UTC(),
		Duration:    done.Sub(start),
	}
	if err != nil {
		result.Error = err.Error()
	}
	c.entry.Steps = append(c.entry.Steps, result)
	c.engine.metrics.ObserveStep(string(step), result.Status, result.Duration)
	return err
}

func (c *cycle) skip(step Step) {
	now := time.Now().UTC()
	c.entry.Steps = append(c.entry.Steps, storage.StepResult{
		Name:        string(step),
		Status:      storage.StepSkipped,
		StartedAt:   now,
		CompletedAt: now,
	})
	c.engine.metrics.ObserveStep(string(step), storage.StepSkipped, 0)
}

func (c *cycle) list(ctx context.Context) (credential.Set, error) {
	c.engine.logger.Debug("LIST credentials for user %s", c.identity.UserName)
	var set credential.Set
	err := c.call(ctx, StepList, func(ctx context.Context) error {
		var err error
		set, err = c.engine.store.List(ctx, c.identity)
		return err
	})
	if err != nil {
		return nil, stepError(StepList, classify(err), err)
	}
	return set, nil
}

func (c *cycle) setInactive(ctx context.Context, id string) error {
	log := c.engine.logger
	log.Info("CHANGE credential status to Inactive started. User: %s, AccessKeyId: %s", c.identity.UserName, id)
	err := c.call(ctx, StepDeactivate, func(ctx context.Context) error {
		return c.engine.store.SetStatus(ctx, c.identity, id, credential.StatusInactive)
	})
	if err != nil {
		log.Error("CHANGE credential status failed. AccessKeyId: %s: %v", id, err)
		return stepError(StepDeactivate, classify(err), err)
	}
	log.Info("CHANGE credential status to Inactive done. AccessKeyId: %s", id)
	return nil
}

func (c *cycle) delete(ctx context.Context, id string) error {
	log := c.engine.logger
	log.Info("DELETE credential started. User: %s, AccessKeyId: %s", c.identity.UserName, id)
	err := c.call(ctx, StepDelete, func(ctx context.Context) error {
		return c.engine.store.Delete(ctx, c.identity, id)
	})
	if err != nil {
		log.Error("DELETE credential failed. AccessKeyId: %s: %v", id, err)
		return stepError(StepDelete, classify(err), err)
	}
	log.Info("DELETE credential done. AccessKeyId: %s deleted", id)
	return nil
}

// repair retires the older of two Active credentials. The outcome is always
// Failed so the caller re-evaluates the now single-active set.
func (c *cycle) repair(ctx context.Context, id string) Outcome {
	c.engine.logger.Warn("Two active credentials found for %s, deactivating the older one (%s)", c.identity, id)
	if err := c.setInactive(ctx, id); err != nil {
		return failedStep(ReasonRepairFailed, err)
	}
	return Outcome{
		Kind:          Failed,
		DeactivatedID: id,
		Reason:        ReasonAmbiguousRepaired,
		Err:           ErrAmbiguousState,
	}
}

// removeStale deletes the Inactive leftover of an interrupted rotation.
func (c *cycle) removeStale(ctx context.Context, id string) Outcome {
	c.engine.logger.Warn("Inactive leftover credential %s found for %s, deleting it", id, c.identity)
	if err := c.delete(ctx, id); err != nil {
		return failedStep(ReasonStaleNotDeleted, err)
	}
	c.entry.OldCredentialID = id
	return Outcome{
		Kind:      Failed,
		DeletedID: id,
		Reason:    ReasonStaleRemoved,
		Err:       ErrAmbiguousState,
	}
}

// rotate runs the create, deactivate, persist and delete sequence. Once the
// new credential exists the remaining steps ignore caller cancellation.
func (c *cycle) rotate(ctx context.Context, observed credential.Set) Outcome {
	e := c.engine
	if observed.Len() != 1 {
		return failed(fmt.Sprintf("rotation requires exactly one credential, found %d", observed.Len()), ErrConfiguration)
	}
	c.entry.OldCredentialID = observed[0].ID

	// a. create
	e.logger.Info("CREATE a new credential started. User: %s", c.identity.UserName)
	var created credential.Credential
	err := c.call(ctx, StepCreate, func(ctx context.Context) error {
		var err error
		created, err = e.store.Create(ctx, c.identity)
		return err
	})
	if err == nil && created.ID == "" {
		err = errors.New("provider returned a credential without an id")
	}
	if err != nil {
		e.logger.Error("CREATE a new credential failed. User: %s: %v", c.identity.UserName, err)
		return failedStep(ReasonCreateFailed, stepError(StepCreate, classify(err), err))
	}
	e.logger.Info("CREATE a new credential done. User: %s, AccessKeyId: %s", c.identity.UserName, created.ID)
	c.entry.NewCredentialID = created.ID

	ctx = context.WithoutCancel(ctx)
	partial := func(reason string, err error) Outcome {
		out := failedStep(reason, partialError(err))
		out.CredentialID = created.ID
		out.NewCredential = &created
		return out
	}

	// b. re-list and deactivate the older credential
	current, err := c.list(ctx)
	if err != nil {
		return partial(ReasonPartialRotation, err)
	}
	older, ok := current.Without(created.ID).Older()
	if !ok {
		err := stepError(StepDeactivate, ErrPartialRotation,
			fmt.Errorf("no credential older than %s in listing", created.ID))
		return partial(ReasonPartialRotation, err)
	}
	if older.IsActive() {
		if err := c.setInactive(ctx, older.ID); err != nil {
			return partial(ReasonPartialRotation, err)
		}
	} else {
		c.skip(StepDeactivate)
	}

	// c. persist
	var persistErr error
	if e.sink == nil {
		c.skip(StepPersist)
	} else {
		persistErr = c.call(ctx, StepPersist, func(ctx context.Context) error {
			return e.sink.Persist(ctx, c.identity, created)
		})
		if persistErr != nil {
			e.logger.Warn("Persisting credential %s for %s failed, continuing: %v", created.ID, c.identity, persistErr)
		} else {
			e.logger.Info("SAVED credential %s for user '%s'", created.ID, c.identity.UserName)
		}
	}

	// d. delete the deactivated credential
	if err := c.delete(ctx, older.ID); err != nil {
		out := partial(ReasonStaleNotDeleted, err)
		out.DeactivatedID = older.ID
		out.PersistError = persistErr
		return out
	}

	e.logger.Info("SERVICE:PUBLISH a new credential for user %s, AccessKeyId: %s", c.identity.UserName, created.ID)
	return Outcome{
		Kind:          Rotated,
		CredentialID:  created.ID,
		DeactivatedID: older.ID,
		DeletedID:     older.ID,
		NewCredential: &created,
		PersistError:  persistErr,
	}
}

// classify maps a store error to an error kind.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrAuthorization):
		return ErrAuthorization
	case errors.Is(err, ErrLimitExceeded):
		return ErrLimitExceeded
	case errors.Is(err, ErrConfiguration):
		return ErrConfiguration
	default:
		return ErrTransientProvider
	}
}

// partialError re-kinds a step failure after the create step.
func partialError(err error) error {
	var se *StepError
	if errors.As(err, &se) {
		return &StepError{Step: se.Step, Kind: ErrPartialRotation, Err: se.Err}
	}
	return &StepError{Kind: ErrPartialRotation, Err: err}
}

func stepStatus(err error) string {
	if err != nil {
		return storage.StepFailed
	}
	return storage.StepSucceeded
}

func failed(reason string, err error) Outcome {
	return Outcome{Kind: Failed, Reason: reason, Err: err}
}

// failedStep prefixes timeouts in the reason so callers can tell them apart.
func failedStep(reason string, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonTimeoutPrefix + reason
	}
	return failed(reason, err)
}
