package rotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/keyrotate/internal/rotation/storage"
	"github.com/systmms/keyrotate/pkg/credential"
	"github.com/systmms/keyrotate/tests/fakes"
	"github.com/systmms/keyrotate/tests/testutil"
)

var (
	testNow      = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	testIdentity = credential.Identity{
		AccountID: "123456789012",
		UserName:  "deploy",
		ARN:       "arn:aws:iam::123456789012:user/deploy",
	}
)

func key(id string, days int, status credential.Status) credential.Credential {
	return credential.Credential{
		ID:        id,
		Status:    status,
		CreatedAt: testNow.Add(-time.Duration(days) * 24 * time.Hour),
	}
}

type persisted struct {
	mu    sync.Mutex
	creds []credential.Credential
	err   error
}

func (p *persisted) Persist(_ context.Context, _ credential.Identity, cred credential.Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = append(p.creds, cred)
	return p.err
}

type recordedMetrics struct {
	mu     sync.Mutex
	cycles []string
	steps  []string
}

func (m *recordedMetrics) ObserveCycle(action, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, action+":"+outcome)
}

func (m *recordedMetrics) ObserveStep(step, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step+":"+status)
}

func newTestEngine(t *testing.T, store *fakes.FakeCredentialStore, opts ...Option) *Engine {
	t.Helper()
	store.Now = func() time.Time { return testNow }
	logger, _ := testutil.NewTestLogger(t)
	base := []Option{WithClock(func() time.Time { return testNow })}
	return NewEngine(store, logger, append(base, opts...)...)
}

func opsOf(calls []fakes.StoreCall) []string {
	ops := make([]string, 0, len(calls))
	for _, c := range calls {
		if c.ID != "" {
			ops = append(ops, c.Op+"("+c.ID+")")
			continue
		}
		ops = append(ops, c.Op)
	}
	return ops
}

// Scenario: one aged key is replaced by a fresh one.
func TestEvaluateRotatesAgedCredential(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAOLD", 80, credential.StatusActive))
	sink := &persisted{}
	engine := newTestEngine(t, store, WithProfileSink(sink))

	out := engine.Evaluate(context.Background(), testIdentity)

	require.Equal(t, Rotated, out.Kind, out.Reason)
	assert.NoError(t, out.Err)
	assert.Equal(t, "AKIAOLD", out.DeactivatedID)
	assert.Equal(t, "AKIAOLD", out.DeletedID)
	require.NotNil(t, out.NewCredential)
	assert.Equal(t, out.CredentialID, out.NewCredential.ID)
	assert.True(t, out.NewCredential.HasSecret())

	final := store.Credentials(testIdentity)
	require.Len(t, final, 1)
	assert.Equal(t, out.CredentialID, final[0].ID)
	assert.Equal(t, credential.StatusActive, final[0].Status)

	assert.Equal(t, []string{
		"list", "create", "list", "set_status(AKIAOLD)", "delete(AKIAOLD)",
	}, opsOf(store.Calls()))

	require.Len(t, sink.creds, 1)
	assert.Equal(t, out.CredentialID, sink.creds[0].ID)
	assert.True(t, sink.creds[0].HasSecret())
}

// Scenario: a young key is left alone.
func TestEvaluateYoungCredentialIsUnchanged(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAA", 10, credential.StatusActive))
	engine := newTestEngine(t, store)

	for i := 0; i < 3; i++ {
		out := engine.Evaluate(context.Background(), testIdentity)
		assert.Equal(t, Unchanged, out.Kind)
		assert.Equal(t, NoAction, out.Decision.Kind)
	}

	assert.Equal(t, 3, store.CallCount(fakes.OpList))
	assert.Zero(t, store.MutatingCalls())
}

// Scenario: nothing to rotate from.
func TestEvaluateEmptySetFails(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	engine := newTestEngine(t, store)

	out := engine.Evaluate(context.Background(), testIdentity)

	assert.Equal(t, Failed, out.Kind)
	assert.Equal(t, ReasonNoCredential, out.Reason)
	assert.ErrorIs(t, out.Err, ErrNoCredential)
	assert.False(t, out.Retryable())
	assert.Zero(t, store.MutatingCalls())
}

// Scenario: two active keys, the older is deactivated exactly once.
func TestEvaluateRepairsAmbiguousState(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity,
		key("AKIAB", 3, credential.StatusActive),
		key("AKIAA", 40, credential.StatusActive),
	)
	engine := newTestEngine(t, store)

	out := engine.Evaluate(context.Background(), testIdentity)

	assert.Equal(t, Failed, out.Kind)
	assert.Equal(t, ReasonAmbiguousRepaired, out.Reason)
	assert.ErrorIs(t, out.Err, ErrAmbiguousState)
	assert.Equal(t, "AKIAA", out.DeactivatedID)
	assert.True(t, out.Retryable())

	assert.Equal(t, []string{"list", "set_status(AKIAA)"}, opsOf(store.Calls()))
	a, ok := store.Credentials(testIdentity).Get("AKIAA")
	require.True(t, ok)
	assert.Equal(t, credential.StatusInactive, a.Status)
}

func TestEvaluateConvergesAfterRepair(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity,
		key("AKIAA", 40, credential.StatusActive),
		key("AKIAB", 3, credential.StatusActive),
	)
	engine := newTestEngine(t, store)
	ctx := context.Background()

	first := engine.Evaluate(ctx, testIdentity)
	assert.Equal(t, ReasonAmbiguousRepaired, first.Reason)

	second := engine.Evaluate(ctx, testIdentity)
	assert.Equal(t, Failed, second.Kind)
	assert.Equal(t, ReasonStaleRemoved, second.Reason)
	assert.Equal(t, "AKIAA", second.DeletedID)

	third := engine.Evaluate(ctx, testIdentity)
	assert.Equal(t, Unchanged, third.Kind)

	final := store.Credentials(testIdentity)
	require.Len(t, final, 1)
	assert.Equal(t, "AKIAB", final[0].ID)
}

// Scenario: deactivation fails after the new key exists.
func TestEvaluatePartialRotationRecoversThroughRepair(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAOLD", 80, credential.StatusActive))
	store.FailNext(fakes.OpSetStatus, errors.New("ServiceFailure: internal error"))
	engine := newTestEngine(t, store)
	ctx := context.Background()

	out := engine.Evaluate(ctx, testIdentity)

	assert.Equal(t, Failed, out.Kind)
	assert.Equal(t, ReasonPartialRotation, out.Reason)
	assert.ErrorIs(t, out.Err, ErrPartialRotation)
	assert.True(t, out.Retryable())
	require.NotNil(t, out.NewCredential, "new credential must be returned for recovery")
	assert.True(t, out.NewCredential.HasSecret())
	assert.Equal(t, out.NewCredential.ID, out.CredentialID)

	set := store.Credentials(testIdentity)
	require.Len(t, set, 2)
	assert.Len(t, set.Active(), 2)

	store.ResetCalls()
	next := engine.Evaluate(ctx, testIdentity)
	assert.Equal(t, ReasonAmbiguousRepaired, next.Reason)
	assert.Equal(t, "AKIAOLD", next.DeactivatedID)
	assert.Equal(t, []string{"list", "set_status(AKIAOLD)"}, opsOf(store.Calls()))
}

func TestEvaluateCreateFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantKind error
	}{
		{name: "transient", err: errors.New("throttled"), wantKind: ErrTransientProvider},
		{name: "limit", err: fmt.Errorf("LimitExceeded: %w", credential.ErrLimitExceeded), wantKind: ErrLimitExceeded},
		{name: "authorization", err: fmt.Errorf("AccessDenied: %w", ErrAuthorization), wantKind: ErrAuthorization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := fakes.NewFakeCredentialStore()
			store.Seed(testIdentity, key("AKIAOLD", 80, credential.StatusActive))
			store.FailNext(fakes.OpCreate, tt.err)
			engine := newTestEngine(t, store)

			out := engine.Evaluate(context.Background(), testIdentity)

			assert.Equal(t, Failed, out.Kind)
			assert.Equal(t, ReasonCreateFailed, out.Reason)
			assert.ErrorIs(t, out.Err, tt.wantKind)
			assert.Nil(t, out.NewCredential)

			var stepErr *StepError
			require.ErrorAs(t, out.Err, &stepErr)
			assert.Equal(t, StepCreate, stepErr.Step)

			assert.Equal(t, []string{"list", "create"}, opsOf(store.Calls()))
			assert.Len(t, store.Credentials(testIdentity), 1)
		})
	}
}

func TestEvaluateDeleteFailureLeavesSafeState(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAOLD", 80, credential.StatusActive))
	store.FailNext(fakes.OpDelete, errors.New("connection reset"))
	engine := newTestEngine(t, store)
	ctx := context.Background()

	out := engine.Evaluate(ctx, testIdentity)

	assert.Equal(t, Failed, out.Kind)
	assert.Equal(t, ReasonStaleNotDeleted, out.Reason)
	assert.ErrorIs(t, out.Err, ErrPartialRotation)
	assert.Equal(t, "AKIAOLD", out.DeactivatedID)
	require.NotNil(t, out.NewCredential)

	set := store.Credentials(testIdentity)
	require.Len(t, set, 2)
	assert.Len(t, set.Active(), 1)
	assert.Equal(t, out.CredentialID, set.Active()[0].ID)

	next := engine.Evaluate(ctx, testIdentity)
	assert.Equal(t, ReasonStaleRemoved, next.Reason)
	assert.Equal(t, "AKIAOLD", next.DeletedID)
	assert.Len(t, store.Credentials(testIdentity), 1)
}

func TestEvaluatePersistFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAOLD", 80, credential.StatusActive))
	sink := &persisted{err: errors.New("disk full")}
	engine := newTestEngine(t, store, WithProfileSink(sink))

	out := engine.Evaluate(context.Background(), testIdentity)

	assert.Equal(t, Rotated, out.Kind)
	assert.EqualError(t, out.PersistError, "disk full")
	require.NotNil(t, out.NewCredential)
	assert.Len(t, store.Credentials(testIdentity), 1)
}

func TestEvaluateListFailure(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAA", 80, credential.StatusActive))
	store.FailNext(fakes.OpList, errors.New("dial tcp: no route to host"))
	engine := newTestEngine(t, store)

	out := engine.Evaluate(context.Background(), testIdentity)

	assert.Equal(t, Failed, out.Kind)
	assert.Equal(t, ReasonListFailed, out.Reason)
	assert.ErrorIs(t, out.Err, ErrTransientProvider)
	assert.True(t, out.Retryable())
	assert.Zero(t, store.MutatingCalls())
}

func TestEvaluateAuthorizationFailureIsNotRetryable(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.FailNext(fakes.OpList, fmt.Errorf("ExpiredToken: %w", ErrAuthorization))
	engine := newTestEngine(t, store)

	out := engine.Evaluate(context.Background(), testIdentity)

	assert.ErrorIs(t, out.Err, ErrAuthorization)
	assert.False(t, out.Retryable())
}

func TestEvaluateTimeoutIsReported(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAA", 80, credential.StatusActive))
	store.BeforeCall = func(ctx context.Context, op string) error {
		if op == fakes.OpList {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}
	engine := newTestEngine(t, store, WithCallTimeout(10*time.Millisecond))

	out := engine.Evaluate(context.Background(), testIdentity)

	assert.Equal(t, Failed, out.Kind)
	assert.True(t, strings.HasPrefix(out.Reason, ReasonTimeoutPrefix), out.Reason)
	assert.ErrorIs(t, out.Err, ErrTransientProvider)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestEvaluateIgnoresCancellationAfterCreate(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAOLD", 80, credential.StatusActive))
	store.AfterCall = func(op string, _ credential.Set) {
		if op == fakes.OpCreate {
			cancel()
		}
	}
	engine := newTestEngine(t, store)

	out := engine.Evaluate(ctx, testIdentity)

	assert.Equal(t, Rotated, out.Kind, out.Reason)
	assert.Len(t, store.Credentials(testIdentity), 1)
}

func TestRotationNeverLeavesIdentityWithoutActiveCredential(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAOLD", 80, credential.StatusActive))

	var mu sync.Mutex
	var observed []credential.Set
	store.AfterCall = func(_ string, set credential.Set) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, set)
	}
	engine := newTestEngine(t, store)

	out := engine.Evaluate(context.Background(), testIdentity)
	require.Equal(t, Rotated, out.Kind)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, observed)
	for i, set := range observed {
		assert.GreaterOrEqual(t, set.Len(), 1, "observation %d", i)
		assert.LessOrEqual(t, set.Len(), credential.MaxPerIdentity, "observation %d", i)
		assert.NotEmpty(t, set.Active(), "observation %d has no active credential", i)
	}
}

func TestRotateForcesYoungCredential(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAA", 1, credential.StatusActive))
	engine := newTestEngine(t, store)

	out := engine.Rotate(context.Background(), testIdentity)

	assert.Equal(t, Rotated, out.Kind)
	assert.Equal(t, "AKIAA", out.DeletedID)
}

// The new key shares the old key's creation second and sorts before it.
func TestRotateSameSecondRetiresOldKey(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("ZZZOLD", 0, credential.StatusActive))
	engine := newTestEngine(t, store)

	out := engine.Rotate(context.Background(), testIdentity)

	require.Equal(t, Rotated, out.Kind, out.Reason)
	assert.Equal(t, "ZZZOLD", out.DeactivatedID)
	assert.Equal(t, "ZZZOLD", out.DeletedID)
	set := store.Credentials(testIdentity)
	require.Len(t, set, 1)
	assert.Equal(t, out.CredentialID, set[0].ID)
	assert.True(t, set[0].IsActive())
}

func TestRotateWithTwoCredentialsRepairs(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity,
		key("AKIAA", 20, credential.StatusActive),
		key("AKIAB", 1, credential.StatusActive),
	)
	engine := newTestEngine(t, store)

	out := engine.Rotate(context.Background(), testIdentity)

	assert.Equal(t, ReasonAmbiguousRepaired, out.Reason)
	assert.Zero(t, store.CallCount(fakes.OpCreate))
}

func TestEvaluateInvalidConfiguration(t *testing.T) {
	t.Parallel()

	t.Run("incomplete identity", func(t *testing.T) {
		t.Parallel()
		store := fakes.NewFakeCredentialStore()
		engine := newTestEngine(t, store)

		out := engine.Evaluate(context.Background(), credential.Identity{AccountID: "123456789012"})

		assert.ErrorIs(t, out.Err, ErrConfiguration)
		assert.ErrorIs(t, out.Err, credential.ErrIncompleteIdentity)
		assert.Empty(t, store.Calls())
	})

	t.Run("invalid max age", func(t *testing.T) {
		t.Parallel()
		store := fakes.NewFakeCredentialStore()
		store.Seed(testIdentity, key("AKIAA", 100, credential.StatusActive))
		engine := newTestEngine(t, store, WithMaxAgeDays(0))

		out := engine.Evaluate(context.Background(), testIdentity)

		assert.ErrorIs(t, out.Err, ErrConfiguration)
		assert.Zero(t, store.MutatingCalls())
	})
}

func TestEvaluateConcurrentCallsRotateOnce(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAOLD", 80, credential.StatusActive))
	engine := newTestEngine(t, store)

	const callers = 8
	outcomes := make([]Outcome, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = engine.Evaluate(context.Background(), testIdentity)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.CallCount(fakes.OpCreate))
	assert.Len(t, store.Credentials(testIdentity), 1)
	for _, out := range outcomes {
		assert.Contains(t, []OutcomeKind{Rotated, Unchanged}, out.Kind)
	}
	assert.Zero(t, engine.locks.Len())
}

func TestEvaluateIdentitiesAreIndependent(t *testing.T) {
	t.Parallel()

	other := credential.Identity{AccountID: "123456789012", UserName: "ci"}
	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAONE", 80, credential.StatusActive))
	store.Seed(other, key("AKIATWO", 90, credential.StatusActive))
	engine := newTestEngine(t, store)

	var wg sync.WaitGroup
	results := make(map[string]Outcome)
	var mu sync.Mutex
	for _, id := range []credential.Identity{testIdentity, other} {
		wg.Add(1)
		go func(id credential.Identity) {
			defer wg.Done()
			out := engine.Evaluate(context.Background(), id)
			mu.Lock()
			results[id.Key()] = out
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	assert.Equal(t, Rotated, results[testIdentity.Key()].Kind)
	assert.Equal(t, Rotated, results[other.Key()].Kind)
	assert.Equal(t, "AKIAONE", results[testIdentity.Key()].DeletedID)
	assert.Equal(t, "AKIATWO", results[other.Key()].DeletedID)
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seed    []credential.Credential
		wantDue bool
		wantErr error
	}{
		{name: "due", seed: []credential.Credential{key("A", 76, credential.StatusActive)}, wantDue: true},
		{name: "not due", seed: []credential.Credential{key("A", 5, credential.StatusActive)}},
		{name: "ambiguous is not due", seed: []credential.Credential{
			key("A", 76, credential.StatusActive), key("B", 1, credential.StatusActive),
		}},
		{name: "empty", wantErr: ErrNoCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := fakes.NewFakeCredentialStore()
			store.Seed(testIdentity, tt.seed...)
			engine := newTestEngine(t, store)

			due, _, err := engine.Check(context.Background(), testIdentity)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantDue, due)
			assert.Zero(t, store.MutatingCalls())
		})
	}
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	t.Run("removes inactive credentials", func(t *testing.T) {
		t.Parallel()
		store := fakes.NewFakeCredentialStore()
		store.Seed(testIdentity,
			key("AKIAA", 10, credential.StatusActive),
			key("AKIAB", 40, credential.StatusInactive),
		)
		engine := newTestEngine(t, store)

		remaining, err := engine.Cleanup(context.Background(), testIdentity)

		require.NoError(t, err)
		assert.Equal(t, []string{"AKIAA"}, remaining.IDs())
		assert.Equal(t, 1, store.CallCount(fakes.OpDelete))
	})

	t.Run("nothing to remove", func(t *testing.T) {
		t.Parallel()
		store := fakes.NewFakeCredentialStore()
		store.Seed(testIdentity, key("AKIAA", 10, credential.StatusActive))
		engine := newTestEngine(t, store)

		remaining, err := engine.Cleanup(context.Background(), testIdentity)

		require.NoError(t, err)
		assert.Len(t, remaining, 1)
		assert.Zero(t, store.MutatingCalls())
	})

	t.Run("refuses to remove every credential", func(t *testing.T) {
		t.Parallel()
		store := fakes.NewFakeCredentialStore()
		store.Seed(testIdentity,
			key("AKIAA", 10, credential.StatusInactive),
			key("AKIAB", 40, credential.StatusInactive),
		)
		engine := newTestEngine(t, store)

		_, err := engine.Cleanup(context.Background(), testIdentity)

		assert.ErrorIs(t, err, ErrNoCredential)
		assert.Zero(t, store.MutatingCalls())
	})

	t.Run("delete failure", func(t *testing.T) {
		t.Parallel()
		store := fakes.NewFakeCredentialStore()
		store.Seed(testIdentity,
			key("AKIAA", 10, credential.StatusActive),
			key("AKIAB", 40, credential.StatusInactive),
		)
		store.FailNext(fakes.OpDelete, errors.New("boom"))
		engine := newTestEngine(t, store)

		_, err := engine.Cleanup(context.Background(), testIdentity)

		assert.ErrorIs(t, err, ErrTransientProvider)
		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, StepDelete, stepErr.Step)
	})
}

func TestMarkInactiveOlder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		seed       []credential.Credential
		wantKind   OutcomeKind
		wantTarget string
		wantErr    error
		wantWrites int
	}{
		{
			name: "deactivates the older of two active",
			seed: []credential.Credential{
				key("AKIAB", 2, credential.StatusActive),
				key("AKIAA", 30, credential.StatusActive),
			},
			wantKind:   Repaired,
			wantTarget: "AKIAA",
			wantWrites: 1,
		},
		{
			name: "older already inactive",
			seed: []credential.Credential{
				key("AKIAA", 30, credential.StatusInactive),
				key("AKIAB", 2, credential.StatusActive),
			},
			wantKind: Unchanged,
		},
		{
			name: "refuses to deactivate the only active credential",
			seed: []credential.Credential{
				key("AKIAA", 30, credential.StatusActive),
				key("AKIAB", 2, credential.StatusInactive),
			},
			wantKind: Failed,
			wantErr:  ErrConfiguration,
		},
		{
			name:     "single credential",
			seed:     []credential.Credential{key("AKIAA", 30, credential.StatusActive)},
			wantKind: Failed,
			wantErr:  ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := fakes.NewFakeCredentialStore()
			store.Seed(testIdentity, tt.seed...)
			engine := newTestEngine(t, store)

			out := engine.MarkInactiveOlder(context.Background(), testIdentity)

			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, tt.wantTarget, out.DeactivatedID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, out.Err, tt.wantErr)
			}
			assert.Equal(t, tt.wantWrites, store.MutatingCalls())
		})
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	t.Run("deletes an inactive credential", func(t *testing.T) {
		t.Parallel()
		store := fakes.NewFakeCredentialStore()
		store.Seed(testIdentity,
			key("AKIAA", 10, credential.StatusActive),
			key("AKIAB", 40, credential.StatusInactive),
		)
		engine := newTestEngine(t, store)

		remaining, err := engine.Delete(context.Background(), testIdentity, "AKIAB")

		require.NoError(t, err)
		assert.Equal(t, []string{"AKIAA"}, remaining.IDs())
	})

	t.Run("deletes one of two active credentials", func(t *testing.T) {
		t.Parallel()
		store := fakes.NewFakeCredentialStore()
		store.Seed(testIdentity,
			key("AKIAA", 10, credential.StatusActive),
			key("AKIAB", 40, credential.StatusActive),
		)
		engine := newTestEngine(t, store)

		remaining, err := engine.Delete(context.Background(), testIdentity, "AKIAB")

		require.NoError(t, err)
		assert.Equal(t, []string{"AKIAA"}, remaining.IDs())
	})

	t.Run("refuses the last active credential", func(t *testing.T) {
		t.Parallel()
		store := fakes.NewFakeCredentialStore()
		store.Seed(testIdentity, key("AKIAA", 10, credential.StatusActive))
		engine := newTestEngine(t, store)

		_, err := engine.Delete(context.Background(), testIdentity, "AKIAA")

		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Zero(t, store.MutatingCalls())
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		store := fakes.NewFakeCredentialStore()
		store.Seed(testIdentity, key("AKIAA", 10, credential.StatusActive))
		engine := newTestEngine(t, store)

		_, err := engine.Delete(context.Background(), testIdentity, "AKIANOPE")

		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Zero(t, store.MutatingCalls())
	})
}

func TestSnapshotRedactsSecrets(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	leaky := key("AKIAA", 10, credential.StatusActive)
	leaky.Secret = "should-not-be-listed"
	store.Seed(testIdentity, leaky)
	engine := newTestEngine(t, store)

	set, err := engine.Snapshot(context.Background(), testIdentity)

	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.False(t, set[0].HasSecret())
}

func TestEngineRecordsHistory(t *testing.T) {
	t.Parallel()

	history := storage.NewFileStorage(t.TempDir())
	metrics := &recordedMetrics{}
	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAOLD", 80, credential.StatusActive))
	engine := newTestEngine(t, store,
		WithRecorder(history),
		WithMetrics(metrics),
		WithProfileSink(&persisted{}),
	)

	out := engine.Evaluate(context.Background(), testIdentity)
	require.Equal(t, Rotated, out.Kind)

	latest, err := history.GetLatest(testIdentity.Key())
	require.NoError(t, err)
	assert.Equal(t, storage.ActionEvaluate, latest.Action)
	assert.Equal(t, "rotate", latest.Decision)
	assert.Equal(t, "rotated", latest.Outcome)
	assert.Equal(t, "AKIAOLD", latest.OldCredentialID)
	assert.Equal(t, out.CredentialID, latest.NewCredentialID)
	assert.True(t, latest.Mutated())

	var steps []string
	for _, s := range latest.Steps {
		steps = append(steps, s.Name)
		assert.Equal(t, storage.StepSucceeded, s.Status)
	}
	assert.Equal(t, []string{"list", "create", "list", "deactivate", "persist", "delete"}, steps)

	assert.Equal(t, []string{"evaluate:rotated"}, metrics.cycles)
	assert.Len(t, metrics.steps, 6)
}

func TestEngineRecordsSkippedPersistWithoutSink(t *testing.T) {
	t.Parallel()

	history := storage.NewFileStorage(t.TempDir())
	store := fakes.NewFakeCredentialStore()
	store.Seed(testIdentity, key("AKIAOLD", 80, credential.StatusActive))
	engine := newTestEngine(t, store, WithRecorder(history))

	require.Equal(t, Rotated, engine.Evaluate(context.Background(), testIdentity).Kind)

	latest, err := history.GetLatest(testIdentity.Key())
	require.NoError(t, err)
	var persist *storage.StepResult
	for i := range latest.Steps {
		if latest.Steps[i].Name == string(StepPersist) {
			persist = &latest.Steps[i]
		}
	}
	require.NotNil(t, persist)
	assert.Equal(t, storage.StepSkipped, persist.Status)
}

func TestEngineDoesNotLogSecrets(t *testing.T) {
	t.Parallel()

	store := fakes.NewFakeCredentialStore()
	store.Now = func() time.Time { return testNow }
	store.Seed(testIdentity, key("AKIAOLD", 80, credential.StatusActive))
	logger, logs := testutil.NewTestLogger(t)
	engine := NewEngine(store, logger, WithClock(func() time.Time { return testNow }))

	out := engine.Evaluate(context.Background(), testIdentity)
	require.Equal(t, Rotated, out.Kind)

	logs.AssertRedacted(t, out.NewCredential.Secret.Reveal())
	logs.AssertContains(t, "CREATE a new credential done")
}

func TestOutcomeJSON(t *testing.T) {
	t.Parallel()

	cred := credential.Credential{
		ID:        "AKIANEW",
		Secret:    "s3cr3t",
		Status:    credential.StatusActive,
		CreatedAt: testNow,
	}
	out := Outcome{
		Kind:          Failed,
		CredentialID:  "AKIANEW",
		Reason:        ReasonPartialRotation,
		Err:           &StepError{Step: StepDeactivate, Kind: ErrPartialRotation, Err: errors.New("boom")},
		NewCredential: &cred,
	}

	data, err := json.Marshal(out)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "failed", decoded["kind"])
	assert.Equal(t, "partial_rotation", decoded["error_kind"])
	assert.Equal(t, true, decoded["retryable"])
	assert.Equal(t, "deactivate: boom", decoded["error"])

	nc, ok := decoded["new_credential"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "s3cr3t", nc["secret"])
	assert.Equal(t, "Active", nc["status"])
}

func TestRetryableKinds(t *testing.T) {
	t.Parallel()

	assert.True(t, Retryable(ErrTransientProvider))
	assert.True(t, Retryable(ErrAmbiguousState))
	assert.True(t, Retryable(fmt.Errorf("wrapped: %w", ErrPartialRotation)))
	assert.False(t, Retryable(ErrConfiguration))
	assert.False(t, Retryable(ErrLimitExceeded))
	assert.False(t, Retryable(ErrNoCredential))
	assert.False(t, Retryable(ErrAuthorization))
	assert.False(t, Retryable(nil))
}
