package fakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/keyrotate/internal/logging"
	"github.com/systmms/keyrotate/pkg/credential"
)

// Operations recorded by FakeCredentialStore
const (
	OpList      = "list"
	OpCreate    = "create"
	OpSetStatus = "set_status"
	OpDelete    = "delete"
)

// StoreCall records one call made against the fake store
type StoreCall struct {
	Op       string
	Identity string
	ID       string
	Status   credential.Status
}

// Mutating reports whether the call changes remote state
func (c StoreCall) Mutating() bool {
	return c.Op != OpList
}

// FakeCredentialStore is an in-memory identity provider credential API.
// It enforces the two-credential limit like the real provider does.
type FakeCredentialStore struct {
	mu     sync.Mutex
	sets   map[string]credential.Set
	calls  []StoreCall
	errors map[string][]error
	seq    int

	// Now is the creation time source for new credentials
	Now func() time.Time
	// BeforeCall runs before each call, outside the store lock
	BeforeCall func(ctx context.Context, op string) error
	// AfterCall runs after each successful call with the resulting set
	AfterCall func(op string, set credential.Set)
	// ListFilter rewrites the result of List, e.g. to simulate stale reads
	ListFilter func(set credential.Set) credential.Set
}

// NewFakeCredentialStore creates an empty fake store
func NewFakeCredentialStore() *FakeCredentialStore {
	return &FakeCredentialStore{
		sets:   make(map[string]credential.Set),
		errors: make(map[string][]error),
		Now:    time.Now,
	}
}

// Seed replaces the credential set of an identity
func (f *FakeCredentialStore) Seed(identity credential.Identity, creds ...credential.Credential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(credential.Set, len(creds))
	copy(set, creds)
	f.sets[identity.Key()] = set
}

// Credentials returns the current set of an identity
func (f *FakeCredentialStore) Credentials(identity credential.Identity) credential.Set {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(identity.Key())
}

// FailNext queues err for the next call of op. Queued errors are consumed in
// order; a nil entry lets one call through.
func (f *FakeCredentialStore) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[op] = append(f.errors[op], errs...)
}

// Calls returns every call made so far
func (f *FakeCredentialStore) Calls() []StoreCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StoreCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of calls of op
func (f *FakeCredentialStore) CallCount(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// MutatingCalls returns the number of calls that change remote state
func (f *FakeCredentialStore) MutatingCalls() int {
	n := 0
	for _, c := range f.Calls() {
		if c.Mutating() {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log
func (f *FakeCredentialStore) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakeCredentialStore) List(ctx context.Context, identity credential.Identity) (credential.Set, error) {
	if err := f.enter(ctx, StoreCall{Op: OpList, Identity: identity.Key()}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	set := f.snapshot(identity.Key()).Redacted()
	f.mu.Unlock()
	if f.ListFilter != nil {
		set = f.ListFilter(set)
	}
	f.after(OpList, set)
	return set, nil
}

func (f *FakeCredentialStore) Create(ctx context.Context, identity credential.Identity) (credential.Credential, error) {
	if err := f.enter(ctx, StoreCall{Op: OpCreate, Identity: identity.Key()}); err != nil {
		return credential.Credential{}, err
	}
	f.mu.Lock()
	key := identity.Key()
	if len(f.sets[key]) >= credential.MaxPerIdentity {
		f.mu.Unlock()
		return credential.Credential{}, fmt.Errorf("LimitExceeded: cannot exceed quota for AccessKeysPerUser: %w", credential.ErrLimitExceeded)
	}
	f.seq++
	created := credential.Credential{
		ID:        fmt.Sprintf("AKIAFAKE%012d", f.seq),
		Secret:    logging.Secret(fmt.Sprintf("fake-secret-%d", f.seq)),
		Status:    credential.StatusActive,
		CreatedAt: f.Now().UTC(),
	}
	f.sets[key] = append(f.sets[key], created.WithoutSecret())
	set := f.snapshot(key)
	f.mu.Unlock()
	f.after(OpCreate, set)
	return created, nil
}

func (f *FakeCredentialStore) SetStatus(ctx context.Context, identity credential.Identity, id string, status credential.Status) error {
	if err := f.enter(ctx, StoreCall{Op: OpSetStatus, Identity: identity.Key(), ID: id, Status: status}); err != nil {
		return err
	}
	f.mu.Lock()
	key := identity.Key()
	found := false
	for i := range f.sets[key] {
		if f.sets[key][i].ID == id {
			f.sets[key][i].Status = status
			found = true
		}
	}
	set := f.snapshot(key)
	f.mu.Unlock()
	if !found {
		return fmt.Errorf("NoSuchEntity: access key %s not found", id)
	}
	f.after(OpSetStatus, set)
	return nil
}

func (f *FakeCredentialStore) Delete(ctx context.Context, identity credential.Identity, id string) error {
	if err := f.enter(ctx, StoreCall{Op: OpDelete, Identity: identity.Key(), ID: id}); err != nil {
		return err
	}
	f.mu.Lock()
	key := identity.Key()
	kept := credential.Set{}
	found := false
	for _, c := range f.sets[key] {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	f.sets[key] = kept
	set := f.snapshot(key)
	f.mu.Unlock()
	if !found {
		return fmt.Errorf("NoSuchEntity: access key %s not found", id)
	}
	f.after(OpDelete, set)
	return nil
}

// enter records the call, runs BeforeCall and pops a queued error
func (f *FakeCredentialStore) enter(ctx context.Context, call StoreCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	var queued error
	if q := f.errors[call.Op]; len(q) > 0 {
		queued = q[0]
		f.errors[call.Op] = q[1:]
	}
	f.mu.Unlock()

	if f.BeforeCall != nil {
		if err := f.BeforeCall(ctx, call.Op); err != nil {
			return err
		}
	}
	if queued != nil {
		return queued
	}
	return ctx.Err()
}

func (f *FakeCredentialStore) after(op string, set credential.Set) {
	if f.AfterCall != nil {
		f.AfterCall(op, set)
	}
}

func (f *FakeCredentialStore) snapshot(key string) credential.Set {
	out := make(credential.Set, len(f.sets[key]))
	copy(out, f.sets[key])
	return out
}
