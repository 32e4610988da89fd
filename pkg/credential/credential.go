package credential

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/systmms/keyrotate/internal/logging"
)

// MaxPerIdentity is the provider's hard limit of keys per identity.
const MaxPerIdentity = 2

var (
	// ErrLimitExceeded is returned when a set holds more than MaxPerIdentity keys.
	ErrLimitExceeded = errors.New("credential limit exceeded")
	// ErrDuplicateID is returned when a set contains the same key twice.
	ErrDuplicateID = errors.New("duplicate credential id")
	// ErrUnknownStatus is returned when a provider status string is neither Active nor Inactive.
	ErrUnknownStatus = errors.New("unknown credential status")
	// ErrIncompleteIdentity is returned when an identity is missing its account or user name.
	ErrIncompleteIdentity = errors.New("incomplete identity")
)

// Status is the usability state of a credential.
type Status int

const (
	StatusActive Status = iota + 1
	StatusInactive
)

// String returns the provider spelling of the status
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusInactive:
		return "Inactive"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText encodes the status in its provider spelling.
func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusActive, StatusInactive:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, int(s))
	}
}

// UnmarshalText decodes a provider status string.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a provider status string. Matching is exact.
func ParseStatus(raw string) (Status, error) {
	switch raw {
	case "Active":
		return StatusActive, nil
	case "Inactive":
		return StatusInactive, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

// Credential is one access key issued for an identity.
type Credential struct {
	ID        string         `json:"id"`
	Secret    logging.Secret `json:"secret,omitempty"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// IsActive reports whether the credential can authenticate.
func (c Credential) IsActive() bool {
	return c.Status == StatusActive
}

// HasSecret reports whether the secret half is present. It is only present on
// the value returned by a create call.
func (c Credential) HasSecret() bool {
	return c.Secret != ""
}

// AgeDays returns the age of the credential at now, truncated to whole days.
// A creation time after now yields a negative age.
func (c Credential) AgeDays(now time.Time) int {
	return int(now.Sub(c.CreatedAt) / (24 * time.Hour))
}

// WithoutSecret returns a copy with the secret removed, suitable for listing.
func (c Credential) WithoutSecret() Credential {
	c.Secret = ""
	return c
}

// olderThan orders credentials by creation time. Equal timestamps fall back to
// lexicographic ID order so the choice never depends on provider list order.
func (c Credential) olderThan(other Credential) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// Set is the observed collection of credentials for one identity.
type Set []Credential

// Len returns the number of credentials in the set
func (s Set) Len() int {
	return len(s)
}

// Get returns the credential with the given id.
func (s Set) Get(id string) (Credential, bool) {
	for _, c := range s {
		if c.ID == id {
			return c, true
		}
	}
	return Credential{}, false
}

// Active returns the Active members in age order, oldest first.
func (s Set) Active() Set {
	return s.filter(StatusActive)
}

// Inactive returns the Inactive members in age order, oldest first.
func (s Set) Inactive() Set {
	return s.filter(StatusInactive)
}

func (s Set) filter(status Status) Set {
	var out Set
	for _, c := range s.Sorted() {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

// Sorted returns a copy ordered oldest first.
func (s Set) Sorted() Set {
	out := make(Set, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].olderThan(out[j])
	})
	return out
}

// Older returns the oldest credential. The second return is false for an
// empty set.
func (s Set) Older() (Credential, bool) {
	if len(s) == 0 {
		return Credential{}, false
	}
	oldest := s[0]
	for _, c := range s[1:] {
		if c.olderThan(oldest) {
			oldest = c
		}
	}
	return oldest, true
}

// Newer returns the newest credential.
func (s Set) Newer() (Credential, bool) {
	if len(s) == 0 {
		return Credential{}, false
	}
	newest := s[0]
	for _, c := range s[1:] {
		if newest.olderThan(c) {
			newest = c
		}
	}
	return newest, true
}

// Without returns the members whose id is not id.
func (s Set) Without(id string) Set {
	out := make(Set, 0, len(s))
	for _, c := range s {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// IDs returns the credential ids in age order.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for _, c := range s.Sorted() {
		ids = append(ids, c.ID)
	}
	return ids
}

// Redacted returns a copy of the set with every secret removed.
func (s Set) Redacted() Set {
	out := make(Set, len(s))
	for i, c := range s {
		out[i] = c.WithoutSecret()
	}
	return out
}

// Validate checks the structural invariants of an observed set.
func (s Set) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, c := range s {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	if len(s) > MaxPerIdentity {
		return fmt.Errorf("%w: %d credentials observed, limit is %d", ErrLimitExceeded, len(s), MaxPerIdentity)
	}
	return nil
}

// Identity is the principal whose credentials are rotated. It is resolved once
// per session and never changes for the session's lifetime.
type Identity struct {
	AccountID string `json:"account_id"`
	UserName  string `json:"user_name"`
	ARN       string `json:"arn,omitempty"`
}

// Key returns a stable key for per-identity locking and storage.
func (i Identity) Key() string {
	return i.AccountID + "/" + i.UserName
}

// String returns the account and user name
func (i Identity) String() string {
	return i.Key()
}

// Validate checks that the identity can be used for provider calls.
func (i Identity) Validate() error {
	if i.AccountID == "" {
		return fmt.Errorf("%w: account id is empty", ErrIncompleteIdentity)
	}
	if i.UserName == "" {
		return fmt.Errorf("%w: user name is empty", ErrIncompleteIdentity)
	}
	return nil
}
