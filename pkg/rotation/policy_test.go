package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/keyrotate/pkg/credential"
)

var policyNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func aged(id string, days int, status credential.Status) credential.Credential {
	return credential.Credential{
		ID:        id,
		Status:    status,
		CreatedAt: policyNow.Add(-time.Duration(days) * 24 * time.Hour),
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		set        credential.Set
		maxAgeDays int
		wantKind   DecisionKind
		wantTarget string
		wantReason string
		wantErr    error
	}{
		{
			name:       "empty set is fatal",
			set:        credential.Set{},
			maxAgeDays: 75,
			wantKind:   Fatal,
			wantReason: ReasonNoCredential,
			wantErr:    ErrNoCredential,
		},
		{
			name:       "young single credential",
			set:        credential.Set{aged("A", 10, credential.StatusActive)},
			maxAgeDays: 75,
			wantKind:   NoAction,
		},
		{
			name:       "single credential past max age",
			set:        credential.Set{aged("A", 80, credential.StatusActive)},
			maxAgeDays: 75,
			wantKind:   Rotate,
		},
		{
			name:       "single credential exactly at max age",
			set:        credential.Set{aged("A", 75, credential.StatusActive)},
			maxAgeDays: 75,
			wantKind:   Rotate,
		},
		{
			name:       "single credential one day short",
			set:        credential.Set{aged("A", 74, credential.StatusActive)},
			maxAgeDays: 75,
			wantKind:   NoAction,
		},
		{
			name:       "future creation time",
			set:        credential.Set{aged("A", -3, credential.StatusActive)},
			maxAgeDays: 1,
			wantKind:   NoAction,
		},
		{
			name: "two active credentials repair the older",
			set: credential.Set{
				aged("B", 5, credential.StatusActive),
				aged("A", 90, credential.StatusActive),
			},
			maxAgeDays: 75,
			wantKind:   RepairAmbiguous,
			wantTarget: "A",
		},
		{
			name: "inactive leftover is cleaned up",
			set: credential.Set{
				aged("A", 90, credential.StatusActive),
				aged("B", 5, credential.StatusInactive),
			},
			maxAgeDays: 75,
			wantKind:   Cleanup,
			wantTarget: "B",
		},
		{
			name: "two inactive credentials are fatal",
			set: credential.Set{
				aged("A", 90, credential.StatusInactive),
				aged("B", 5, credential.StatusInactive),
			},
			maxAgeDays: 75,
			wantKind:   Fatal,
			wantReason: ReasonNoActiveCredential,
			wantErr:    ErrNoCredential,
		},
		{
			name: "three credentials exceed the limit",
			set: credential.Set{
				aged("A", 1, credential.StatusActive),
				aged("B", 2, credential.StatusActive),
				aged("C", 3, credential.StatusInactive),
			},
			maxAgeDays: 75,
			wantKind:   Fatal,
			wantReason: ReasonLimitExceeded,
			wantErr:    ErrLimitExceeded,
		},
		{
			name:       "zero max age is a configuration error",
			set:        credential.Set{aged("A", 10, credential.StatusActive)},
			maxAgeDays: 0,
			wantKind:   Fatal,
			wantErr:    ErrConfiguration,
		},
		{
			name:       "negative max age is a configuration error",
			set:        credential.Set{},
			maxAgeDays: -1,
			wantKind:   Fatal,
			wantErr:    ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Decide(tt.set, policyNow, tt.maxAgeDays)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantTarget, got.TargetID)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, got.Reason)
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, got.Err, tt.wantErr)
			} else {
				assert.NoError(t, got.Err)
			}
		})
	}
}

func TestDecideOlderSelectionIgnoresListOrder(t *testing.T) {
	t.Parallel()

	a := aged("AKIAZZZ", 40, credential.StatusActive)
	b := aged("AKIAAAA", 2, credential.StatusActive)

	for _, set := range []credential.Set{{a, b}, {b, a}} {
		got := Decide(set, policyNow, 75)
		assert.Equal(t, RepairAmbiguous, got.Kind)
		assert.Equal(t, "AKIAZZZ", got.TargetID)
	}
}

func TestDecideEqualTimestampsBreakTieByID(t *testing.T) {
	t.Parallel()

	created := policyNow.Add(-48 * time.Hour)
	x := credential.Credential{ID: "AKIAB", Status: credential.StatusActive, CreatedAt: created}
	y := credential.Credential{ID: "AKIAA", Status: credential.StatusActive, CreatedAt: created}

	assert.Equal(t, "AKIAA", Decide(credential.Set{x, y}, policyNow, 75).TargetID)
	assert.Equal(t, "AKIAA", Decide(credential.Set{y, x}, policyNow, 75).TargetID)
}

func TestDecideAgeTruncatesToWholeDays(t *testing.T) {
	t.Parallel()

	almost := credential.Credential{
		ID:        "A",
		Status:    credential.StatusActive,
		CreatedAt: policyNow.Add(-(75*24*time.Hour - time.Second)),
	}
	got := Decide(credential.Set{almost}, policyNow, 75)
	assert.Equal(t, NoAction, got.Kind)
	assert.Equal(t, 74, got.AgeDays)
}

func TestDecideNeverActsOnOversizedSets(t *testing.T) {
	t.Parallel()

	for n := 3; n <= 6; n++ {
		set := make(credential.Set, 0, n)
		for i := 0; i < n; i++ {
			set = append(set, aged(string(rune('A'+i)), i*30, credential.StatusActive))
		}
		got := Decide(set, policyNow, 75)
		assert.Equal(t, Fatal, got.Kind, "size %d", n)
		assert.Empty(t, got.TargetID)
	}
}

func TestDecisionKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no_action", NoAction.String())
	assert.Equal(t, "repair_ambiguous", RepairAmbiguous.String())
	assert.Equal(t, "DecisionKind(42)", DecisionKind(42).String())
}
