package rotation

import (
	"fmt"
	"time"

	"github.com/systmms/keyrotate/pkg/credential"
)

// DefaultMaxAgeDays is the credential age at which rotation becomes due.
const DefaultMaxAgeDays = 75

// Reasons attached to Fatal decisions.
const (
	ReasonNoCredential       = "no credential present"
	ReasonNoActiveCredential = "no active credential present"
	ReasonLimitExceeded      = "credential limit exceeded"
)

// DecisionKind enumerates what the policy asks the engine to do.
type DecisionKind int

const (
	// NoAction: the single credential is younger than the maximum age.
	NoAction DecisionKind = iota + 1
	// Rotate: the single credential is due; create a fresh one.
	Rotate
	// RepairAmbiguous: two Active credentials; retire TargetID (the older).
	RepairAmbiguous
	// Cleanup: one Active and one Inactive credential; delete TargetID (the
	// Inactive one). A previous rotation stopped before its final delete.
	Cleanup
	// Fatal: the set cannot be reconciled by this system.
	Fatal
)

func (k DecisionKind) String() string {
	switch k {
	case NoAction:
		return "no_action"
	case Rotate:
		return "rotate"
	case RepairAmbiguous:
		return "repair_ambiguous"
	case Cleanup:
		return "cleanup"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("DecisionKind(%d)", int(k))
	}
}

// Decision is the output of Decide.
type Decision struct {
	Kind     DecisionKind
	TargetID string // RepairAmbiguous and Cleanup only
	Reason   string // Fatal only
	Err      error  // Fatal only; one of the error kinds
	AgeDays  int    // size 1 only
}

// Decide classifies a credential set. It performs no I/O.
//
// Rules by set size:
//
//	0  -> Fatal(no credential present)
//	1  -> Rotate when the age in whole days is >= maxAgeDays, else NoAction
//	2  -> RepairAmbiguous(older) when both are Active,
//	      Cleanup(inactive) when exactly one is Inactive,
//	      Fatal(no active credential present) when both are Inactive
//	>2 -> Fatal(credential limit exceeded)
//
// The older of two credentials is the one with the smaller creation time;
// equal creation times fall back to the lexicographically smaller id.
func Decide(set credential.Set, now time.Time, maxAgeDays int) Decision {
	if maxAgeDays <= 0 {
		return Decision{
			Kind:   Fatal,
			Reason: fmt.Sprintf("invalid max age: %d days", maxAgeDays),
			Err:    ErrConfiguration,
		}
	}

	switch n := set.Len(); {
	case n == 0:
		return Decision{Kind: Fatal, Reason: ReasonNoCredential, Err: ErrNoCredential}

	case n == 1:
		age := set[0].AgeDays(now)
		if age >= maxAgeDays {
			return Decision{Kind: Rotate, AgeDays: age}
		}
		return Decision{Kind: NoAction, AgeDays: age}

	case n == credential.MaxPerIdentity:
		switch len(set.Inactive()) {
		case 0:
			older, _ := set.Older()
			return Decision{Kind: RepairAmbiguous, TargetID: older.ID}
		case 1:
			return Decision{Kind: Cleanup, TargetID: set.Inactive()[0].ID}
		default:
			return Decision{Kind: Fatal, Reason: ReasonNoActiveCredential, Err: ErrNoCredential}
		}

	default:
		return Decision{Kind: Fatal, Reason: ReasonLimitExceeded, Err: ErrLimitExceeded}
	}
}
