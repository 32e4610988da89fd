package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	dserrors "github.com/systmms/keyrotate/internal/errors"
	"github.com/systmms/keyrotate/pkg/credential"
	"github.com/systmms/keyrotate/pkg/rotation"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSet(w io.Writer, set credential.Set, now time.Time) {
	if set.Len() == 0 {
		fmt.Fprintln(w, "No access keys found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ACCESS KEY ID\tSTATUS\tCREATED\tAGE")
	fmt.Fprintln(tw, "-------------\t------\t-------\t---")
	for _, c := range set.Sorted() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dd\n",
			c.ID,
			formatStatus(c.Status),
			c.CreatedAt.Format("2006-01-02 15:04:05"),
			c.AgeDays(now),
		)
	}
}

func formatStatus(s credential.Status) string {
	switch s {
	case credential.StatusActive:
		return "✓ Active"
	case credential.StatusInactive:
		return "○ Inactive"
	default:
		return s.String()
	}
}

// printOutcome writes a human readable summary. The new secret is only shown
// when it may otherwise be lost.
func printOutcome(w io.Writer, identity credential.Identity, out rotation.Outcome) {
	switch out.Kind {
	case rotation.Unchanged:
		fmt.Fprintf(w, "✓ %s: no rotation needed\n", identity)
	case rotation.Rotated:
		fmt.Fprintf(w, "✓ %s: rotated to %s\n", identity, out.CredentialID)
		if out.DeletedID != "" {
			fmt.Fprintf(w, "  Deleted: %s\n", out.DeletedID)
		}
	case rotation.Repaired:
		fmt.Fprintf(w, "✓ %s: deactivated %s\n", identity, out.DeactivatedID)
	case rotation.Failed:
		fmt.Fprintf(w, "✗ %s: %s\n", identity, out.Reason)
		if out.DeactivatedID != "" {
			fmt.Fprintf(w, "  Deactivated: %s\n", out.DeactivatedID)
		}
	}

	if out.PersistError != nil {
		fmt.Fprintf(w, "⚠ The new credential was not saved: %v\n", out.PersistError)
	}
	if out.NewCredential != nil && (out.Kind == rotation.Failed || out.PersistError != nil) {
		fmt.Fprintln(w, "\n  Save this credential now, it cannot be retrieved again:")
		fmt.Fprintf(w, "  aws_access_key_id     = %s\n", out.NewCredential.ID)
		fmt.Fprintf(w, "  aws_secret_access_key = %s\n", out.NewCredential.Secret.Reveal())
	}
}

// outcomeError turns a Failed outcome into the command's error
func outcomeError(out rotation.Outcome) error {
	if out.OK() {
		return nil
	}
	reason := out.Reason
	if out.Retryable() {
		reason += " (retryable)"
	}
	return dserrors.RotationError(reason, out.Err)
}
