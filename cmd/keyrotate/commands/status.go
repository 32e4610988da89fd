package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/keyrotate/internal/errors"
	"github.com/systmms/keyrotate/pkg/credential"
	"github.com/systmms/keyrotate/pkg/rotation"
)

// NewStatusCommand creates the status command
func NewStatusCommand(app *App) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the access keys and whether rotation is due",
		Long: `Status lists the access keys of the IAM user behind the current
credentials and shows what evaluate would do. Nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = r.close() }()

			set, err := r.engine.Snapshot(cmd.Context(), r.identity)
			if err != nil {
				return dserrors.RotationError("listing access keys failed", err)
			}
			now := app.now()
			decision := rotation.Decide(set, now, r.engine.MaxAgeDays())

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), statusJSON{
					Identity:   r.identity,
					MaxAgeDays: r.engine.MaxAgeDays(),
					Decision:   decision.Kind.String(),
					TargetID:   decision.TargetID,
					Reason:     decision.Reason,
					Keys:       set,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Identity: %s\n", r.identity)
			fmt.Fprintf(w, "Maximum age: %d days\n\n", r.engine.MaxAgeDays())
			printSet(w, set, now)
			fmt.Fprintf(w, "\nNext action: %s\n", describeDecision(decision))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the status as JSON")

	return cmd
}

type statusJSON struct {
	Identity   credential.Identity `json:"identity"`
	MaxAgeDays int                 `json:"max_age_days"`
	Decision   string              `json:"decision"`
	TargetID   string              `json:"target_id,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Keys       credential.Set      `json:"keys"`
}

func describeDecision(d rotation.Decision) string {
	switch d.Kind {
	case rotation.NoAction:
		return fmt.Sprintf("none, the key is %d days old", d.AgeDays)
	case rotation.Rotate:
		return fmt.Sprintf("rotate, the key is %d days old", d.AgeDays)
	case rotation.RepairAmbiguous:
		return fmt.Sprintf("deactivate %s, two keys are active", d.TargetID)
	case rotation.Cleanup:
		return fmt.Sprintf("delete inactive key %s", d.TargetID)
	case rotation.Fatal:
		return "manual action required: " + d.Reason
	default:
		return d.Kind.String()
	}
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
