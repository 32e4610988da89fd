package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/keyrotate/pkg/rotation"
)

// NewEvaluateCommand creates the evaluate command
func NewEvaluateCommand(app *App) *cobra.Command {
	var (
		force      bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Rotate the access key when it is due",
		Long: `Evaluate lists the access keys of the IAM user behind the current
credentials and reconciles them with the rotation policy:

- one key younger than the maximum age: nothing happens
- one key at or past the maximum age: a new key is created, the old key is
  deactivated, the new key is saved to the configured sinks and the old key
  is deleted
- two active keys: the older key is deactivated and the command fails so it
  can be run again
- one active and one inactive key: the inactive key is deleted and the
  command fails so it can be run again`,
		Example: `  # Rotate when the key is older than the configured maximum age
  keyrotate evaluate

  # Rotate now regardless of age
  keyrotate evaluate --force

  # Print the outcome as JSON, including the new secret
  keyrotate evaluate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = r.close() }()

			var out rotation.Outcome
			if force {
				out = r.engine.Rotate(cmd.Context(), r.identity)
			} else {
				out = r.engine.Evaluate(cmd.Context(), r.identity)
			}

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				printOutcome(cmd.OutOrStdout(), r.identity, out)
			}
			return outcomeError(out)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rotate even when the key is not due")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the outcome as JSON")

	return cmd
}
