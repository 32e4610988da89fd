package commands

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/systmms/keyrotate/internal/rotation/storage"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand(app *App) *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show rotation history",
		Long: `History shows the recorded engine cycles for the IAM user behind the
current credentials, newest first.`,
		Example: `  # Show the last 20 cycles
  keyrotate history

  # Show every cycle as YAML
  keyrotate history --limit 0 --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = r.close() }()

			entries, err := r.history.GetHistory(r.identity.Key(), limit)
			if err != nil {
				return fmt.Errorf("failed to get history: %w", err)
			}

			w := cmd.OutOrStdout()
			switch format {
			case "json":
				return writeJSON(w, entries)
			case "yaml":
				enc := yaml.NewEncoder(w)
				defer func() { _ = enc.Close() }()
				return enc.Encode(entries)
			case "table":
				printHistory(w, entries)
				return nil
			default:
				return fmt.Errorf("unknown format %q (use table, json or yaml)", format)
			}
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries to show (0 for all)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")

	return cmd
}

func printHistory(w io.Writer, entries []storage.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No rotation history found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tACTION\tOUTCOME\tNEW KEY\tOLD KEY\tDURATION\tREASON")
	fmt.Fprintln(tw, "---------\t------\t-------\t-------\t-------\t--------\t------")
	for _, e := range entries {
		reason := orDash(e.Reason)
		if len(reason) > 50 {
			reason = reason[:47] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Action,
			formatResult(e.Outcome),
			orDash(e.NewCredentialID),
			orDash(e.OldCredentialID),
			formatDuration(e.Duration),
			reason,
		)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nShowing %d entries\n", len(entries))
}

func formatResult(outcome string) string {
	switch outcome {
	case "rotated", "repaired":
		return "✓ " + outcome
	case "failed":
		return "✗ " + outcome
	default:
		return outcome
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
