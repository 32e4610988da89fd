package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/keyrotate/internal/config"
	"github.com/systmms/keyrotate/internal/logging"
)

// NewRootCommand creates the keyrotate command tree around app. version is
// shown by --version.
func NewRootCommand(app *App, version string) *cobra.Command {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:   "keyrotate",
		Short: "Rotate IAM user access keys",
		Long: `keyrotate keeps the access keys of an IAM user young. It creates a new
key when the current one reaches the maximum age, saves it to the configured
sinks and retires the old key, without ever leaving the user with no working
key.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Config.Logger == nil || cmd.Flags().Changed("debug") || cmd.Flags().Changed("no-color") {
				app.Config.Logger = logging.New(debug, noColor)
			}

			loaded, err := config.LoadDotEnv()
			if err != nil {
				return err
			}
			if loaded != "" {
				app.Config.Logger.Debug("Loaded environment from %s", loaded)
			}

			// keyrotate.yaml is optional unless --config names it
			app.Config.Path = configFile
			if configFile == "" {
				if _, err := os.Stat(config.DefaultConfigFileName); err == nil {
					app.Config.Path = config.DefaultConfigFileName
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("Config file path (default %s when present)", config.DefaultConfigFileName))
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		NewEvaluateCommand(app),
		NewStatusCommand(app),
		NewCleanupCommand(app),
		NewMarkInactiveCommand(app),
		NewDeleteCommand(app),
		NewHistoryCommand(app),
		NewServeCommand(app),
	)

	return rootCmd
}
