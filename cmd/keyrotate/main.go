package main

import (
	"fmt"
	"os"

	"github.com/systmms/keyrotate/cmd/keyrotate/commands"
	"github.com/systmms/keyrotate/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &commands.App{Config: &config.Config{}}
	root := commands.NewRootCommand(app, fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date))
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
