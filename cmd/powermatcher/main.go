package main

import (
	"os"

	"github.com/anaelectric/powermatcher/cmd/powermatcher/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Errors are printed by the printer package; only the exit code is left.
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
