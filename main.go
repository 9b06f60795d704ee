// Command trendwatch records TMDB popularity snapshots and reports trends.
package main

import (
	"os"

	"github.com/icco/trendwatch/cmd"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	cmd.SetBuildInfo(version, commit, buildTime)
	if err := cmd.Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
