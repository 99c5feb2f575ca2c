package main

import (
	"os"

	"github.com/hugo-lorenzo-mato/actguard/cmd/actguard/cmd"
)

// Version information - set by goreleaser at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)

	err := cmd.Execute()
	if err != nil {
		cmd.PrintError(os.Stderr, err)
	}
	os.Exit(cmd.ExitCode(err))
}
