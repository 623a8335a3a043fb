package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/buildtrace/internal/cli"
)

// Set by -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
