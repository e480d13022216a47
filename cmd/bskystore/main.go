// Command bskystore wires the sync, derive, and catalog packages into a CLI.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/bsky-store/internal/cli"
)

func main() {
	root, opts := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		if opts.Format == "json" {
			formatter := &cli.OutputFormatter{Format: "json", Writer: os.Stderr}
			formatter.Fail(err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
