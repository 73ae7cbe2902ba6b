// Package main is the entry point for the nanoclaw CLI. It wires
// cobra for command dispatch.
package main

import (
	"fmt"
	"os"

	"github.com/nanoclaw/nanoclaw/cmd/nanoclaw/commands"
)

var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
