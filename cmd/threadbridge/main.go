// Package main provides the entry point for the threadbridge CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/threadbridge/cmd/threadbridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
