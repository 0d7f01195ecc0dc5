// Package main provides the entry point for the linguabridge CLI.
package main

import (
	"fmt"
	"os"

	"github.com/linguabridge/linguabridge/cmd/linguabridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
