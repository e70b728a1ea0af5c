// Package main provides the entry point for the loomd server.
package main

import (
	"fmt"
	"os"

	"github.com/loomchat/loom/cmd/loomd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
