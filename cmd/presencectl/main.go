// Package main is the entry point for the presencectl CLI.
package main

import (
	"os"

	"example.com/presence/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
