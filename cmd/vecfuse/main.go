// Package main provides the entry point for the vecfuse CLI.
package main

import (
	"os"

	"github.com/kailas-cloud/vecfuse/cmd/vecfuse/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
