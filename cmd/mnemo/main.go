// Command mnemo is the entry point for the mnemo on-device AI capability
// layer. It exposes the embedding, similarity, and conflict-detection
// surfaces as a CLI (via Cobra) plus an optional local diagnostics listener.
package main

import (
	"fmt"
	"os"

	"github.com/mnemo-ai/mnemo-go/cmd/mnemo/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
