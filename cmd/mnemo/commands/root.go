// Package commands defines all Cobra CLI commands for the mnemo binary.
package commands

import (
	"github.com/spf13/cobra"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mnemo",
		Short: "mnemo — on-device AI capability layer for personal notes",
		Long: `mnemo runs chat and embedding models entirely on this device and layers
semantic search, duplicate detection, and contradiction detection on top.

Models are served by a local runtime (Ollama by default) and downloaded on
first use. Embeddings are cached in-process and on disk so repeat lookups
never touch the model.

Configuration comes from ~/.mnemo/config.yaml plus environment variable
overrides. See 'mnemo --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.mnemo/config.yaml)")

	root.AddCommand(
		NewProvidersCmd(),
		NewEmbedCmd(),
		NewSimilarCmd(),
		NewClassifyCmd(),
		NewCacheCmd(),
		NewChatCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
