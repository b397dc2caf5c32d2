package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo-go/internal/embedding"
)

// NewEmbedCmd constructs the `mnemo embed` command, which converts one or
// more texts into vectors. The first run may download the embedding model;
// progress is mirrored to stderr.
func NewEmbedCmd() *cobra.Command {
	var (
		noCache bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "embed [text]...",
		Short: "Generate embedding vectors for one or more texts",
		Long: `Generate an L2-normalized embedding vector for each argument.

Repeat lookups for the same (normalized) text are served from the on-device
cache and never touch the model.

Examples:
  mnemo embed "standups feel productive"
  mnemo embed --json "note one" "note two"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(cmd.Name())
			if err != nil {
				return err
			}
			defer cleanup()
			defer watchProgress(a.tracker)()

			ctx := cmd.Context()

			var vectors [][]float32
			if len(args) == 1 {
				vec, err := a.embedder.Embed(ctx, args[0], embedding.Options{SkipCache: noCache})
				if err != nil {
					return err
				}
				vectors = [][]float32{vec}
			} else {
				vectors, err = a.embedder.EmbedBatch(ctx, args)
				if err != nil {
					return err
				}
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(vectors)
			}
			info := a.embedder.Info()
			for i, vec := range vectors {
				fmt.Printf("%q -> %d dims (model %s), head: %v\n",
					args[i], len(vec), info.ModelName, head(vec, 4))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the embedding cache lookup")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw vectors as JSON")

	return cmd
}

// head returns the first n components for compact display.
func head(vec []float32, n int) []float32 {
	if len(vec) < n {
		n = len(vec)
	}
	return vec[:n]
}
