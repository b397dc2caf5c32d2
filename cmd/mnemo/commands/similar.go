package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo-go/internal/similarity"
)

// NewSimilarCmd constructs the `mnemo similar` command, which ranks
// candidate texts by semantic similarity to a query.
func NewSimilarCmd() *cobra.Command {
	var (
		topK     int
		minScore float32
	)

	cmd := &cobra.Command{
		Use:   "similar [query] [candidate]...",
		Short: "Rank candidate texts by semantic similarity to a query",
		Long: `Embed the query and every candidate, then print candidates ranked by
cosine similarity, best first.

Examples:
  mnemo similar "remote work policy" "wfh guidelines" "office snacks" "hybrid schedule"
  mnemo similar --top 3 --min-score 0.5 "budget review" notes...`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(cmd.Name())
			if err != nil {
				return err
			}
			defer cleanup()
			defer watchProgress(a.tracker)()

			ctx := cmd.Context()
			vectors, err := a.embedder.EmbedBatch(ctx, args)
			if err != nil {
				return err
			}

			query := vectors[0]
			candidates := make([]similarity.Candidate, 0, len(args)-1)
			for i, text := range args[1:] {
				candidates = append(candidates, similarity.Candidate{
					ID:     text,
					Vector: vectors[i+1],
				})
			}

			matches, err := similarity.NewEngine().FindSimilar(query, candidates, similarity.Options{
				TopK:     topK,
				MinScore: minScore,
			})
			if err != nil {
				return err
			}

			if len(matches) == 0 {
				fmt.Println("no candidates above the score threshold")
				return nil
			}
			for rank, m := range matches {
				fmt.Printf("%d. %.4f  %s\n", rank+1, m.Score, m.ID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top", 0, "Keep only the best N matches (0 = all)")
	cmd.Flags().Float32Var(&minScore, "min-score", 0, "Drop matches scoring below this similarity")

	return cmd
}
