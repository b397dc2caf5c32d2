package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo-go/internal/conflict"
)

// NewClassifyCmd constructs the `mnemo classify` command, which checks a new
// note against existing notes for duplicates and contradictions.
func NewClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [new-note] [existing-note]...",
		Short: "Detect duplicates of and contradictions to a new note",
		Long: `Embed the new note and every existing note, then report which existing
notes the new one duplicates or contradicts.

A pair is a duplicate when its similarity reaches the duplicate threshold.
Below that, highly similar notes with opposing polarity ("improves" vs
"disrupts", negation) are flagged as contradictions.

Examples:
  mnemo classify "Standups waste time" "Daily standups improve alignment"
  mnemo classify "Use TypeScript" "Use TypeScript for the project" "Lunch at noon"`,
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

			records := make([]conflict.Record, 0, len(args)-1)
			for i, text := range args[1:] {
				records = append(records, conflict.Record{
					ID:     fmt.Sprintf("note-%d", i+1),
					Text:   text,
					Vector: vectors[i+1],
				})
			}

			verdicts, err := a.detector.Classify(args[0], vectors[0], records)
			if err != nil {
				return err
			}

			flagged := 0
			for _, v := range verdicts {
				a.metrics.CountVerdict(string(v.Kind))
				if v.Kind == conflict.KindUnrelated {
					continue
				}
				flagged++
				fmt.Printf("%s: %s (similarity %.3f, confidence %.3f)\n",
					v.Kind, textForID(records, v.ID), v.Score, v.Confidence)
			}
			if flagged == 0 {
				fmt.Println("no duplicates or contradictions found")
			}
			return nil
		},
	}
	return cmd
}

func textForID(records []conflict.Record, id string) string {
	for _, r := range records {
		if r.ID == id {
			return fmt.Sprintf("%q", r.Text)
		}
	}
	return id
}
