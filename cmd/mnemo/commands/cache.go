package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCacheCmd constructs the `mnemo cache` command group for inspecting and
// maintaining the embedding cache.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the embedding cache",
	}
	cmd.AddCommand(newCacheStatsCmd(), newCacheSweepCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache entry count and hit/miss counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := buildApp(cmd.Name())
			if err != nil {
				return err
			}
			defer cleanup()

			stats := a.cache.Stats(cmd.Context())
			fmt.Printf("entries: %d\nhits:    %d\nmisses:  %d\n", stats.Size, stats.Hits, stats.Misses)
			return nil
		},
	}
}

func newCacheSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired entries from the durable cache tier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := buildApp(cmd.Name())
			if err != nil {
				return err
			}
			defer cleanup()

			removed, err := a.cache.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d expired entries\n", removed)
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached embedding from both tiers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := buildApp(cmd.Name())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.cache.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("cache cleared")
			return nil
		},
	}
}
