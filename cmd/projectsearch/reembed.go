package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reembedAll bool

func init() {
	reembedCmd.Flags().BoolVar(&reembedAll, "all", false, "recompute every embedding, not only missing ones")
	rootCmd.AddCommand(reembedCmd)
}

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Compute embeddings for projects stored without one",
	Long: `Compute embeddings for projects that were stored while the provider was
unavailable, or whose vectors do not match the configured dimension.

Examples:
  # Fill in missing embeddings
  projectsearch reembed

  # Recompute everything after changing embedding.model
  projectsearch reembed --all`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		stats, err := a.Reembed(cmd.Context(), reembedAll)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "candidates: %d\nupdated:    %d\nskipped:    %d\nfailed:     %d\nduration:   %s\n",
			stats.Candidates, stats.Updated, stats.Skipped, stats.Failed, stats.Duration)
		for _, msg := range stats.ErrorMessages {
			fmt.Fprintf(out, "  %s\n", msg)
		}
		if stats.Failed > 0 {
			return fmt.Errorf("%d projects could not be embedded", stats.Failed)
		}
		return nil
	},
}
