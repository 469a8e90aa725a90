package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/dshills/projectsearch/internal/storage"
)

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		status, err := a.Store.Status(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			return writeJSON(out, status)
		}
		printStatus(out, status, a.Embedder.Provider(), a.Embedder.Model(), a.Embedder.Dimension())
		return nil
	},
}

func printStatus(out io.Writer, status *storage.Status, provider, model string, dim int) {
	fmt.Fprintf(out, "Backend:        %s\n", status.Backend)
	if status.SchemaVersion != "" {
		fmt.Fprintf(out, "Schema version: %s\n", status.SchemaVersion)
	}
	fmt.Fprintf(out, "Projects:       %d\n", status.Projects)
	fmt.Fprintf(out, "Embeddings:     %d\n", status.Embeddings)
	fmt.Fprintf(out, "Degraded:       %d\n", status.DegradedCount)
	fmt.Fprintf(out, "Tags:           %d\n", status.Tags)
	fmt.Fprintf(out, "Size:           %.2f MB\n", float64(status.SizeBytes)/(1024*1024))
	fmt.Fprintf(out, "Provider:       %s (%s, %d dims)\n", provider, model, dim)

	dims := make([]int, 0, len(status.DimensionCounts))
	for d := range status.DimensionCounts {
		dims = append(dims, d)
	}
	slices.Sort(dims)
	for _, d := range dims {
		marker := ""
		if d != dim {
			marker = "  (stale, run reembed)"
		}
		fmt.Fprintf(out, "  %4d dims:    %d%s\n", d, status.DimensionCounts[d], marker)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "projectsearch\n")
		fmt.Fprintf(out, "Version: %s\n", version)
		fmt.Fprintf(out, "Build Time: %s\n", buildTime)
		fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
		fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
	},
}
