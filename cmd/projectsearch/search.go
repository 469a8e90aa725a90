package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/projectsearch/internal/searcher"
	"github.com/dshills/projectsearch/pkg/types"
)

var (
	searchMode  string
	searchLimit int
	searchJSON  bool
)

func init() {
	searchCmd.Flags().StringVar(&searchMode, "mode", string(types.SearchModeSemantic), "search mode: semantic or keyword")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum number of results (0 uses search.default_limit)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search projects",
	Long: `Search projects by meaning or by substring.

Examples:
  # Semantic search
  projectsearch search "web development"

  # Keyword search, top 5
  projectsearch search --mode keyword --limit 5 java`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	resp, err := a.Search(cmd.Context(), searcher.SearchRequest{
		Query: strings.Join(args, " "),
		Mode:  types.SearchMode(searchMode),
		Limit: searchLimit,
	})
	if err != nil {
		return err
	}

	if searchJSON {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	return printResults(cmd.OutOrStdout(), resp)
}

func printResults(w io.Writer, resp *types.SearchResponse) error {
	if resp.Mode == types.SearchModeKeywordFallback {
		fmt.Fprintf(w, "semantic search unavailable (%s), showing keyword matches\n", resp.FallbackReason)
	}
	if resp.TotalResults == 0 {
		fmt.Fprintln(w, "no matching projects")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tID\tSCORE\tTITLE\tBUDGET\tTAGS")
	for _, r := range resp.Results {
		score := "-"
		if resp.Mode == types.SearchModeSemantic {
			score = fmt.Sprintf("%.3f", r.Score)
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%.2f\t%s\n",
			r.Rank, r.Project.ID, score, r.Project.Title, r.Project.Budget, strings.Join(r.Project.Tags, ","))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
