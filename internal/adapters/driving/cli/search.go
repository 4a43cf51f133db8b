package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/refrab/refrab/internal/core/domain"
)

var (
	searchLimit  int
	searchTag    string
	searchAuthor string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed library",
	Long: `Search ranks chunks with hybrid retrieval: BM25 over the lexical
index fused with cosine similarity over embeddings. Metadata filters
narrow the candidate documents before ranking.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum results (default 10)")
	searchCmd.Flags().StringVar(&searchTag, "tag", "", "only documents carrying this tag")
	searchCmd.Flags().StringVar(&searchAuthor, "author", "", "only documents by this author")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := strings.Join(args, " ")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.search.Search(ctx, query, domain.SearchOptions{
		Limit:  searchLimit,
		Tag:    searchTag,
		Author: searchAuthor,
	})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results.")
		return nil
	}

	for i, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s", i+1, r.Document.Title)
		if len(r.Document.Authors) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), " - %s", strings.Join(r.Document.Authors, ", "))
		}
		if r.Document.Year > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), " (%d)", r.Document.Year)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  [score %.3f]\n", r.Score)
		fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", r.Preview)
	}
	return nil
}
