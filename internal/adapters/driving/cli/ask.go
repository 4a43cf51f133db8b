package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/refrab/refrab/internal/core/domain"
)

var (
	askTag    string
	askAuthor string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question over the indexed library",
	Long: `Ask retrieves the most relevant chunks, assembles them into a
context within the model's budget and generates a grounded answer with
citations. Without relevant indexed material the command reports that
no relevant context was found instead of answering.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askTag, "tag", "", "only documents carrying this tag")
	askCmd.Flags().StringVar(&askAuthor, "author", "", "only documents by this author")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.Join(args, " ")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.ask.Ask(ctx, question, domain.SearchOptions{
		Tag:    askTag,
		Author: askAuthor,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoRelevantContext) {
			fmt.Fprintln(cmd.OutOrStdout(), "No relevant context found in the library.")
			return nil
		}
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), answer.Text)

	if len(answer.Citations) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nSources:")
		for i, c := range answer.Citations {
			fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s (chunk %d)\n", i+1, c.Title, c.Position)
		}
	}
	return nil
}
