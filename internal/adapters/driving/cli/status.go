package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the processing queue state",
	Long: `Status reports how many documents sit in each workflow state and
lists the ones stuck in /processing from an interrupted run. Stuck
documents are retried automatically on the next process run.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireLibrary(); err != nil {
		return err
	}

	counts, err := a.pipeline.QueueStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pending:    %d\n", counts.Pending)
	fmt.Fprintf(cmd.OutOrStdout(), "Processing: %d\n", counts.Processing)
	fmt.Fprintf(cmd.OutOrStdout(), "Processed:  %d\n", counts.Processed)
	fmt.Fprintf(cmd.OutOrStdout(), "Error:      %d\n", counts.Error)

	if len(counts.Stuck) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nStuck in processing (retried on next run):")
		for _, doc := range counts.Stuck {
			title := doc.Title
			if title == "" {
				title = doc.ID
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", title)
		}
	}
	return nil
}
