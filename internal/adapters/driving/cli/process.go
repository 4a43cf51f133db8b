package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/refrab/refrab/internal/core/domain"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the ingestion pipeline over queued documents",
	Long: `Process converts every document tagged /to_process (and retries any
left in /processing by an interrupted run), chunks and embeds the text,
and updates the search indexes. Each document reports its outcome; the
command fails unless every document reached processed.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireLibrary(); err != nil {
		return err
	}

	summary, err := a.pipeline.ProcessPending(ctx)
	if err != nil {
		return err
	}

	if len(summary.Outcomes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty, nothing to process.")
		return nil
	}

	processed := 0
	for _, out := range summary.Outcomes {
		title := out.Title
		if title == "" {
			title = out.DocumentID
		}
		switch out.State {
		case domain.StateProcessed:
			processed++
			fmt.Fprintf(cmd.OutOrStdout(), "  ok    %-40.40s  %d chunks (%s)\n", title, out.Chunks, out.Engine)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "  fail  %-40.40s  %s: %v\n", title, out.State, out.Err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Processed %d of %d documents.\n", processed, len(summary.Outcomes))

	if failed := summary.Failed(); failed > 0 {
		return fmt.Errorf("%d document(s) did not complete", failed)
	}
	return nil
}
