package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a running extraction job",
	Long: `Request cancellation of a running extraction job.

The pipeline checks for cancellation between stages and between
documents, so the job stops at the next safe point rather than
immediately. No proposals are written for a cancelled run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		id := args[0]

		job, err := dbClient.GetJob(ctx, id)
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		switch job.Status {
		case "complete", "error", "cancelled":
			return fmt.Errorf("job %s already finished with status %s", id, job.Status)
		}

		if err := dbClient.RequestJobCancel(ctx, id); err != nil {
			return fmt.Errorf("request cancel: %w", err)
		}

		fmt.Printf("Cancellation requested for job %s.\n", id)
		fmt.Println("The job will stop at the next stage boundary.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
