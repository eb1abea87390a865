package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect extraction jobs",
	Long: `List recent extraction jobs or inspect a specific job by ID.

Examples:
  labtree jobs           # List recent jobs
  labtree jobs abc123    # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

var jobsLimit int

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum number of jobs to list")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := dbClient.ListJobs(ctx, jobsLimit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-24s %-12s %-14s %-10s %s\n", "ID", "STATUS", "STAGE", "PROGRESS", "CREATED")
	fmt.Println("--------------------------------------------------------------------------------")

	for _, job := range jobs {
		progress := ""
		if job.TotalDocuments > 0 {
			progress = fmt.Sprintf("%d/%d", job.ProcessedDocuments, job.TotalDocuments)
		}
		created := job.Created.Format("15:04:05")
		fmt.Printf("%-24s %-12s %-14s %-10s %s\n", job.ID, job.Status, job.Stage, progress, created)
	}

	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := dbClient.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Status: %s\n", job.Status)
	if job.Stage != "" {
		fmt.Printf("  Stage: %s\n", job.Stage)
	}
	if job.TotalDocuments > 0 {
		fmt.Printf("  Progress: %d/%d documents\n", job.ProcessedDocuments, job.TotalDocuments)
	}
	if job.FailedDocuments > 0 {
		fmt.Printf("  Failed: %d documents\n", job.FailedDocuments)
	}
	if job.CancelRequested {
		fmt.Println("  Cancel requested: yes")
	}
	fmt.Printf("  Created: %s\n", job.Created.Format(time.RFC3339))
	if !job.Updated.IsZero() {
		fmt.Printf("  Updated: %s\n", job.Updated.Format(time.RFC3339))
		duration := job.Updated.Sub(job.Created)
		fmt.Printf("  Duration: %s\n", duration.Round(time.Second))
	}

	if job.Error != "" {
		fmt.Printf("  Error: %s\n", job.Error)
	}

	return nil
}
