package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sydlexius/massaction/internal/batch"
)

func newJobsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs [job-id]",
		Short: "List or inspect server-side batch jobs",
		Long: `List recent server-side batch jobs or inspect a specific job by ID.

Examples:
  massactionctl jobs             # List recent jobs
  massactionctl jobs abc123      # Show details for job abc123
  massactionctl jobs cancel abc123`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return a.showJob(cmd, args[0])
			}
			return a.listJobs(cmd, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to list")

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.CancelJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Cancellation requested for job %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func (a *app) listJobs(cmd *cobra.Command, limit int) error {
	jobs, err := a.client.ListJobs(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(a.out, "No jobs found")
		return nil
	}

	fmt.Fprintf(a.out, "%-36s %-12s %-28s %-12s %s\n", "ID", "STATUS", "ACTION", "PROGRESS", "CREATED")
	fmt.Fprintln(a.out, "------------------------------------------------------------------------------------------------------")
	for _, j := range jobs {
		progress := fmt.Sprintf("%d/%d", j.Processed, j.TotalItems)
		fmt.Fprintf(a.out, "%-36s %-12s %-28s %-12s %s\n",
			j.ID, j.Status, j.ItemType+" "+j.ActionKey, progress, j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func (a *app) showJob(cmd *cobra.Command, id string) error {
	job, err := a.client.GetJob(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Job: %s\n", job.ID)
	fmt.Fprintf(a.out, "  Status: %s\n", job.Status)
	fmt.Fprintf(a.out, "  Action: %s on %s\n", job.ActionKey, job.ItemType)
	if job.CreatedBy != "" {
		fmt.Fprintf(a.out, "  Created by: %s\n", job.CreatedBy)
	}
	fmt.Fprintf(a.out, "  Batch size: %d, concurrency %d\n", job.BatchSize, job.Concurrency)
	if job.StartedAt != nil {
		fmt.Fprintf(a.out, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Fprintf(a.out, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(a.out)
	fmt.Fprint(a.out, summary(snapshotFromRecord(&job.JobRecord)))

	if failed := failedChunks(job.Chunks); len(failed) > 0 {
		fmt.Fprintf(a.out, "\nFailed batches (%d):\n", len(failed))
		for _, c := range failed {
			fmt.Fprintf(a.out, "  #%d (%d items, %d attempts): %s\n", c.Index, c.ItemCount, c.Attempts, c.Error)
		}
	}
	return nil
}

func failedChunks(chunks []batch.ChunkRecord) []batch.ChunkRecord {
	var out []batch.ChunkRecord
	for _, c := range chunks {
		if c.Outcome == string(batch.ChunkFailed) {
			out = append(out, c)
		}
	}
	return out
}
