package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/noah-isme/estate-erp-api/internal/models"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and recover export jobs",
	}

	var (
		user   string
		entity string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's export jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := connect()
			if err != nil {
				return err
			}
			defer comps.Close()
			jobs, err := comps.JobRepo.ListByOwner(cmd.Context(), user, entity, limit)
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}
	list.Flags().StringVar(&user, "user", "", "owner user id")
	list.Flags().StringVar(&entity, "entity", "", "only jobs for this entity")
	list.Flags().IntVar(&limit, "limit", 20, "maximum jobs to show")
	_ = list.MarkFlagRequired("user")

	failInterrupted := &cobra.Command{
		Use:   "fail-interrupted",
		Short: "Mark jobs stuck in running as failed",
		Long:  `Only run this when no worker is processing jobs; every running job is failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := connect()
			if err != nil {
				return err
			}
			defer comps.Close()
			n, err := comps.Worker.FailInterrupted(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d job(s)\n", colorWarn("failed"), n)
			return nil
		},
	}

	cmd.AddCommand(list, failInterrupted)
	return cmd
}

func printJobs(out io.Writer, jobs []models.ExportJob) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, colorWarn("no export jobs"))
		return
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Entity", "Format", "Scope", "Status", "Rows", "Created", "Error"})
	table.SetAutoWrapText(false)
	for _, job := range jobs {
		rows := "-"
		if job.RowCount != nil {
			rows = strconv.Itoa(*job.RowCount)
		}
		errText := ""
		if job.ErrorMessage != nil {
			errText = *job.ErrorMessage
		}
		table.Append([]string{
			job.ID,
			job.Entity,
			string(job.Format),
			string(job.Scope),
			statusColor(job.Status),
			rows,
			job.CreatedAt.Format("2006-01-02 15:04:05"),
			errText,
		})
	}
	table.Render()
}
