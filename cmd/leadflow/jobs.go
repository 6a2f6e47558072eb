package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadflow/internal/browse"
	"github.com/amishk599/leadflow/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage enrichment jobs",
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's status and outcome",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an organization's recent jobs",
	RunE:  runJobsList,
}

var jobsAbandonCmd = &cobra.Command{
	Use:   "abandon <job-id>",
	Short: "Stop processing an in-flight job",
	Long:  "Marks the job failed. The provider request is not retracted; late deliveries are discarded.",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsAbandon,
}

var jobsBrowseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse jobs interactively (TUI)",
	Long:  "Shows the organization picker, then a live-refreshing job list with per-profile detail.",
	RunE:  runJobsBrowse,
}

var jobsOrg int64

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsStatusCmd, jobsListCmd, jobsAbandonCmd, jobsBrowseCmd)
	jobsCmd.PersistentFlags().Int64Var(&jobsOrg, "org", 0, "organization id (browse prompts when unset)")
}

func requireOrg() {
	if jobsOrg <= 0 {
		fmt.Fprintln(os.Stderr, "--org is required")
		os.Exit(1)
	}
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	requireOrg()
	a := mustOpenApp(false)
	defer a.Close()
	ctx := context.Background()

	job, err := a.store.GetJob(ctx, jobsOrg, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "job %s: %v\n", args[0], err)
		os.Exit(1)
	}
	printJob(job)

	if job.Status.IsTerminal() {
		event, err := a.hook.Event(ctx, *job)
		if err != nil {
			return err
		}
		fmt.Printf("%-14s %d of %d\n", "Enriched", event.Enriched, len(job.ProfileIDs))
		if job.QualificationID != nil {
			fmt.Printf("%-14s %d (%d passed)\n", "Scored", event.Scored, event.Passed)
		}
		for id, msg := range job.ScoringErrors {
			fmt.Printf("  profile %d: %s\n", id, msg)
		}
	}
	return nil
}

func printJob(job *model.EnrichmentJob) {
	fmt.Printf("%-14s %s\n", "Job", job.ID)
	fmt.Printf("%-14s %s\n", "Status", job.Status)
	fmt.Printf("%-14s %s\n", "Provider", job.Provider)
	if job.SnapshotID != nil {
		fmt.Printf("%-14s %s\n", "Snapshot", *job.SnapshotID)
	}
	if job.QualificationID != nil {
		fmt.Printf("%-14s %d\n", "Qualification", *job.QualificationID)
	}
	fmt.Printf("%-14s %d\n", "Profiles", len(job.ProfileIDs))
	fmt.Printf("%-14s %s\n", "Created", job.CreatedAt.Local().Format(time.DateTime))
	if job.CompletedAt != nil {
		fmt.Printf("%-14s %s\n", "Finished", job.CompletedAt.Local().Format(time.DateTime))
	}
	if job.Error != "" {
		fmt.Printf("%-14s %s\n", "Error", job.Error)
	}
}

func runJobsList(cmd *cobra.Command, args []string) error {
	requireOrg()
	a := mustOpenApp(false)
	defer a.Close()

	jobs, err := a.store.ListJobs(context.Background(), jobsOrg, 50)
	if err != nil {
		return err
	}

	fmt.Printf("%-36s  %-11s %-12s %8s  %s\n", "Job", "Status", "Provider", "Profiles", "Created")
	fmt.Println(strings.Repeat("─", 90))
	for _, j := range jobs {
		fmt.Printf("%-36s  %-11s %-12s %8d  %s\n", j.ID, j.Status, j.Provider, len(j.ProfileIDs),
			j.CreatedAt.Local().Format(time.DateTime))
	}
	fmt.Printf("\nTotal: %d jobs\n", len(jobs))
	return nil
}

func runJobsAbandon(cmd *cobra.Command, args []string) error {
	requireOrg()
	a := mustOpenApp(false)
	defer a.Close()

	job, err := a.dispatcher.Abandon(context.Background(), jobsOrg, args[0])
	if errors.Is(err, model.ErrStaleState) {
		fmt.Fprintf(os.Stderr, "job %s already %s\n", args[0], job.Status)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "job %s: %v\n", args[0], err)
		os.Exit(1)
	}
	printJob(job)
	return nil
}

func runJobsBrowse(cmd *cobra.Command, args []string) error {
	// TUI mode: any log output corrupts the alt screen.
	a := mustOpenApp(true)
	defer a.Close()

	orgID := jobsOrg
	if orgID <= 0 {
		entries, err := browse.LoadOrgEntries(context.Background(), a.store, a.cfg.Organizations)
		if err != nil {
			return fmt.Errorf("loading organizations: %w", err)
		}
		id, ok, err := browse.PickOrganization(entries)
		if err != nil {
			return fmt.Errorf("picker: %w", err)
		}
		if !ok {
			return nil
		}
		orgID = id
	}
	return browse.Run(a.store, orgID)
}
