package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"clipfit/internal/api"
	"clipfit/internal/jobstore"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var limit int
	var asJSON bool

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List job history",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFlags(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *jobstore.Store) error {
				records, err := store.List(cmd.Context(), limit, statuses...)
				if err != nil {
					return fmt.Errorf("list jobs: %w", err)
				}
				if asJSON {
					return writeJSON(cmd, api.JobListResponse{Jobs: api.FromRecords(records)})
				}
				renderJobs(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}
	jobsCmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (running, completed, failed)")
	jobsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show")
	addJSONFlag(jobsCmd, &asJSON)

	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))
	return jobsCmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *jobstore.Store) error {
				rec, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
				if errors.Is(err, jobstore.ErrNotFound) {
					return fmt.Errorf("job %s not found", args[0])
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.JobResponse{Job: api.FromRecord(rec)})
				}
				renderJobDetail(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove completed and failed jobs from history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *jobstore.Store) error {
				removed, err := store.ClearFinished(cmd.Context())
				if err != nil {
					return fmt.Errorf("clear jobs: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished job(s)\n", removed)
				return nil
			})
		},
	}
}

func (c *commandContext) withStore(fn func(*jobstore.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := jobstore.Open(cfg)
	if err != nil {
		return fmt.Errorf("open job history: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func parseStatusFlags(values []string) ([]jobstore.Status, error) {
	var statuses []jobstore.Status
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, ok := jobstore.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func renderJobs(out io.Writer, records []*jobstore.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No jobs recorded")
		return
	}
	columns := []column{
		{header: "ID"},
		{header: "Status"},
		{header: "Kind"},
		{header: "Title", maxWidth: 40},
		{header: "Size", align: alignRight},
		{header: "Tries", align: alignRight},
		{header: "Updated"},
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ID,
			string(rec.Status),
			rec.Kind,
			jobTitle(rec),
			formatSize(rec.FinalSize),
			formatAttempts(rec.Attempts),
			formatAge(rec.UpdatedAt),
		})
	}
	fmt.Fprintln(out, renderTable(columns, rows))
}

func renderJobDetail(out io.Writer, rec *jobstore.Record) {
	lines := [][2]string{
		{"ID", rec.ID},
		{"Status", string(rec.Status)},
		{"Stage", rec.Stage},
		{"Requester", rec.RequesterID},
		{"URL", rec.SourceURL},
		{"Kind", rec.Kind},
		{"Title", rec.Title},
		{"Progress", rec.ProgressMessage},
		{"Attempts", formatAttempts(rec.Attempts)},
		{"Size", formatSize(rec.FinalSize)},
		{"File", rec.FileName},
		{"Error", errorSummary(rec)},
		{"Correlation", rec.CorrelationID},
		{"Created", formatTimestamp(rec.CreatedAt)},
		{"Updated", formatTimestamp(rec.UpdatedAt)},
	}
	if rec.FinishedAt != nil {
		lines = append(lines, [2]string{"Finished", formatTimestamp(*rec.FinishedAt)})
	}
	for _, line := range lines {
		if line[1] == "" {
			continue
		}
		fmt.Fprintf(out, "%-12s %s\n", line[0]+":", line[1])
	}
}

func jobTitle(rec *jobstore.Record) string {
	if rec.Title != "" {
		return rec.Title
	}
	return rec.SourceURL
}

func errorSummary(rec *jobstore.Record) string {
	switch {
	case rec.ErrorKind != "" && rec.ErrorMessage != "":
		return rec.ErrorKind + ": " + rec.ErrorMessage
	case rec.ErrorMessage != "":
		return rec.ErrorMessage
	default:
		return rec.ErrorKind
	}
}

func formatSize(size int64) string {
	if size <= 0 {
		return ""
	}
	return humanize.IBytes(uint64(size))
}

func formatAttempts(attempts int) string {
	if attempts <= 0 {
		return ""
	}
	return strconv.Itoa(attempts)
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
