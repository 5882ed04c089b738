package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"text/tabwriter"

	"github.com/itcshield/itc/internal/history"
	"github.com/itcshield/itc/internal/poller"
	"github.com/itcshield/itc/internal/remote"
	"github.com/spf13/cobra"
)

func newBatchCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Bulk vendor compliance checks",
	}

	cmd.AddCommand(newBatchSubmitCmd(flags))
	cmd.AddCommand(newBatchStatusCmd(flags))
	cmd.AddCommand(newBatchWatchCmd(flags))
	cmd.AddCommand(newBatchListCmd(flags))
	cmd.AddCommand(newBatchDownloadCmd(flags))
	return cmd
}

func newBatchSubmitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "submit FILE",
		Short: "Validate and upload a vendor CSV, then track the job",
		Long: "Uploads a CSV of vendors (gstin, amount, party_name) for bulk compliance\n" +
			"checking and polls the job until it completes or fails. Files that are not\n" +
			"CSV or exceed the size limit are rejected before anything is sent.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatchSubmit(cmd, flags.configPath, args[0])
		},
	}
}

func runBatchSubmit(cmd *cobra.Command, configPath, path string) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := newRunner(ctx, cfg, gormDB)
	if err != nil {
		return err
	}
	defer cleanup()

	pr := &jobPrinter{out: out}
	job, h, err := runner.SubmitBatch(ctx, path, pr.print)
	if h != nil {
		printHandle(out, h)
	}
	if errors.Is(err, poller.ErrStopped) && h != nil {
		fmt.Fprintf(out, "Stopped watching; resume with: itc batch watch %s\n", h.JobID)
	}
	if err != nil {
		return err
	}
	printJobResult(out, job)
	return nil
}

func printHandle(out io.Writer, h *remote.JobHandle) {
	fmt.Fprintf(out, "Submitted job %s (%d vendors)\n", h.JobID, h.TotalVendors)
	if len(h.ParseErrors) > 0 {
		fmt.Fprintf(out, "%d rows skipped by the service:\n", len(h.ParseErrors))
		for _, e := range h.ParseErrors {
			fmt.Fprintf(out, "  %s\n", e)
		}
	}
}

func printJobResult(out io.Writer, job poller.Job) {
	r := job.Result
	if r == nil {
		return
	}
	fmt.Fprintf(out, "\nJob %s completed: %d vendors, %d passed, %d failed\n", job.ID, r.Total, r.Success, r.Failed)
	if len(r.RiskSummary) > 0 {
		levels := make([]string, 0, len(r.RiskSummary))
		for l := range r.RiskSummary {
			levels = append(levels, l)
		}
		slices.Sort(levels)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RISK\tVENDORS")
		for _, l := range levels {
			fmt.Fprintf(w, "%s\t%d\n", l, r.RiskSummary[l])
		}
		w.Flush()
	}
	if r.OutputFile != "" {
		fmt.Fprintf(out, "Certificates: itc batch download %s\n", job.ID)
	}
}

func newBatchStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB",
		Short: "Show the current status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatchStatus(cmd, flags.configPath, args[0])
		},
	}
}

func runBatchStatus(cmd *cobra.Command, configPath, jobID string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	client, err := newClient(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	r, err := client.Status(cmd.Context(), jobID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Job:\t%s\n", r.JobID)
	fmt.Fprintf(w, "Status:\t%s\n", r.Status)
	fmt.Fprintf(w, "Progress:\t%s %.0f%%\n", progressBar(r.ProgressPercent, 20), r.ProgressPercent)
	fmt.Fprintf(w, "Processed:\t%d/%d\n", r.Processed, r.Total)
	fmt.Fprintf(w, "Passed:\t%d\n", r.Success)
	fmt.Fprintf(w, "Failed:\t%d\n", r.Failed)
	if r.CreatedAt != "" {
		fmt.Fprintf(w, "Created:\t%s\n", r.CreatedAt)
	}
	if r.CompletedAt != "" {
		fmt.Fprintf(w, "Completed:\t%s\n", r.CompletedAt)
	}
	if msg := r.FailureMessage(); r.Status == remote.StatusFailed && msg != "" {
		fmt.Fprintf(w, "Error:\t%s\n", msg)
	}
	return w.Flush()
}

func newBatchWatchCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch JOB",
		Short: "Poll a submitted job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatchWatch(cmd, flags.configPath, args[0])
		},
	}
}

func runBatchWatch(cmd *cobra.Command, configPath, jobID string) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := newRunner(ctx, cfg, gormDB)
	if err != nil {
		return err
	}
	defer cleanup()

	fileName := ""
	if j, err := history.GetJob(gormDB, jobID); err == nil {
		fileName = j.FileName
	}
	pr := &jobPrinter{out: out}
	job, err := runner.Track(ctx, &remote.JobHandle{JobID: jobID}, fileName, pr.print)
	if err != nil {
		return err
	}
	printJobResult(out, job)
	return nil
}

func newBatchListCmd(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded batch jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatchList(cmd, flags.configPath, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of jobs")
	return cmd
}

func runBatchList(cmd *cobra.Command, configPath string, limit int) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	jobs, err := history.ListJobs(gormDB, limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tFILE\tSTATE\tPROGRESS\tPASSED\tFAILED\tSUBMITTED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%d\t%d\t%s\n",
			j.JobID, j.FileName, j.State, j.ProgressPercent, j.Success, j.Failed,
			j.SubmittedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func newBatchDownloadCmd(flags *rootFlags) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "download JOB",
		Short: "Download and verify the certificates of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = "certificates-" + args[0]
			}
			return runBatchDownload(cmd, flags.configPath, args[0], dir)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory to extract into (default certificates-JOB)")
	return cmd
}

func runBatchDownload(cmd *cobra.Command, configPath, jobID, dir string) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	runner, cleanup, err := newRunner(cmd.Context(), cfg, gormDB)
	if err != nil {
		return err
	}
	defer cleanup()

	b, err := runner.Download(cmd.Context(), jobID, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Extracted %d certificates to %s\n", len(b.Certificates), b.Dir)
	if b.ResultsPath != "" {
		fmt.Fprintf(out, "Results: %s\n", b.ResultsPath)
	}
	for _, name := range b.Skipped {
		fmt.Fprintf(out, "  skipped unsafe entry %q\n", name)
	}
	if bad := b.Corrupt(); len(bad) > 0 {
		fmt.Fprintf(out, "%d certificates failed verification:\n", len(bad))
		for _, c := range bad {
			fmt.Fprintf(out, "  %s: %s\n", c.Name, c.Err)
		}
		return fmt.Errorf("%d corrupt certificates in %s", len(bad), b.Dir)
	}
	return nil
}
