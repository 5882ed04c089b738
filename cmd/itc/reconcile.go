package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/itcshield/itc/internal/history"
	"github.com/itcshield/itc/internal/models"
	"github.com/itcshield/itc/internal/recon"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newReconcileCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reconcile",
		Aliases: []string{"recon"},
		Short:   "Reconcile purchase registers against GSTR-2B",
	}

	cmd.AddCommand(newReconcileRunCmd(flags))
	cmd.AddCommand(newReconcileShowCmd(flags))
	cmd.AddCommand(newReconcileListCmd(flags))
	return cmd
}

func newReconcileRunCmd(flags *rootFlags) *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Upload a purchase register and classify the result",
		Long: "Uploads a purchase register (CSV or XLSX) for the given return period\n" +
			"(MMYYYY) and prints matched, mismatched and missing invoices.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, flags.configPath, args[0], period)
		},
	}
	cmd.Flags().StringVarP(&period, "period", "p", "", "return period as MMYYYY, e.g. 102025")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func runReconcile(cmd *cobra.Command, configPath, path, period string) error {
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

	rec, err := runner.Reconcile(ctx, path, period, "cli")
	if err != nil {
		return err
	}
	printRunSummary(out, rec.Run, rec.Result)
	printIssues(out, rec.Result.Verify())
	fmt.Fprintf(out, "\nDetails: itc reconcile show %s --category mismatch\n", shortID(rec.Run.ID))
	return nil
}

func printRunSummary(out io.Writer, run *models.ReconciliationRun, res *recon.Result) {
	fmt.Fprintf(out, "Run %s for period %s (%s)\n", run.ID, run.Period, run.FileName)
	fmt.Fprintf(out, "Purchase register: %d invoices, GSTR-2B: %d invoices\n\n", res.TotalPR(), res.Total2B())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tCOUNT")
	for _, c := range recon.AllCategories {
		fmt.Fprintf(w, "%s\t%d\n", c.Label(), res.Count(c))
	}
	w.Flush()

	fmt.Fprintf(out, "\nMatched amount:  %s\n", formatRupees(res.MatchedAmountSum()))
	fmt.Fprintf(out, "Disputed amount: %s\n", formatRupees(res.DisputedAmountSum()))
	if run.ArchiveURI != "" {
		fmt.Fprintf(out, "Archived to %s\n", run.ArchiveURI)
	}
	if pe := res.Summary().ParseErrors; len(pe) > 0 {
		fmt.Fprintf(out, "\n%d rows skipped by the service:\n", len(pe))
		for _, e := range pe {
			fmt.Fprintf(out, "  %s\n", e)
		}
	}
}

func printIssues(out io.Writer, issues []recon.Issue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%d inconsistencies in the service response:\n", len(issues))
	for _, is := range issues {
		fmt.Fprintf(out, "  %s\n", is)
	}
}

func newReconcileShowCmd(flags *rootFlags) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "show RUN",
		Short: "Show a recorded run, optionally one category's invoices",
		Long: "Shows a recorded reconciliation run. RUN is the run id or a unique\n" +
			"prefix of at least 8 characters. --category lists the invoices of\n" +
			"matched, mismatch, missing_in_2b or missing_in_pr.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcileShow(cmd, flags.configPath, args[0], category)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category to list invoices for")
	return cmd
}

func runReconcileShow(cmd *cobra.Command, configPath, id, category string) error {
	var only recon.Category
	if category != "" {
		c, err := recon.ParseCategory(category)
		if err != nil {
			return err
		}
		only = c
	}

	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	run, res, err := history.GetRun(gormDB, id)
	if err != nil {
		return err
	}
	printRunSummary(out, run, res)
	if only == "" {
		return nil
	}

	recs := res.Select(only)
	fmt.Fprintf(out, "\n%s (%d)\n", only.Label(), len(recs))
	if len(recs) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GSTIN\tVENDOR\tINVOICE\tDATE\tPR\t2B\tDIFFERENCE")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.GSTIN, dash(r.VendorName), r.InvoiceNumber, dash(r.InvoiceDate),
			formatRupees(r.PRAmount), formatRupees(r.GSTR2BAmount), formatRupees(r.Difference))
	}
	return w.Flush()
}

func newReconcileListCmd(flags *rootFlags) *cobra.Command {
	var (
		period string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded reconciliation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcileList(cmd, flags.configPath, period, limit)
		},
	}
	cmd.Flags().StringVarP(&period, "period", "p", "", "only runs for this period (MMYYYY)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	return cmd
}

func runReconcileList(cmd *cobra.Command, configPath, period string, limit int) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	runs, err := history.ListRuns(gormDB, period, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No reconciliation runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPERIOD\tSOURCE\tMATCHED\tMISMATCH\tMISSING 2B\tMISSING PR\tDISPUTED\tCREATED")
	for _, r := range runs {
		disputed, _ := decimal.NewFromString(r.DisputedAmount)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			shortID(r.ID), r.Period, r.Source, r.Matched, r.Mismatch, r.MissingIn2B, r.MissingInPR,
			formatRupees(disputed), r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
