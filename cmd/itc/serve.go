package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/itcshield/itc/internal/config"
	"github.com/itcshield/itc/internal/dashboard"
	"github.com/itcshield/itc/internal/recon"
	"github.com/itcshield/itc/internal/schedule"
	"github.com/itcshield/itc/internal/workflow"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard and scheduled reconciliations",
		Long: "Serves the web dashboard over the local ledger and fires the\n" +
			"reconciliations listed under schedules in the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags.configPath, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default dashboard.port)")
	return cmd
}

// reconcileFunc adapts the runner to the scheduler.
func reconcileFunc(runner *workflow.Runner) schedule.RunFunc {
	return func(ctx context.Context, sc config.ScheduleConfig, period string) error {
		rec, err := runner.Reconcile(ctx, sc.File, period, "schedule:"+sc.Name)
		if err != nil {
			return err
		}
		res := rec.Result
		log.Printf("schedule: %s: run %s for %s, %d matched, %d disputed (%s)",
			sc.Name, shortID(rec.Run.ID), period,
			res.Count(recon.Matched), res.Count(recon.Mismatch)+res.Count(recon.MissingIn2B),
			formatRupees(res.DisputedAmountSum()))
		return nil
	}
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Dashboard.Port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := newRunner(ctx, cfg, gormDB)
	if err != nil {
		return err
	}
	defer cleanup()

	sched, err := schedule.New(cfg.Schedules, reconcileFunc(runner))
	if err != nil {
		return err
	}
	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dashboard.Start(gctx, dashboard.StartOpts{
			DB:             gormDB,
			Service:        client,
			Port:           port,
			AllowedOrigins: cfg.Dashboard.AllowedOrigins,
			Out:            out,
		})
	})
	if len(cfg.Schedules) > 0 {
		g.Go(func() error { return sched.Run(gctx) })
		fmt.Fprintf(out, "Scheduled %d reconciliation(s)\n", len(cfg.Schedules))
	}

	err = g.Wait()
	fmt.Fprintln(out, "Shut down.")
	return err
}

func newScheduleCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and trigger scheduled reconciliations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured schedules and their next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleList(cmd, flags.configPath, time.Now())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run NAME",
		Short: "Run one schedule now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleNow(cmd, flags.configPath, args[0])
		},
	})
	return cmd
}

func runScheduleList(cmd *cobra.Command, configPath string, now time.Time) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Schedules) == 0 {
		fmt.Fprintln(out, "No schedules configured.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCRON\tFILE\tPERIOD\tNEXT RUN")
	for _, sc := range cfg.Schedules {
		period, err := schedule.ResolvePeriod(sc.Period, now)
		if err != nil {
			period = "invalid: " + sc.Period
		}
		next := "invalid cron"
		if t, err := schedule.NextRun(sc.Cron, now); err == nil {
			next = t.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", sc.Name, sc.Cron, sc.File, period, next)
	}
	return w.Flush()
}

func runScheduleNow(cmd *cobra.Command, configPath, name string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	var target *config.ScheduleConfig
	for i := range cfg.Schedules {
		if cfg.Schedules[i].Name == name {
			target = &cfg.Schedules[i]
		}
	}
	if target == nil {
		return fmt.Errorf("no schedule named %q", name)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runner, cleanup, err := newRunner(ctx, cfg, gormDB)
	if err != nil {
		return err
	}
	defer cleanup()

	sched, err := schedule.New(cfg.Schedules, reconcileFunc(runner))
	if err != nil {
		return err
	}
	return sched.Trigger(ctx, *target)
}
