package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/itcshield/itc/internal/config"
	"github.com/itcshield/itc/internal/intake"
	"github.com/itcshield/itc/internal/poller"
	"github.com/itcshield/itc/internal/remote"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitInvalid   = 2 // fix the input and resubmit
	exitTransport = 3 // service unreachable, try again
	exitJobFailed = 4 // the service failed the job
)

type rootFlags struct {
	configPath string
	envFile    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "itc",
		Short:         "ITC Shield: GSTIN vendor compliance client",
		Long:          "itc validates vendor lists and purchase registers, submits them to the compliance service and tracks the results.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", flags.envFile, err)
			}
			if !flags.verbose && cmd.Name() != "serve" {
				log.SetOutput(io.Discard)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "path to itc config file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file with ITC_* overrides")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log background activity to stderr")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newBatchCmd(flags))
	cmd.AddCommand(newReconcileCmd(flags))
	cmd.AddCommand(newCheckCmd(flags))
	cmd.AddCommand(newTemplateCmd())
	cmd.AddCommand(newLoginCmd(flags))
	cmd.AddCommand(newLogoutCmd(flags))
	cmd.AddCommand(newDBCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newScheduleCmd(flags))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "itc %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var (
		rejection *intake.Rejection
		invalid   *remote.ValidationError
		transport *remote.TransportError
		failed    *poller.JobFailedError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &rejection), errors.As(err, &invalid), errors.Is(err, remote.ErrUnauthenticated):
		return exitInvalid
	case errors.As(err, &transport), errors.Is(err, poller.ErrStopped):
		return exitTransport
	case errors.As(err, &failed):
		return exitJobFailed
	}
	return exitError
}

func execute(cmd *cobra.Command) int {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return exitCode(err)
}

func main() {
	os.Exit(execute(newRootCmd()))
}
