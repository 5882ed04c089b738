package main

import (
	"fmt"
	"os"

	"github.com/itcshield/itc/internal/intake"
	"github.com/spf13/cobra"
)

func newTemplateCmd() *cobra.Command {
	var (
		kind   string
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write a sample upload file",
		Long: "Writes a sample vendor list (--kind batch) or purchase register\n" +
			"(--kind reconcile) as CSV or XLSX.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTemplate(cmd, kind, format, output)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", intake.KindBatch, "batch or reconcile")
	cmd.Flags().StringVarP(&format, "format", "f", intake.FormatCSV, "csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default <kind>_template.<format>, - for stdout)")
	return cmd
}

func runTemplate(cmd *cobra.Command, kind, format, output string) error {
	if output == "-" {
		return intake.WriteTemplate(cmd.OutOrStdout(), kind, format)
	}
	if output == "" {
		output = fmt.Sprintf("%s_template.%s", kind, format)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create %s: %w", output, err)
	}
	if err := intake.WriteTemplate(f, kind, format); err != nil {
		f.Close()
		os.Remove(output)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
	return nil
}
