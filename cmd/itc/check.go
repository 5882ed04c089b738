package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/itcshield/itc/internal/intake"
	"github.com/itcshield/itc/internal/remote"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newCheckCmd(flags *rootFlags) *cobra.Command {
	var (
		amount string
		party  string
	)
	cmd := &cobra.Command{
		Use:   "check GSTIN",
		Short: "Check one vendor before releasing a payment",
		Long: "Asks the compliance service whether a payment to the vendor should be\n" +
			"stopped, held or released, and prints the decision.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, flags.configPath, args[0], amount, party)
		},
	}
	cmd.Flags().StringVarP(&amount, "amount", "a", "0", "payment amount in rupees")
	cmd.Flags().StringVar(&party, "party", "", "vendor name as it appears in your books")
	return cmd
}

func runCheck(cmd *cobra.Command, configPath, gstin, amount, party string) error {
	g, err := intake.NormalizeGSTIN(gstin)
	if err != nil {
		return err
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil || amt.IsNegative() {
		return fmt.Errorf("invalid amount %q", amount)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	client, err := newClient(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	d, err := client.Check(cmd.Context(), remote.CheckRequest{GSTIN: g, Amount: amt, PartyName: party})
	if err != nil {
		return err
	}
	printDecision(cmd.OutOrStdout(), d)
	return nil
}

func printDecision(out io.Writer, d *remote.Decision) {
	fmt.Fprintf(out, "%s: %s\n", d.Decision, d.Title)
	if d.Message != "" {
		fmt.Fprintf(out, "%s\n", d.Message)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "GSTIN:\t%s\n", d.GSTIN)
	if d.VendorName != "" {
		fmt.Fprintf(w, "Vendor:\t%s\n", d.VendorName)
	}
	if d.Action != "" {
		fmt.Fprintf(w, "Action:\t%s\n", d.Action)
	}
	if d.RiskLevel != "" {
		fmt.Fprintf(w, "Risk:\t%s\n", d.RiskLevel)
	}
	if d.RuleID != "" {
		fmt.Fprintf(w, "Rule:\t%s\n", d.RuleID)
	}
	if ref := d.CheckRef(); ref != "" {
		fmt.Fprintf(w, "Check:\t%s\n", ref)
	}
	if d.CertificateURL != "" {
		fmt.Fprintf(w, "Certificate:\t%s\n", d.CertificateURL)
	}
	w.Flush()
}
