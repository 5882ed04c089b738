package main

import (
	"fmt"

	"github.com/itcshield/itc/internal/config"
	"github.com/itcshield/itc/internal/db"
	"github.com/spf13/cobra"
)

func newDBCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Ledger database commands",
	}
	cmd.AddCommand(newDBMigrateCmd(flags))
	return cmd
}

func newDBMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, flags.configPath)
		},
	}
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s\n", describeDB(cfg.Database))

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

// describeDB names the database without its credentials.
func describeDB(c config.DatabaseConfig) string {
	switch {
	case c.DSN != "":
		return c.Driver + " (dsn)"
	case c.Driver == "sqlite":
		return "sqlite " + c.Path
	}
	return fmt.Sprintf("%s %s:%d/%s", c.Driver, c.Host, c.Port, c.Name)
}
