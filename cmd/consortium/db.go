package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zulandar/consortium/internal/config"
	"github.com/zulandar/consortium/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the audit database",
		Long:  "Creates the database when the server supports it and migrates all tables and indexes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := db.EnsureDatabase(cfg.Database); err != nil {
		return err
	}
	switch cfg.Database.Driver {
	case config.DriverMySQL:
		fmt.Fprintf(out, "Database %s ready on %s:%d\n", cfg.Database.Name, cfg.Database.Host, cfg.Database.Port)
	default:
		fmt.Fprintf(out, "Database file %s\n", cfg.Database.Path)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	fmt.Fprintln(out, "\nConsortium database initialized successfully.")
	return nil
}
