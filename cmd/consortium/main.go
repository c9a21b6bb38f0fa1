package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "consortium.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consortium",
		Short: "Consortium audit store: sessions, evaluations and leaderboards",
		Long:  "Inspects and serves the audit trail recorded by multi-model deliberation runs.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newLeaderboardCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "consortium %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
