package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	modeFlag   string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cadbridge",
		Short: "CAD engine bridge connection layer",
		Long: `cadbridge manages the connection between automation clients and a
running CAD engine instance.

Features:
  - Three transports: HTTP-RPC, socket-RPC, and in-process
  - Bounded retries with exponential backoff
  - Validated connections with fail-fast invocation
  - Undo-checkpoint transactions with automatic rollback
  - Policy-gated mutations (OPA/rego)
  - SQLite audit trail of invocations and transactions`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&modeFlag, "mode", "m", "", "transport mode: http-rpc, socket-rpc, in-process")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newPoliciesCommand())
	rootCmd.AddCommand(newAuditCommand())

	return rootCmd
}
