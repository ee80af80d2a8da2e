package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadbridge/cadbridge/pkg/stores"
)

func newAuditCommand() *cobra.Command {
	var (
		limit       int
		method      string
		outcome     string
		showTxns    bool
		showSession bool
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the recorded audit trail",
		Long: `List recent invocations from the SQLite audit store. With --transactions
the resolved undo checkpoints are shown instead, with --sessions the
connection sessions.`,
		Example: `  # Last 20 recorded calls
  cadbridge audit

  # Failed calls only
  cadbridge audit --outcome timeout

  # Resolved checkpoints
  cadbridge audit --transactions`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StorePath == "" {
				return fmt.Errorf("no audit store configured (set store_path or %sSTORE_PATH)", "CADBRIDGE_")
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.StorePath})
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			switch {
			case showTxns:
				return printTransactions(ctx, store, limit)
			case showSession:
				return printSessions(ctx, store, limit)
			default:
				return printInvocations(ctx, store, method, outcome, limit)
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows to show")
	cmd.Flags().StringVar(&method, "method", "", "filter by method name")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome (ok, timeout, remote_fault, ...)")
	cmd.Flags().BoolVar(&showTxns, "transactions", false, "show resolved checkpoints instead of calls")
	cmd.Flags().BoolVar(&showSession, "sessions", false, "show connection sessions instead of calls")

	return cmd
}

func printInvocations(ctx context.Context, store stores.Store, method, outcome string, limit int) error {
	var methodFilter, outcomeFilter *string
	if method != "" {
		methodFilter = &method
	}
	if outcome != "" {
		outcomeFilter = &outcome
	}

	invs, err := store.ListInvocations(ctx, methodFilter, outcomeFilter, limit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(invs, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	for _, inv := range invs {
		fmt.Printf("%s  %-28s attempts=%d  %-12s %dms\n",
			inv.RecordedAt.Format(time.RFC3339), inv.Method, inv.Attempts, inv.Outcome, inv.DurationMS)
	}
	return nil
}

func printTransactions(ctx context.Context, store stores.Store, limit int) error {
	txns, err := store.ListTransactions(ctx, nil, limit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(txns, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	for _, txn := range txns {
		fmt.Printf("%s  %-24s %-16s %s\n",
			txn.RecordedAt.Format(time.RFC3339), txn.Label, txn.Document, txn.Outcome)
	}
	return nil
}

func printSessions(ctx context.Context, store stores.Store, limit int) error {
	sessions, err := store.ListSessions(ctx, limit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(sessions, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	for _, s := range sessions {
		end := "open"
		if s.DisconnectedAt != nil {
			end = s.DisconnectedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-12s %s:%d  connected=%s disconnected=%s\n",
			s.InstanceID, s.Mode, s.Host, s.Port,
			s.ConnectedAt.Format(time.RFC3339), end)
	}
	return nil
}
