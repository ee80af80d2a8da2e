package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCheckCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Test the connection to the engine",
		Long: `Connect to the engine, run the validation handshake, and report the
round-trip latency. Exits non-zero when the engine is unreachable or the
handshake fails, so the command is usable from scripts and health checks.`,
		Example: `  # Check the default socket-RPC endpoint
  cadbridge check

  # Check an HTTP-RPC engine
  cadbridge check --mode http-rpc

  # Machine-readable result
  cadbridge check --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			mgr, cleanup, err := newManager(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			defer func() { _ = mgr.Shutdown() }()

			ctx, cancel := contextWithTimeout(cmd.Context(), timeout)
			defer cancel()

			log.Info().
				Str("mode", cfg.Mode).
				Str("host", cfg.Host).
				Msg("Testing engine connection")

			if err := mgr.Connect(ctx); err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}

			latency, err := mgr.Ping(ctx)
			if err != nil {
				return fmt.Errorf("handshake succeeded but liveness probe failed: %w", err)
			}

			info := mgr.Info()
			if jsonOutput {
				out, _ := json.MarshalIndent(map[string]interface{}{
					"state":       string(info.State),
					"mode":        string(info.Mode),
					"instance_id": info.InstanceID,
					"latency_ms":  latency.Milliseconds(),
				}, "", "  ")
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("Connection OK: mode=%s instance=%s latency=%s\n",
				info.Mode, info.InstanceID, latency.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall timeout for the check (default: configured call timeout)")

	return cmd
}
