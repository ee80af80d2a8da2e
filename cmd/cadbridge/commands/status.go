package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadbridge/cadbridge/pkg/bridge/protocol"
)

// statusReport is the machine-readable shape of the status command.
type statusReport struct {
	State        string `json:"state"`
	Mode         string `json:"mode"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	InstanceID   string `json:"instance_id"`
	LatencyMS    int64  `json:"latency_ms"`
	Version      string `json:"version,omitempty"`
	GUIAvailable bool   `json:"gui_available"`
	UndoDepth    *int   `json:"undo_depth,omitempty"`
	RedoDepth    *int   `json:"redo_depth,omitempty"`
}

func newStatusCommand() *cobra.Command {
	var (
		timeout  time.Duration
		document string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show engine connection status and version",
		Long: `Connect to the engine and report its state, round-trip latency,
version, and whether a GUI is attached.`,
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

			if err := mgr.Connect(ctx); err != nil {
				return fmt.Errorf("engine unreachable: %w", err)
			}

			latency, err := mgr.Ping(ctx)
			if err != nil {
				return err
			}

			info := mgr.Info()
			report := statusReport{
				State:      string(info.State),
				Mode:       string(info.Mode),
				Host:       info.Host,
				Port:       info.Port,
				InstanceID: info.InstanceID,
				LatencyMS:  latency.Milliseconds(),
			}

			if raw, err := mgr.Invoke(ctx, protocol.MethodEngineVersion, nil); err == nil {
				var ver protocol.VersionResult
				if json.Unmarshal(raw, &ver) == nil {
					report.Version = ver.Version
				}
			}

			if raw, err := mgr.Invoke(ctx, protocol.MethodEngineGUI, nil); err == nil {
				var gui bool
				if json.Unmarshal(raw, &gui) == nil {
					report.GUIAvailable = gui
				}
			}

			if document != "" {
				raw, err := mgr.Invoke(ctx, protocol.MethodTxnStatus, map[string]string{"document": document})
				if err != nil {
					return fmt.Errorf("failed to query undo stack for %s: %w", document, err)
				}
				var ts protocol.TxnStatusResult
				if err := json.Unmarshal(raw, &ts); err != nil {
					return fmt.Errorf("unparseable undo stack status: %w", err)
				}
				report.UndoDepth = &ts.UndoDepth
				report.RedoDepth = &ts.RedoDepth
			}

			if jsonOutput {
				out, _ := json.MarshalIndent(report, "", "  ")
				fmt.Println(string(out))
				return nil
			}

			fmt.Printf("State:     %s\n", report.State)
			fmt.Printf("Mode:      %s\n", report.Mode)
			fmt.Printf("Endpoint:  %s:%d\n", report.Host, report.Port)
			fmt.Printf("Instance:  %s\n", report.InstanceID)
			fmt.Printf("Latency:   %s\n", latency.Round(time.Millisecond))
			if report.Version != "" {
				fmt.Printf("Version:   %s\n", report.Version)
			}
			fmt.Printf("GUI:       %v\n", report.GUIAvailable)
			if report.UndoDepth != nil {
				fmt.Printf("Undo:      %d (redo %d)\n", *report.UndoDepth, *report.RedoDepth)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall timeout for the probe (default: configured call timeout)")
	cmd.Flags().StringVar(&document, "document", "", "also report the named document's undo/redo stack depths")

	return cmd
}
