package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/cadbridge/cadbridge/pkg/bridge"
	"github.com/cadbridge/cadbridge/pkg/config"
	"github.com/cadbridge/cadbridge/pkg/stores"
	"github.com/cadbridge/cadbridge/pkg/telemetry"
	"github.com/cadbridge/cadbridge/pkg/transports/httprpc"
	"github.com/cadbridge/cadbridge/pkg/transports/socketrpc"
)

// loadConfig loads the bridge configuration with CLI flag overrides
// applied on top of file and environment values.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if modeFlag != "" {
		cfg.Mode = modeFlag
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newTransport builds the transport selected by the configured mode.
// In-process mode only works when the bridge is embedded in the engine
// process, so the standalone CLI rejects it.
func newTransport(cfg config.Config) (bridge.Transport, error) {
	switch bridge.Mode(cfg.Mode) {
	case bridge.ModeSocketRPC:
		return socketrpc.New(socketrpc.Config{
			Host: cfg.Host,
			Port: cfg.SocketPort,
		}), nil
	case bridge.ModeHTTPRPC:
		return httprpc.New(httprpc.Config{
			Host: cfg.Host,
			Port: cfg.HTTPPort,
		}), nil
	case bridge.ModeInProcess:
		return nil, fmt.Errorf("in-process mode requires embedding the bridge in the engine process")
	default:
		return nil, fmt.Errorf("unknown transport mode: %s", cfg.Mode)
	}
}

// newTelemetry builds the telemetry stack from the bridge configuration.
func newTelemetry(cfg config.Config) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.Logging.Level = cfg.Log.Level
	tcfg.Logging.Format = cfg.Log.Format
	tcfg.Tracing.Enabled = cfg.Tracing.Enabled
	tcfg.Tracing.Exporter = cfg.Tracing.Exporter
	tcfg.Tracing.Endpoint = cfg.Tracing.Endpoint
	tcfg.Tracing.Insecure = cfg.Tracing.Insecure
	tcfg.Metrics.Enabled = cfg.Metrics.Enabled
	tcfg.Metrics.ListenAddress = cfg.Metrics.ListenAddress
	return telemetry.New(tcfg)
}

// newManager builds a connection manager from the configuration. The
// returned cleanup releases the audit store, if one is configured, and
// must be called after the manager is shut down.
func newManager(cfg config.Config) (*bridge.Manager, func(), error) {
	transport, err := newTransport(cfg)
	if err != nil {
		return nil, nil, err
	}

	tel, err := newTelemetry(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, nil, err
	}

	mgr := bridge.NewManager(transport, bridge.ManagerConfig{
		Retry: bridge.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   toDuration(cfg.Retry.BaseDelayMS),
			MaxDelay:    toDuration(cfg.Retry.MaxDelayMS),
			Budget:      toDuration(cfg.Retry.BudgetMS),
		},
		CallTimeout: cfg.Timeout(),
	}, tel.Logger.Zerolog())
	mgr.SetMetrics(tel.Metrics)
	mgr.SetTracer(tel.Tracer.SpanHooks())

	switch bridge.Mode(cfg.Mode) {
	case bridge.ModeSocketRPC:
		mgr.SetEndpoint(cfg.Host, cfg.SocketPort)
	case bridge.ModeHTTPRPC:
		mgr.SetEndpoint(cfg.Host, cfg.HTTPPort)
	}

	cleanup := func() {}
	if cfg.StorePath != "" {
		store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.StorePath})
		if err != nil {
			return nil, nil, err
		}
		ctx := context.Background()
		if err := store.Init(ctx); err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		mgr.SetSessionRecorder(stores.NewAuditRecorder(store, tel.Logger.Zerolog()))
		cleanup = func() { _ = store.Close() }
	}

	return mgr, cleanup, nil
}

func toDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// contextWithTimeout derives a bounded context for one CLI operation.
func contextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}
