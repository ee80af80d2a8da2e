// Package telemetry provides observability instrumentation for the bridge.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and Prometheus metrics into a single setup owned by
// the top-level process.
//
// Initialize at startup:
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Component loggers carry their own context:
//
//	logger := tel.Logger.NewComponentLogger("connection-manager")
//	logger.WithMethod("object.validate").Debug("validating")
//
// Key metrics exposed at /metrics:
//
//   - cadbridge_calls_total{method,mode,outcome}
//   - cadbridge_call_duration_seconds{method,mode}
//   - cadbridge_retries_total{method}
//   - cadbridge_state_transitions_total{from,to}
//   - cadbridge_transactions_total{outcome}
package telemetry
