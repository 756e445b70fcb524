// Package telemetry provides the observability stack of an aquaform
// invocation: structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus).
//
// # Usage
//
// Initialize telemetry once per process:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
// NewLogger returns a plain zerolog.Logger. Components derive children with
// a "component" field:
//
//	logger := tel.Logger.With().Str("component", "executor").Logger()
//	logger.Info().Str("run_id", runID).Msg("Run started")
//
// Log levels: trace, debug, info, warn, error, disabled.
//
// # Tracing
//
// Runs and actions get their own spans. The tracer is disabled by default;
// the stdout exporter prints spans for debugging and the otlp exporter ships
// them to a collector over gRPC:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, planID)
//	defer span.End()
//
//	_, actionSpan := tel.Tracer.StartActionSpan(ctx, 1, "users", "create_table")
//	telemetry.RecordError(actionSpan, err)
//
// A nil *Tracer hands out non-recording spans, so callers never need to
// check for one.
//
// # Metrics
//
// Metrics live in a private registry. Because a CLI run is over before any
// scraper could reach it, the registry is written to MetricsConfig.TextfilePath
// on Shutdown, in the format read by node_exporter's textfile collector.
//
// Available metrics:
//
//   - aquaform_plans_built_total{backend}
//   - aquaform_plan_actions{backend}
//   - aquaform_plan_destructive_actions_total{backend}
//   - aquaform_runs_started_total{backend}
//   - aquaform_runs_completed_total{status}
//   - aquaform_run_duration_seconds{status}
//   - aquaform_actions_executed_total{type,status}
//   - aquaform_action_duration_seconds{type}
//   - aquaform_errors_by_code_total{code}
//   - aquaform_active_runs
//
// Every *Metrics method is a no-op on a nil receiver or when metrics are
// disabled.
package telemetry
