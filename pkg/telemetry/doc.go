// Package telemetry provides observability instrumentation for modrun.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus).
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
// Library packages take a plain zerolog.Logger and tag it with their own
// component name; the CLI hands them the root logger and uses Component for
// its own messages:
//
//	rt, err := script.New(h, script.Options{Logger: tel.Logger.Zerolog()})
//	tel.Logger.Component("cli").Info().Msg("Rediscovering")
//
// # Distributed Tracing
//
// NewTracer installs the global tracer provider. Library packages start spans
// with otel.Tracer(telemetry.InstrumentationName), so spans are recorded only
// when the CLI enabled tracing:
//
//	ctx, span := otel.Tracer(telemetry.InstrumentationName).Start(ctx, "script.load",
//	    trace.WithAttributes(telemetry.AttrModulePath.String(path)))
//	defer span.End()
//
// Supported exporters are otlp (gRPC) and stdout.
//
// # Metrics
//
// A *Metrics is safe to use when nil or disabled; every Record method is then
// a no-op. Exposed series, all under the configured namespace:
//
//   - compiles_total{status}, compile_duration_seconds
//   - compile_store_lookups_total{result}
//   - module_cache_lookups_total{result}
//   - module_loads_total{kind,status}, module_load_duration_seconds
//   - invalidations_total{scope}
//   - resolutions_total{kind}
//   - discoveries_total{status}, thunk_evaluations_total{status}
//   - active_runtimes
package telemetry
