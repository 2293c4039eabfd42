// Package telemetry provides logging, tracing and metrics for converge
// runs.
//
// Logging uses zerolog with console or JSON output. Tracing uses
// OpenTelemetry with an OTLP gRPC or stdout exporter; each run is one
// trace with child spans for recipe loads and the converge phase, and
// every activation is recorded as a span event. Metrics use a private
// Prometheus registry. A CLI run is short-lived, so metrics are written
// in text format to a file for the node exporter textfile collector
// instead of being served over HTTP.
//
// Both Tracer and Metrics implement engine.ActivationObserver, and so
// does Telemetry, which fans out to both:
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	collection := resources.NewCollection(providers, resources.WithObserver(tel))
package telemetry
