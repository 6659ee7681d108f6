// Package telemetry wires OpenTelemetry tracing and metrics for taskmaster.
//
// Every dispatched command produces one span named taskmaster.<action> and
// updates the command counters. With telemetry disabled (the default) the
// global no-op providers absorb all of it.
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, telemetry.WithLogger(zl))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Configuration:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  sampling:
//	    rate: 0.5
//	  metrics:
//	    export_interval: 15s
//
// Tests use NewTestTelemetry and Install to capture spans and counters
// in memory.
package telemetry
