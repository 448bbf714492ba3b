// Package telemetry wraps OpenTelemetry SDK initialization. It wires
// OTLP gRPC exporters for traces and metrics when telemetry is enabled
// and leaves the global providers as noops otherwise.
package telemetry
