// Package telemetry wires structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the gate.
package telemetry
