// Package otel registers observable OpenTelemetry instruments for the azauth
// engine counters. Callers own the MeterProvider and pass in a Meter.
package otel
