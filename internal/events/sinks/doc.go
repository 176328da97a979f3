// Package sinks contains events.Sink implementations for logs, Prometheus and
// message publishers.
package sinks
