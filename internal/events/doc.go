// Package events defines the lifecycle events emitted by the cluster master
// and a buffered Hub that fans them out to sinks (logs, metrics, Pub/Sub).
package events
