// Package api hosts the HTTP server, middleware, and REST handlers for
// operators and workers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/schedule, /v1/stop, /v1/remove and /v1/discard to manage domains.
//   - GET /v1/nodes, /v1/pending, /v1/running and /v1/statistics for introspection.
//   - POST /v1/nodes/{name}/report, the callback workers use to report progress.
package api
