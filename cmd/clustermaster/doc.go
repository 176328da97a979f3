// Package main hosts the cluster master entrypoint.
//
// Architecture overview:
//   - Scheduler: internal/master.Scheduler owns the pending backlog, the loading set and the node registry. All
//     mutations run on one event loop; node calls run on goroutines and post their completions back to the loop.
//   - Nodes: internal/nodeclient dials every configured worker over HTTP/JSON, registers this master's callback URL
//     and dispatches domains. Workers report progress to POST /v1/nodes/{name}/report.
//   - Persistence: the pending backlog is loaded at start and saved at stop through the configured state store
//     (file, memory, Postgres, GCS or Redis).
//   - Events: lifecycle events flow through a batching hub to a zap log sink, Prometheus collectors and, when a topic
//     is configured, Google Cloud Pub/Sub.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging (optionally
//     rotated with lumberjack); Prometheus metrics are served on /metrics.
//
// Operational notes:
//   - The master polls nodes every master.poll_interval_seconds; unreachable nodes are redialed on the next tick.
//   - SIGINT/SIGTERM stop the HTTP server, drain the scheduler and persist the backlog before exit.
//
// Quick checklist:
//   - Configure env vars: CLUSTER_MASTER_MASTER_ENABLED=true, CLUSTER_MASTER_MASTER_CALLBACK_URL, the state store
//     keys, and master.nodes in a config file.
//   - Run locally: go run ./cmd/clustermaster serve --config config.yaml.
//   - Operate: clustermaster schedule example.com --priority 5, clustermaster nodes -v 2.
package main
