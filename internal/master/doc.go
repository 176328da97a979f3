// Package master implements the cluster master: a prioritized backlog of
// domains dispatched to remote worker nodes one job per status refresh, with
// per-node brokers, a connection supervisor, and failure-driven rescheduling.
//
// All mutable state is owned by the Scheduler's event loop. Remote calls run
// on their own goroutines and post their completions back to the loop, so
// handlers never need locks and never block other nodes.
package master
