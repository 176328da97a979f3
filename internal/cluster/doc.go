// Package cluster defines the types and collaborator contracts shared by the
// cluster master, its node transport, and its state stores.
package cluster
