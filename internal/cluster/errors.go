package cluster

import "errors"

var (
	// ErrDisconnected signals that a node channel could not deliver a call or
	// lost its connection. It is distinct from a rejected dispatch.
	ErrDisconnected = errors.New("node disconnected")
	// ErrUnknownNode is returned for operations naming an unregistered node.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNodeBusy is returned when a node still owns running or loading domains.
	ErrNodeBusy = errors.New("node has running or loading domains")
	// ErrStopped is returned once the scheduler has shut down.
	ErrStopped = errors.New("scheduler stopped")
	// ErrNotFound is returned by state stores when no snapshot exists.
	ErrNotFound = errors.New("state not found")
)
