package cluster

import (
	"context"
	"time"
)

// NodeChannel is the request/response channel to one worker node. Every
// failure to deliver a call is reported as an error wrapping ErrDisconnected.
type NodeChannel interface {
	Status(ctx context.Context) (NodeStatus, error)
	SetMaster(ctx context.Context, callbackURL string) (NodeStatus, error)
	Run(ctx context.Context, domain string, settings Settings) (ResponseCode, error)
	Stop(ctx context.Context, domain string) error
	Close() error
}

// Dialer opens channels to worker nodes. onDisconnect fires at most once, when
// an established channel fails.
type Dialer interface {
	Dial(ctx context.Context, name, addr string, onDisconnect func(error)) (NodeChannel, error)
}

// StateStore persists the pending backlog across restarts. Load returns
// ErrNotFound when nothing was saved yet.
type StateStore interface {
	Load(ctx context.Context) ([]PendingJob, error)
	Save(ctx context.Context, pending []PendingJob) error
}

// GroupSettings supplies per-domain default settings.
type GroupSettings interface {
	For(domain string) Settings
}

// GroupSettingsFunc adapts a function to GroupSettings.
type GroupSettingsFunc func(domain string) Settings

// For calls f.
func (f GroupSettingsFunc) For(domain string) Settings {
	return f(domain)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
