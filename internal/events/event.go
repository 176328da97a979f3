package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported stages.
const (
	StageScheduled  Stage = "SCHEDULED"
	StageDispatched Stage = "DISPATCHED"
	StageRejected   Stage = "REJECTED"
	StageRunning    Stage = "RUNNING"
	StageScraped    Stage = "SCRAPED"
	StageLost       Stage = "LOST"
	StageNodeUp     Stage = "NODE_UP"
	StageNodeDown   Stage = "NODE_DOWN"
	StagePoll       Stage = "POLL"
)

// Event captures one scheduling milestone.
type Event struct {
	// ID is assigned by the Hub when left empty.
	ID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Node names the worker involved, when any.
	Node   string
	Domain string
	// Priority is the backlog priority at the time of the event.
	Priority int
	// Reason carries a rejection code or error text.
	Reason string
	// Pending, Loading and AliveNodes are gauges reported with StagePoll.
	Pending    int
	Loading    int
	AliveNodes int
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageScheduled, StageDispatched, StageRejected, StageRunning, StageScraped, StageLost:
		if e.Domain == "" {
			return fmt.Errorf("%s requires domain", e.Stage)
		}
	case StageNodeUp, StageNodeDown:
		if e.Node == "" {
			return fmt.Errorf("%s requires node", e.Stage)
		}
	case StagePoll:
		if e.Pending < 0 || e.Loading < 0 || e.AliveNodes < 0 {
			return errors.New("poll gauges must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}

// Payload flattens the event for publishers.
func (e Event) Payload() map[string]any {
	payload := map[string]any{
		"id":        e.ID.String(),
		"timestamp": e.TS.Format(time.RFC3339Nano),
		"stage":     string(e.Stage),
	}
	if e.Node != "" {
		payload["node"] = e.Node
	}
	if e.Domain != "" {
		payload["domain"] = e.Domain
		payload["priority"] = e.Priority
	}
	if e.Reason != "" {
		payload["reason"] = e.Reason
	}
	if e.Stage == StagePoll {
		payload["pending"] = e.Pending
		payload["loading"] = e.Loading
		payload["alive_nodes"] = e.AliveNodes
	}
	return payload
}
