package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"time"
)

// DefaultPriority is used when a caller does not specify a priority. Lower
// values are serviced sooner.
const DefaultPriority = 20

// PriorityStep is the backoff applied when a node rejects a dispatch for lack
// of capacity.
const PriorityStep = 1

// Demote returns the next worse priority. It saturates at math.MaxInt.
func Demote(priority int) int {
	if priority > math.MaxInt-PriorityStep {
		return math.MaxInt
	}
	return priority + PriorityStep
}

// Settings is an opaque map of primitive values handed to a worker with a
// dispatched domain. Values are strings, booleans, int64 or float64.
type Settings map[string]any

// Clone returns a shallow copy; nil stays nil.
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// NormalizeSettings coerces numeric values so that settings compare equal after
// a JSON round trip: integral numbers become int64, the rest float64.
func NormalizeSettings(s Settings) Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return normalizeFloat(float64(n))
	case float64:
		return normalizeFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// PendingJob is one backlog entry: a domain waiting to be dispatched.
type PendingJob struct {
	Domain   string   `json:"domain"`
	Settings Settings `json:"settings"`
	Priority int      `json:"priority"`
}

// Clone copies the job including its settings map.
func (j PendingJob) Clone() PendingJob {
	j.Settings = j.Settings.Clone()
	return j
}

// RunningJob is a domain a node reports as currently running.
type RunningJob struct {
	Domain    string    `json:"domain"`
	Settings  Settings  `json:"settings,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	PID       int       `json:"pid,omitempty"`
}

// NodeStatus is the snapshot a worker returns from status calls and embeds in
// every report.
type NodeStatus struct {
	Running      []RunningJob `json:"running"`
	MaxProcesses int          `json:"max_processes"`
	StartTime    time.Time    `json:"start_time"`
	LastUpdate   time.Time    `json:"last_update"`
	LoadAverage  []float64    `json:"load_average"`
	LogDirectory string       `json:"log_directory"`
}

// FreeSlots reports how many more domains the node can run.
func (s NodeStatus) FreeSlots() int {
	return s.MaxProcesses - len(s.Running)
}

// ResponseCode is the outcome of a run call that reached the worker.
type ResponseCode string

// Run outcomes.
const (
	ResponseOK                   ResponseCode = "OK"
	ResponseNoFreeSlot           ResponseCode = "NO_FREE_SLOT"
	ResponseDomainAlreadyRunning ResponseCode = "DOMAIN_ALREADY_RUNNING"
)

// Valid reports whether c is a known response code.
func (c ResponseCode) Valid() bool {
	switch c {
	case ResponseOK, ResponseNoFreeSlot, ResponseDomainAlreadyRunning:
		return true
	default:
		return false
	}
}

// DomainState is the progress a worker reports for a domain.
type DomainState string

// Reported domain states.
const (
	DomainRunning DomainState = "running"
	DomainScraped DomainState = "scraped"
)

// Report is the asynchronous progress callback a worker sends to the master.
type Report struct {
	Status NodeStatus  `json:"status"`
	Domain string      `json:"domain"`
	State  DomainState `json:"domain_state"`
}

// Validate performs coarse validation on a report payload.
func (r Report) Validate() error {
	if r.Domain == "" {
		return errors.New("domain is required")
	}
	switch r.State {
	case DomainRunning, DomainScraped:
		return nil
	default:
		return fmt.Errorf("unknown domain state %q", r.State)
	}
}
