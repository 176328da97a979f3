package master

import (
	"time"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

// Verbosity levels accepted by the introspection calls.
const (
	VerbosityNone    = 0
	VerbositySummary = 1
	VerbosityFull    = 2
)

// NodeView is the operator view of one configured node. Fields past Alive are
// only filled for live nodes.
type NodeView struct {
	Name         string               `json:"name"`
	Addr         string               `json:"addr"`
	Alive        bool                 `json:"alive"`
	Available    bool                 `json:"available"`
	Running      []cluster.RunningJob `json:"running,omitempty"`
	MaxProcesses int                  `json:"max_processes,omitempty"`
	FreeSlots    int                  `json:"free_slots,omitempty"`
	StartTime    time.Time            `json:"start_time,omitzero"`
	LastUpdate   time.Time            `json:"last_update,omitzero"`
	LoadAverage  []float64            `json:"load_average,omitempty"`
	LogDirectory string               `json:"log_directory,omitempty"`
}

// PendingView is one backlog entry as shown to operators. Settings are left
// out below full verbosity.
type PendingView struct {
	Domain   string           `json:"domain"`
	Priority int              `json:"priority"`
	Settings cluster.Settings `json:"settings,omitempty"`
}

func nodeView(name, addr string, available bool, b *Broker, verbosity int) NodeView {
	view := NodeView{Name: name, Addr: addr, Available: available}
	if b == nil || !b.Alive() {
		return view
	}
	status := b.status
	view.Alive = true
	view.Running = make([]cluster.RunningJob, 0, len(status.Running))
	for _, job := range status.Running {
		if verbosity < VerbosityFull {
			job.Settings = nil
		} else {
			job.Settings = job.Settings.Clone()
		}
		view.Running = append(view.Running, job)
	}
	view.MaxProcesses = status.MaxProcesses
	view.FreeSlots = status.FreeSlots()
	view.StartTime = status.StartTime
	view.LastUpdate = status.LastUpdate
	view.LoadAverage = append([]float64(nil), status.LoadAverage...)
	view.LogDirectory = status.LogDirectory
	return view
}

func pendingViews(jobs []cluster.PendingJob, verbosity int) []PendingView {
	if verbosity <= VerbosityNone {
		return nil
	}
	out := make([]PendingView, 0, len(jobs))
	for _, job := range jobs {
		view := PendingView{Domain: job.Domain, Priority: job.Priority}
		if verbosity >= VerbosityFull {
			view.Settings = job.Settings
		}
		out = append(out, view)
	}
	return out
}
