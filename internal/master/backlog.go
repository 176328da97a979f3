package master

import (
	"cmp"
	"slices"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

// Backlog is the ordered queue of pending domains. Entries are sorted by
// ascending priority; equal priorities keep insertion order. A domain appears
// at most once.
type Backlog struct {
	jobs []cluster.PendingJob
}

// NewBacklog builds a backlog from a persisted snapshot, restoring the
// ordering invariant and dropping duplicate domains (the first occurrence in
// priority order wins).
func NewBacklog(jobs []cluster.PendingJob) *Backlog {
	sorted := slices.Clone(jobs)
	slices.SortStableFunc(sorted, func(a, b cluster.PendingJob) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	b := &Backlog{jobs: make([]cluster.PendingJob, 0, len(sorted))}
	seen := make(map[string]struct{}, len(sorted))
	for _, job := range sorted {
		if _, dup := seen[job.Domain]; dup || job.Domain == "" {
			continue
		}
		seen[job.Domain] = struct{}{}
		b.jobs = append(b.jobs, job.Clone())
	}
	return b
}

// Len returns the number of pending domains.
func (b *Backlog) Len() int {
	return len(b.jobs)
}

// Get returns the pending entry for domain.
func (b *Backlog) Get(domain string) (cluster.PendingJob, bool) {
	idx := b.index(domain)
	if idx < 0 {
		return cluster.PendingJob{}, false
	}
	return b.jobs[idx].Clone(), true
}

// Schedule adds job, or raises the priority of an existing entry for the same
// domain when job's priority is better. It reports whether the backlog
// changed. Priorities are never lowered and existing settings are kept.
func (b *Backlog) Schedule(job cluster.PendingJob) bool {
	idx := b.index(job.Domain)
	if idx < 0 {
		b.insert(job.Clone())
		return true
	}
	existing := b.jobs[idx]
	if job.Priority >= existing.Priority {
		return false
	}
	b.jobs = slices.Delete(b.jobs, idx, idx+1)
	existing.Priority = job.Priority
	b.insert(existing)
	return true
}

// PopFront removes and returns the best-priority entry.
func (b *Backlog) PopFront() (cluster.PendingJob, bool) {
	if len(b.jobs) == 0 {
		return cluster.PendingJob{}, false
	}
	job := b.jobs[0]
	b.jobs = slices.Delete(b.jobs, 0, 1)
	return job, true
}

// Remove drops every entry whose domain is in domains and returns how many
// were dropped.
func (b *Backlog) Remove(domains map[string]struct{}) int {
	before := len(b.jobs)
	b.jobs = slices.DeleteFunc(b.jobs, func(job cluster.PendingJob) bool {
		_, ok := domains[job.Domain]
		return ok
	})
	return before - len(b.jobs)
}

// Snapshot returns a deep copy of the entries in backlog order.
func (b *Backlog) Snapshot() []cluster.PendingJob {
	out := make([]cluster.PendingJob, len(b.jobs))
	for i, job := range b.jobs {
		out[i] = job.Clone()
	}
	return out
}

func (b *Backlog) index(domain string) int {
	return slices.IndexFunc(b.jobs, func(job cluster.PendingJob) bool {
		return job.Domain == domain
	})
}

// insert places job after every entry with priority <= job.Priority.
func (b *Backlog) insert(job cluster.PendingJob) {
	pos, _ := slices.BinarySearchFunc(b.jobs, job.Priority, func(existing cluster.PendingJob, priority int) int {
		if existing.Priority <= priority {
			return -1
		}
		return 1
	})
	b.jobs = slices.Insert(b.jobs, pos, job)
}
