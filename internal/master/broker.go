package master

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
	"github.com/JakeFAU/crawl-cluster-master/internal/events"
)

// Broker caches one node's status and turns status refreshes into dispatch
// decisions. Every method runs on the scheduler loop; remote calls are
// spawned and their completions posted back.
type Broker struct {
	name      string
	gen       uint64
	channel   cluster.NodeChannel
	master    *Scheduler
	logger    *zap.Logger
	alive     bool
	available bool
	detached  bool
	status    cluster.NodeStatus
}

func newBroker(name string, gen uint64, channel cluster.NodeChannel, master *Scheduler) *Broker {
	return &Broker{
		name:      name,
		gen:       gen,
		channel:   channel,
		master:    master,
		logger:    master.logger.Named("broker").With(zap.String("node", name)),
		available: true,
	}
}

// Name returns the node name.
func (b *Broker) Name() string {
	return b.name
}

// Alive reports whether the last call to the node succeeded.
func (b *Broker) Alive() bool {
	return b.alive
}

// start pushes the master callback address to the worker. The response
// carries a status snapshot that primes the cache.
func (b *Broker) start(callbackURL string) {
	channel := b.channel
	b.master.spawn(func(ctx context.Context) {
		status, err := channel.SetMaster(ctx, callbackURL)
		b.master.post(func() {
			b.onStatus(status, err)
		})
	})
}

// UpdateStatus requests a status refresh.
func (b *Broker) UpdateStatus() {
	channel := b.channel
	b.master.spawn(func(ctx context.Context) {
		status, err := channel.Status(ctx)
		b.master.post(func() {
			b.onStatus(status, err)
		})
	})
}

// Stop asks the node to stop domain. Failures only degrade the node.
func (b *Broker) Stop(domain string) {
	channel := b.channel
	b.logger.Info("stopping domain", zap.String("domain", domain))
	b.master.spawn(func(ctx context.Context) {
		err := channel.Stop(ctx, domain)
		if err == nil {
			return
		}
		b.master.post(func() {
			b.setDead(err)
		})
	})
}

func (b *Broker) onStatus(status cluster.NodeStatus, err error) {
	if b.detached {
		return
	}
	if err != nil {
		b.setDead(err)
		return
	}
	b.setStatus(status)
	b.maybeDispatch()
}

func (b *Broker) setStatus(status cluster.NodeStatus) {
	b.alive = true
	b.status = status
}

func (b *Broker) setDead(err error) {
	if b.alive {
		b.logger.Error("lost connection to node", zap.Error(err))
	}
	b.alive = false
	b.status = cluster.NodeStatus{}
}

// maybeDispatch pops at most one domain per refresh so that load spreads over
// the nodes as they report in.
func (b *Broker) maybeDispatch() {
	m := b.master
	if b.detached || !b.alive || !b.available || b.status.FreeSlots() <= 0 || m.backlog.Len() == 0 {
		return
	}
	job, _ := m.backlog.PopFront()
	if _, running := m.running()[job.Domain]; running || m.isLoading(job.Domain) {
		m.requeue(b.name, job, job.Priority, "already running or loading")
		return
	}
	b.run(job)
}

func (b *Broker) run(job cluster.PendingJob) {
	m := b.master
	m.addLoading(job, b)
	m.emit(events.Event{Stage: events.StageDispatched, Node: b.name, Domain: job.Domain, Priority: job.Priority})
	b.logger.Debug("dispatching domain", zap.String("domain", job.Domain), zap.Int("priority", job.Priority))

	channel := b.channel
	settings := job.Settings.Clone()
	m.spawn(func(ctx context.Context) {
		code, err := channel.Run(ctx, job.Domain, settings)
		m.post(func() {
			b.onRun(job, code, err)
		})
	})
}

func (b *Broker) onRun(job cluster.PendingJob, code cluster.ResponseCode, err error) {
	m := b.master
	if err != nil {
		b.setDead(err)
	} else if code == cluster.ResponseOK {
		return
	}
	// Loading entries of a detached broker were already returned to the
	// backlog.
	if !m.releaseLoading(job.Domain, b) {
		return
	}
	switch {
	case err != nil:
		m.requeue(b.name, job, cluster.Demote(job.Priority), "connection lost")
		b.logger.Warn("domain rescheduled: lost connection to node mid-dispatch",
			zap.String("domain", job.Domain), zap.Error(err))
	case code == cluster.ResponseDomainAlreadyRunning:
		m.requeue(b.name, job, job.Priority, string(code))
		b.logger.Warn("domain rescheduled: already running on node", zap.String("domain", job.Domain))
	default:
		m.requeue(b.name, job, cluster.Demote(job.Priority), string(code))
		b.logger.Warn("domain rescheduled: node rejected dispatch",
			zap.String("domain", job.Domain), zap.String("response_code", string(code)))
	}
}

// handleReport applies an asynchronous progress report from the worker.
func (b *Broker) handleReport(report cluster.Report) {
	m := b.master
	b.setStatus(report.Status)
	switch report.State {
	case cluster.DomainRunning:
		if m.releaseLoading(report.Domain, b) {
			m.stats.markRunning(report.Domain)
			m.emit(events.Event{Stage: events.StageRunning, Node: b.name, Domain: report.Domain})
		}
	case cluster.DomainScraped:
		m.stats.markScraped(report.Domain)
		m.emit(events.Event{Stage: events.StageScraped, Node: b.name, Domain: report.Domain})
	}
	b.maybeDispatch()
}

// close releases the channel of a broker that left the registry.
func (b *Broker) close() {
	b.detached = true
	b.alive = false
	if err := b.channel.Close(); err != nil {
		b.logger.Debug("close node channel", zap.Error(err))
	}
}
