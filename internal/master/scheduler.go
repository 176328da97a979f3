package master

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
	"github.com/JakeFAU/crawl-cluster-master/internal/events"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultDialTimeout  = 5 * time.Second
	eventBuffer         = 256
)

// Config tunes the scheduler.
type Config struct {
	// Nodes maps node names to host:port addresses.
	Nodes map[string]string
	// PollInterval is the period of pollNodes. Defaults to 5s.
	PollInterval time.Duration
	// DefaultPriority is used by callers that do not pick a priority. Zero is
	// a valid priority; config supplies cluster.DefaultPriority when unset.
	DefaultPriority int
	// GlobalSettings override group defaults for every scheduled domain.
	GlobalSettings cluster.Settings
	// CallbackURL is the base URL workers use to reach this master.
	CallbackURL string
	// DialTimeout bounds each connection attempt. Defaults to 5s.
	DialTimeout time.Duration
}

type loadingEntry struct {
	job    cluster.PendingJob
	broker *Broker
}

// Scheduler is the cluster master. It owns the backlog, the loading set, the
// statistics and the node registry, and mutates them only on its event loop.
type Scheduler struct {
	cfg     Config
	store   cluster.StateStore
	groups  cluster.GroupSettings
	emitter events.Emitter
	clock   cluster.Clock
	logger  *zap.Logger

	backlog   *Backlog
	loading   map[string]loadingEntry
	stats     *statistics
	sup       *Supervisor
	startTime time.Time

	events   chan func()
	stopCh   chan struct{}
	loopDone chan struct{}
	loopCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	draining bool
	started  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// New creates a Scheduler. groups and emitter may be nil.
func New(
	dialer cluster.Dialer,
	store cluster.StateStore,
	groups cluster.GroupSettings,
	emitter events.Emitter,
	clock cluster.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:      cfg,
		store:    store,
		groups:   groups,
		emitter:  emitter,
		clock:    clock,
		logger:   logger.Named("scheduler"),
		backlog:  NewBacklog(nil),
		loading:  make(map[string]loadingEntry),
		stats:    newStatistics(),
		events:   make(chan func(), eventBuffer),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	s.sup = newSupervisor(s, dialer, cfg.Nodes, cfg.DialTimeout)
	return s
}

// DefaultPriority returns the priority applied when callers do not choose one.
func (s *Scheduler) DefaultPriority() int {
	return s.cfg.DefaultPriority
}

// OnStart restores the persisted backlog, starts the event loop and dials
// every configured node. A missing or unreadable snapshot leaves the backlog
// empty.
func (s *Scheduler) OnStart(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}
	pending, err := s.store.Load(ctx)
	switch {
	case errors.Is(err, cluster.ErrNotFound):
		s.logger.Info("no saved backlog, starting empty")
	case err != nil:
		s.logger.Warn("could not load saved backlog, starting empty", zap.Error(err))
	default:
		s.backlog = NewBacklog(pending)
		s.logger.Info("backlog restored", zap.Int("pending", s.backlog.Len()))
	}
	s.startTime = s.clock.Now().UTC()
	s.loopCtx, s.cancel = context.WithCancel(context.Background())
	go s.loop()
	s.post(s.sup.ConnectAll)
	return nil
}

// OnStop stops the event loop, waits for in-flight calls to unwind, closes
// every node channel and saves the backlog.
func (s *Scheduler) OnStop(ctx context.Context) error {
	if !s.started.Load() {
		return nil
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.loopDone
		s.cancel()
		s.inflight.Wait()
		s.drain()

		s.sup.closeAll()
		pending := s.backlog.Snapshot()
		if err := s.store.Save(ctx, pending); err != nil {
			s.stopErr = fmt.Errorf("save backlog: %w", err)
			return
		}
		s.logger.Info("backlog saved", zap.Int("pending", len(pending)))
	})
	return s.stopErr
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case fn := <-s.events:
			fn()
		case <-ticker.C:
			s.pollNodes()
		}
	}
}

// post queues fn for the loop. It reports false when the loop has exited,
// in which case fn never runs. Loop handlers must not call post.
func (s *Scheduler) post(fn func()) bool {
	select {
	case <-s.loopDone:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.loopDone:
		return false
	}
}

// drain runs whatever is still buffered once the loop and every in-flight
// call have finished, so late results reach the backlog before it is saved.
// Nothing is spawned while draining.
func (s *Scheduler) drain() {
	s.draining = true
	for {
		select {
		case fn := <-s.events:
			fn()
		default:
			return
		}
	}
}

// spawn runs a remote call off the loop. Only called from the loop.
func (s *Scheduler) spawn(fn func(ctx context.Context)) {
	if s.draining {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		fn(s.loopCtx)
	}()
}

// do runs fn on the loop and waits for it to finish.
func (s *Scheduler) do(ctx context.Context, fn func()) error {
	if !s.started.Load() {
		return cluster.ErrStopped
	}
	select {
	case <-s.loopDone:
		return cluster.ErrStopped
	default:
	}
	done := make(chan struct{})
	task := func() {
		defer close(done)
		if s.draining {
			return
		}
		fn()
	}
	select {
	case s.events <- task:
	case <-s.loopDone:
		return cluster.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.loopDone:
		select {
		case <-done:
			return nil
		default:
			return cluster.ErrStopped
		}
	}
}

func (s *Scheduler) emit(evt events.Event) {
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now().UTC()
	}
	s.emitter.Emit(evt)
}

// callbackFor builds the report URL for a node. Any query on the configured
// base, such as an api_key, is carried over.
func (s *Scheduler) callbackFor(name string) string {
	u, err := url.Parse(s.cfg.CallbackURL)
	if err != nil {
		return strings.TrimSuffix(s.cfg.CallbackURL, "/") + "/v1/nodes/" + url.PathEscape(name) + "/report"
	}
	return u.JoinPath("v1", "nodes", url.PathEscape(name), "report").String()
}

// running maps every domain an alive node reports to that node.
func (s *Scheduler) running() map[string]string {
	out := make(map[string]string)
	for name, b := range s.sup.nodes {
		if !b.Alive() {
			continue
		}
		for _, job := range b.status.Running {
			out[job.Domain] = name
		}
	}
	return out
}

func (s *Scheduler) isLoading(domain string) bool {
	_, ok := s.loading[domain]
	return ok
}

func (s *Scheduler) addLoading(job cluster.PendingJob, b *Broker) {
	s.loading[job.Domain] = loadingEntry{job: job, broker: b}
}

// releaseLoading drops domain from the loading set if b owns it.
func (s *Scheduler) releaseLoading(domain string, b *Broker) bool {
	entry, ok := s.loading[domain]
	if !ok || entry.broker != b {
		return false
	}
	delete(s.loading, domain)
	return true
}

// requeueLoadingOf returns every domain still loading on b to the backlog,
// demoted one step like any other dispatch lost to a channel failure.
func (s *Scheduler) requeueLoadingOf(b *Broker) {
	domains := slices.Sorted(maps.Keys(s.loading))
	for _, domain := range domains {
		entry := s.loading[domain]
		if entry.broker != b {
			continue
		}
		delete(s.loading, domain)
		s.requeue(b.name, entry.job, cluster.Demote(entry.job.Priority), "node disconnected")
	}
}

// requeue returns a popped job to the backlog at priority.
func (s *Scheduler) requeue(node string, job cluster.PendingJob, priority int, reason string) {
	job.Priority = priority
	s.backlog.Schedule(job)
	s.emit(events.Event{
		Stage:    events.StageRejected,
		Node:     node,
		Domain:   job.Domain,
		Priority: priority,
		Reason:   reason,
	})
}

// pollNodes refreshes every live broker, redials the rest and flags running
// domains that no live node reports anymore.
func (s *Scheduler) pollNodes() {
	alive := 0
	for _, name := range s.sup.names() {
		if b, ok := s.sup.nodes[name]; ok && b.Alive() {
			alive++
			b.UpdateStatus()
			continue
		}
		s.sup.Connect(name)
	}
	for _, domain := range s.stats.reconcile(s.running()) {
		s.logger.Warn("domain lost", zap.String("domain", domain), zap.Int("lost_count", s.stats.lostCount[domain]))
		s.emit(events.Event{Stage: events.StageLost, Domain: domain})
	}
	s.emit(events.Event{
		Stage:      events.StagePoll,
		Pending:    s.backlog.Len(),
		Loading:    len(s.loading),
		AliveNodes: alive,
	})
}

// Schedule queues domains at priority. Domains already pending only move when
// priority is better than their current one. New entries get group defaults,
// then global settings, then settings.
func (s *Scheduler) Schedule(ctx context.Context, domains []string, settings cluster.Settings, priority int) error {
	return s.do(ctx, func() {
		for _, domain := range domains {
			if domain == "" {
				continue
			}
			if existing, ok := s.backlog.Get(domain); ok {
				if s.backlog.Schedule(cluster.PendingJob{Domain: domain, Priority: priority}) {
					s.logger.Debug("domain priority raised",
						zap.String("domain", domain), zap.Int("from", existing.Priority), zap.Int("priority", priority))
				}
				continue
			}
			var group cluster.Settings
			if s.groups != nil {
				group = s.groups.For(domain)
			}
			job := cluster.PendingJob{
				Domain:   domain,
				Settings: MergeSettings(group, s.cfg.GlobalSettings, settings),
				Priority: priority,
			}
			s.backlog.Schedule(job)
			s.logger.Debug("domain scheduled", zap.String("domain", domain), zap.Int("priority", priority))
			s.emit(events.Event{Stage: events.StageScheduled, Domain: domain, Priority: priority})
		}
	})
}

// Stop asks the owning node to stop each domain that is currently running.
func (s *Scheduler) Stop(ctx context.Context, domains []string) error {
	return s.do(ctx, func() {
		s.stopRunning(domains)
	})
}

func (s *Scheduler) stopRunning(domains []string) {
	running := s.running()
	for _, domain := range domains {
		name, ok := running[domain]
		if !ok {
			continue
		}
		if b, ok := s.sup.nodes[name]; ok {
			b.Stop(domain)
		}
	}
}

// Remove drops pending entries for domains and returns how many were removed.
func (s *Scheduler) Remove(ctx context.Context, domains []string) (int, error) {
	var removed int
	err := s.do(ctx, func() {
		removed = s.backlog.Remove(toSet(domains))
	})
	return removed, err
}

// Discard removes domains from the backlog and then stops their runs.
func (s *Scheduler) Discard(ctx context.Context, domains []string) (int, error) {
	var removed int
	err := s.do(ctx, func() {
		removed = s.backlog.Remove(toSet(domains))
		s.stopRunning(domains)
	})
	return removed, err
}

// Running returns the live domain to node mapping.
func (s *Scheduler) Running(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := s.do(ctx, func() {
		out = s.running()
	})
	return out, err
}

// Loading returns the dispatched but unacknowledged domains and their nodes.
func (s *Scheduler) Loading(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := s.do(ctx, func() {
		out = make(map[string]string, len(s.loading))
		for domain, entry := range s.loading {
			out[domain] = entry.broker.Name()
		}
	})
	return out, err
}

// Pending returns the backlog in dispatch order.
func (s *Scheduler) Pending(ctx context.Context, verbosity int) ([]PendingView, error) {
	var out []PendingView
	err := s.do(ctx, func() {
		out = pendingViews(s.backlog.Snapshot(), verbosity)
	})
	return out, err
}

// Nodes returns the status of every configured node keyed by name.
func (s *Scheduler) Nodes(ctx context.Context, verbosity int) (map[string]NodeView, error) {
	var out map[string]NodeView
	err := s.do(ctx, func() {
		if verbosity <= VerbosityNone {
			return
		}
		out = make(map[string]NodeView, len(s.sup.addrs))
		for _, name := range s.sup.names() {
			_, off := s.sup.disabled[name]
			out[name] = nodeView(name, s.sup.addrs[name], !off, s.sup.nodes[name], verbosity)
		}
	})
	return out, err
}

// Statistics returns a copy of the cluster statistics.
func (s *Scheduler) Statistics(ctx context.Context) (StatisticsView, error) {
	var out StatisticsView
	err := s.do(ctx, func() {
		out = s.stats.view(s.startTime)
	})
	return out, err
}

// EnableNode lets name receive new work again.
func (s *Scheduler) EnableNode(ctx context.Context, name string) error {
	return s.setAvailable(ctx, name, true)
}

// DisableNode stops new dispatches to name. Running domains are untouched.
func (s *Scheduler) DisableNode(ctx context.Context, name string) error {
	return s.setAvailable(ctx, name, false)
}

func (s *Scheduler) setAvailable(ctx context.Context, name string, available bool) error {
	var opErr error
	if err := s.do(ctx, func() {
		opErr = s.sup.setAvailable(name, available)
	}); err != nil {
		return err
	}
	if opErr == nil {
		s.logger.Info("node availability changed", zap.String("node", name), zap.Bool("available", available))
	}
	return opErr
}

// AddNode adds name to the configured nodes, or points it at a new address,
// and dials it right away.
func (s *Scheduler) AddNode(ctx context.Context, name, addr string) error {
	var opErr error
	if err := s.do(ctx, func() {
		opErr = s.sup.add(name, addr)
	}); err != nil {
		return err
	}
	return opErr
}

// RemoveNode forgets name. It fails with ErrNodeBusy while the node reports
// running domains or owns loading ones.
func (s *Scheduler) RemoveNode(ctx context.Context, name string) error {
	var opErr error
	if err := s.do(ctx, func() {
		if _, ok := s.sup.addrs[name]; !ok {
			opErr = fmt.Errorf("node %s: %w", name, cluster.ErrUnknownNode)
			return
		}
		if b, ok := s.sup.nodes[name]; ok {
			if (b.Alive() && len(b.status.Running) > 0) || s.ownsLoading(b) {
				opErr = fmt.Errorf("node %s: %w", name, cluster.ErrNodeBusy)
				return
			}
		}
		s.sup.remove(name)
		s.emit(events.Event{Stage: events.StageNodeDown, Node: name, Reason: "removed"})
	}); err != nil {
		return err
	}
	return opErr
}

func (s *Scheduler) ownsLoading(b *Broker) bool {
	for _, entry := range s.loading {
		if entry.broker == b {
			return true
		}
	}
	return false
}

// Report applies a worker's progress report.
func (s *Scheduler) Report(ctx context.Context, name string, report cluster.Report) error {
	if err := report.Validate(); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	var opErr error
	if err := s.do(ctx, func() {
		b, ok := s.sup.nodes[name]
		if !ok {
			opErr = fmt.Errorf("node %s: %w", name, cluster.ErrUnknownNode)
			return
		}
		b.handleReport(report)
	}); err != nil {
		return err
	}
	return opErr
}

// PollNodes runs one poll cycle immediately.
func (s *Scheduler) PollNodes(ctx context.Context) error {
	return s.do(ctx, s.pollNodes)
}

func toSet(domains []string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		set[domain] = struct{}{}
	}
	return set
}
