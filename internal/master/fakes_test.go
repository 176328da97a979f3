package master

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
	"github.com/JakeFAU/crawl-cluster-master/internal/events"
)

// fakeChannel mimics the node transport: any failed call fires the disconnect
// callback once.
type fakeChannel struct {
	mu           sync.Mutex
	status       cluster.NodeStatus
	statusErr    error
	runCode      cluster.ResponseCode
	runErr       error
	runs         []string
	runSettings  []cluster.Settings
	stops        []string
	masters      []string
	closed       bool
	onDisconnect func(error)
	fired        bool
}

func newFakeChannel(maxProcesses int, running ...string) *fakeChannel {
	ch := &fakeChannel{runCode: cluster.ResponseOK}
	ch.setStatus(maxProcesses, running...)
	return ch
}

func (c *fakeChannel) setStatus(maxProcesses int, running ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	jobs := make([]cluster.RunningJob, 0, len(running))
	for _, domain := range running {
		jobs = append(jobs, cluster.RunningJob{Domain: domain, Settings: cluster.Settings{"secret": "x"}})
	}
	c.status = cluster.NodeStatus{Running: jobs, MaxProcesses: maxProcesses, LoadAverage: []float64{0.1, 0.2, 0.3}}
}

func (c *fakeChannel) fail(err error) error {
	if !c.fired && c.onDisconnect != nil {
		c.fired = true
		c.onDisconnect(err)
	}
	return fmt.Errorf("%w: %v", cluster.ErrDisconnected, err)
}

func (c *fakeChannel) Status(context.Context) (cluster.NodeStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusErr != nil {
		return cluster.NodeStatus{}, c.fail(c.statusErr)
	}
	return c.status, nil
}

func (c *fakeChannel) SetMaster(ctx context.Context, callbackURL string) (cluster.NodeStatus, error) {
	c.mu.Lock()
	c.masters = append(c.masters, callbackURL)
	c.mu.Unlock()
	return c.Status(ctx)
}

func (c *fakeChannel) Run(_ context.Context, domain string, settings cluster.Settings) (cluster.ResponseCode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, domain)
	c.runSettings = append(c.runSettings, settings)
	if c.runErr != nil {
		return "", c.fail(c.runErr)
	}
	return c.runCode, nil
}

func (c *fakeChannel) Stop(_ context.Context, domain string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops = append(c.stops, domain)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// disconnect simulates the connection dropping.
func (c *fakeChannel) disconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.fail(err)
}

func (c *fakeChannel) runCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.runs)
}

func (c *fakeChannel) stopCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.stops)
}

func (c *fakeChannel) masterCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.masters)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) set(fn func(c *fakeChannel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

type fakeDialer struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	failing  map[string]error
	dials    map[string]int
	holds    map[string]chan struct{}
}

func newFakeDialer(channels map[string]*fakeChannel) *fakeDialer {
	return &fakeDialer{
		channels: channels,
		failing:  make(map[string]error),
		dials:    make(map[string]int),
		holds:    make(map[string]chan struct{}),
	}
}

func (d *fakeDialer) Dial(_ context.Context, name, _ string, onDisconnect func(error)) (cluster.NodeChannel, error) {
	d.mu.Lock()
	d.dials[name]++
	hold := d.holds[name]
	d.mu.Unlock()
	if hold != nil {
		<-hold
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failing[name]; err != nil {
		return nil, fmt.Errorf("%w: %v", cluster.ErrDisconnected, err)
	}
	ch, ok := d.channels[name]
	if !ok {
		return nil, errors.New("no such node")
	}
	ch.set(func(c *fakeChannel) {
		c.onDisconnect = onDisconnect
		c.fired = false
		c.closed = false
	})
	return ch, nil
}

func (d *fakeDialer) dialCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[name]
}

// hold blocks dials of name until the returned func is called.
func (d *fakeDialer) hold(name string) func() {
	gate := make(chan struct{})
	d.mu.Lock()
	d.holds[name] = gate
	d.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (d *fakeDialer) setFailing(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failing, name)
		return
	}
	d.failing[name] = err
}

type fakeStore struct {
	mu      sync.Mutex
	pending []cluster.PendingJob
	loadErr error
	saveErr error
	saves   int
}

func (s *fakeStore) Load(context.Context) ([]cluster.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.pending == nil {
		return nil, cluster.ErrNotFound
	}
	return slices.Clone(s.pending), nil
}

func (s *fakeStore) Save(_ context.Context, pending []cluster.PendingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.pending = slices.Clone(pending)
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time {
	return c.now
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []events.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}
