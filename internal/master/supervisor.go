package master

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
	"github.com/JakeFAU/crawl-cluster-master/internal/events"
)

// Supervisor owns the node registry: it dials configured addresses, installs a
// fresh Broker for every successful connection and drops the registry entry
// when that connection fails. Like the rest of the package it is only touched
// from the scheduler loop.
type Supervisor struct {
	master      *Scheduler
	dialer      cluster.Dialer
	dialTimeout time.Duration
	logger      *zap.Logger

	addrs      map[string]string
	nodes      map[string]*Broker
	connecting map[string]struct{}
	disabled   map[string]struct{}
	gens       map[string]uint64
}

func newSupervisor(master *Scheduler, dialer cluster.Dialer, addrs map[string]string, dialTimeout time.Duration) *Supervisor {
	return &Supervisor{
		master:      master,
		dialer:      dialer,
		dialTimeout: dialTimeout,
		logger:      master.logger.Named("supervisor"),
		addrs:       maps.Clone(addrs),
		nodes:       make(map[string]*Broker),
		connecting:  make(map[string]struct{}),
		disabled:    make(map[string]struct{}),
		gens:        make(map[string]uint64),
	}
}

// names returns the configured node names in a stable order.
func (s *Supervisor) names() []string {
	return slices.Sorted(maps.Keys(s.addrs))
}

// ConnectAll dials every configured node.
func (s *Supervisor) ConnectAll() {
	for _, name := range s.names() {
		s.Connect(name)
	}
}

// Connect dials name unless a dial is already in flight. The outcome is
// handled on the loop by connected.
func (s *Supervisor) Connect(name string) {
	addr, ok := s.addrs[name]
	if !ok {
		return
	}
	if _, busy := s.connecting[name]; busy {
		return
	}
	s.gens[name]++
	gen := s.gens[name]
	s.connecting[name] = struct{}{}

	m := s.master
	dialer, timeout := s.dialer, s.dialTimeout
	m.spawn(func(ctx context.Context) {
		dialCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		channel, err := dialer.Dial(dialCtx, name, addr, func(cause error) {
			m.post(func() {
				s.disconnected(name, gen, cause)
			})
		})
		delivered := m.post(func() {
			s.connected(name, addr, gen, channel, err)
		})
		if !delivered && channel != nil {
			_ = channel.Close()
		}
	})
}

func (s *Supervisor) connected(name, addr string, gen uint64, channel cluster.NodeChannel, err error) {
	if s.gens[name] == gen {
		delete(s.connecting, name)
	}
	if err != nil {
		s.logger.Error("could not connect to node", zap.String("node", name), zap.String("addr", addr), zap.Error(err))
		return
	}
	if s.gens[name] != gen || s.addrs[name] != addr || s.master.draining {
		_ = channel.Close()
		return
	}
	if old := s.nodes[name]; old != nil {
		s.detach(old)
	}
	b := newBroker(name, gen, channel, s.master)
	_, off := s.disabled[name]
	b.available = !off
	s.nodes[name] = b
	s.logger.Info("connected to node", zap.String("node", name), zap.String("addr", addr))
	s.master.emit(events.Event{Stage: events.StageNodeUp, Node: name})
	b.start(s.master.callbackFor(name))
}

// disconnected removes the registry entry of a failed channel. Callbacks from
// channels that were already replaced are ignored.
func (s *Supervisor) disconnected(name string, gen uint64, cause error) {
	b := s.nodes[name]
	if b == nil || b.gen != gen {
		return
	}
	b.setDead(cause)
	s.detach(b)
	s.logger.Warn("node removed from registry", zap.String("node", name), zap.Error(cause))
	s.master.emit(events.Event{Stage: events.StageNodeDown, Node: name, Reason: errText(cause)})
}

// detach unregisters b, closes its channel and returns its loading domains
// to the backlog.
func (s *Supervisor) detach(b *Broker) {
	if s.nodes[b.name] == b {
		delete(s.nodes, b.name)
	}
	b.close()
	s.master.requeueLoadingOf(b)
}

// add registers or re-points name and dials it.
func (s *Supervisor) add(name, addr string) error {
	if name == "" {
		return errors.New("node name is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("node %s: invalid address %q: %w", name, addr, err)
	}
	if current, ok := s.addrs[name]; ok && current == addr {
		if _, registered := s.nodes[name]; registered {
			return nil
		}
	}
	s.addrs[name] = addr
	if old := s.nodes[name]; old != nil {
		s.detach(old)
	}
	delete(s.connecting, name)
	s.logger.Info("node added", zap.String("node", name), zap.String("addr", addr))
	s.Connect(name)
	return nil
}

// remove forgets name entirely so that polls no longer reconnect it.
func (s *Supervisor) remove(name string) {
	delete(s.addrs, name)
	delete(s.connecting, name)
	delete(s.disabled, name)
	s.gens[name]++
	if b := s.nodes[name]; b != nil {
		s.detach(b)
	}
	s.logger.Info("node removed", zap.String("node", name))
}

func (s *Supervisor) setAvailable(name string, available bool) error {
	if _, ok := s.addrs[name]; !ok {
		return fmt.Errorf("node %s: %w", name, cluster.ErrUnknownNode)
	}
	if available {
		delete(s.disabled, name)
	} else {
		s.disabled[name] = struct{}{}
	}
	if b := s.nodes[name]; b != nil {
		b.available = available
	}
	return nil
}

// closeAll closes every channel and returns domains still loading to the
// backlog.
func (s *Supervisor) closeAll() {
	for _, name := range slices.Sorted(maps.Keys(s.nodes)) {
		s.detach(s.nodes[name])
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
