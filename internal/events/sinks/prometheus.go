package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-cluster-master/internal/events"
)

// PrometheusSink exports scheduling activity via Prometheus.
type PrometheusSink struct {
	events     *prometheus.CounterVec
	rejections *prometheus.CounterVec
	lost       *prometheus.CounterVec
	pending    prometheus.Gauge
	loading    prometheus.Gauge
	aliveNodes prometheus.Gauge
}

// NewPrometheusSink registers the collectors against reg (default registerer
// when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cluster_master_events_total",
			Help: "Scheduling events partitioned by stage.",
		}, []string{"stage"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cluster_master_dispatch_rejections_total",
			Help: "Dispatches that were rejected or lost, partitioned by reason.",
		}, []string{"reason"}),
		lost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cluster_master_lost_domains_total",
			Help: "Domains that vanished from every node without a scraped report.",
		}, []string{"domain"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cluster_master_pending_domains",
			Help: "Domains waiting in the backlog at the last poll.",
		}),
		loading: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cluster_master_loading_domains",
			Help: "Domains dispatched but not yet acknowledged at the last poll.",
		}),
		aliveNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cluster_master_alive_nodes",
			Help: "Registered nodes that answered their last status call.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.rejections,
		s.lost,
		s.pending,
		s.loading,
		s.aliveNodes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Stage)).Inc()
		switch evt.Stage {
		case events.StageRejected:
			reason := evt.Reason
			if reason == "" {
				reason = "unknown"
			}
			s.rejections.WithLabelValues(reason).Inc()
		case events.StageLost:
			s.lost.WithLabelValues(evt.Domain).Inc()
		case events.StagePoll:
			s.pending.Set(float64(evt.Pending))
			s.loading.Set(float64(evt.Loading))
			s.aliveNodes.Set(float64(evt.AliveNodes))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
