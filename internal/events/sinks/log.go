package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-cluster-master/internal/events"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("event_id", evt.ID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.Node != "" {
			fields = append(fields, zap.String("node", evt.Node))
		}
		if evt.Domain != "" {
			fields = append(fields, zap.String("domain", evt.Domain), zap.Int("priority", evt.Priority))
		}
		if evt.Reason != "" {
			fields = append(fields, zap.String("reason", evt.Reason))
		}
		if evt.Stage == events.StagePoll {
			fields = append(fields,
				zap.Int("pending", evt.Pending),
				zap.Int("loading", evt.Loading),
				zap.Int("alive_nodes", evt.AliveNodes),
			)
			s.logger.Debug("cluster event", fields...)
			continue
		}
		s.logger.Info("cluster event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
