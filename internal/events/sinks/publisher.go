package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-cluster-master/internal/events"
)

// Publisher pushes event payloads to a topic (Pub/Sub or in-memory).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublisherSink forwards job-level events to a Publisher. Poll gauges are not
// published.
type PublisherSink struct {
	publisher Publisher
	topic     string
	closeFn   func() error
}

// NewPublisherSink builds a sink publishing to topic. closeFn, when non-nil,
// is invoked on Close to release the underlying client.
func NewPublisherSink(publisher Publisher, topic string, closeFn func() error) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic, closeFn: closeFn}
}

// Consume publishes each event; the first failure aborts the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage == events.StagePoll {
			continue
		}
		if _, err := s.publisher.Publish(ctx, s.topic, evt.Payload()); err != nil {
			return fmt.Errorf("publish %s event: %w", evt.Stage, err)
		}
	}
	return nil
}

// Close releases the publisher client when a close function was supplied.
func (s *PublisherSink) Close(context.Context) error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	if err := s.closeFn(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
