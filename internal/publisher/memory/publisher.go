// Package memory contains an in-memory event publisher for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher records published event payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	failWith error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err; nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return "", p.failWith
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Stages returns the "stage" field of every map payload published to topic,
// in publish order.
func (p *Publisher) Stages(topic string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var stages []string
	for _, msg := range p.messages {
		if msg.Topic != topic {
			continue
		}
		if payload, ok := msg.Payload.(map[string]any); ok {
			if stage, ok := payload["stage"].(string); ok {
				stages = append(stages, stage)
			}
		}
	}
	return stages
}
