package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/stockflow-backend/pkg/db/models"
	"github.com/angelmondragon/stockflow-backend/pkg/outbox/registry"
)

// topicPublishers returns the publisher for a topic, or nil if none is configured.
type topicPublishers func(topic string) messagePublisher

type messagePublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishFuture
}

type publishFuture interface {
	Get(context.Context) (string, error)
}

type publisherSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// gcpTopics adapts the Pub/Sub client to topicPublishers.
func gcpTopics(src publisherSource) topicPublishers {
	return func(topic string) messagePublisher {
		p := src.Publisher(topic)
		if p == nil {
			return nil
		}
		return gcpPublisher{p: p}
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishFuture {
	return g.p.Publish(ctx, msg)
}

// publish sends the stored envelope unchanged and waits for the server ack.
func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.topics(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	future := pub.Publish(ctx, newMessage(event, resolved))
	if future == nil {
		return errors.New("publisher returned no result")
	}
	_, err := future.Get(ctx)
	return err
}

func newMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID,
			"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}
}
