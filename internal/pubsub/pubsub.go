// Package pubsub carries agent progress events between worker processes and
// the websocket gateway over Redis channels. Delivery is at-most-once:
// subscribers only see events published while they are connected.
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sells-group/enrichment-service/internal/model"
)

// Publisher emits progress events. Publishing is best-effort: a broker
// failure must never fail the enrichment that produced the event.
type Publisher interface {
	PublishProgress(ctx context.Context, progress model.AgentProgress)
}

// Message is one raw event received from a pattern subscription.
type Message struct {
	Channel string
	Payload string
}

// Subscriber receives events matching a channel pattern.
type Subscriber interface {
	// SubscribePattern returns a channel of messages for every channel
	// matching pattern. The returned stop function closes the subscription
	// and drains the channel.
	SubscribePattern(ctx context.Context, pattern string) (<-chan Message, func(), error)
}

// Bus is the Redis-backed Publisher and Subscriber.
type Bus struct {
	client *redis.Client
}

// NewBus wraps a Redis client as an event bus.
func NewBus(client *redis.Client) *Bus {
	return &Bus{client: client}
}

// PublishProgress marshals and publishes progress onto the per-job channel.
func (b *Bus) PublishProgress(ctx context.Context, progress model.AgentProgress) {
	buf, err := json.Marshal(progress)
	if err != nil {
		zap.L().Warn("progress marshal failed",
			zap.String("job_id", progress.JobID), zap.Error(err))
		return
	}

	channel := model.ProgressTopic(progress.JobID)
	if err := b.client.Publish(ctx, channel, buf).Err(); err != nil {
		zap.L().Warn("progress publish failed",
			zap.String("channel", channel), zap.Error(err))
	}
}

// Subscribe opens a subscription on a single channel, typically the progress
// topic of one job.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	return b.pump(ctx, b.client.Subscribe(ctx, channel), channel)
}

// SubscribePattern opens a single pattern subscription. Messages arriving
// faster than the consumer reads are buffered up to the channel capacity,
// then dropped by the client.
func (b *Bus) SubscribePattern(ctx context.Context, pattern string) (<-chan Message, func(), error) {
	return b.pump(ctx, b.client.PSubscribe(ctx, pattern), pattern)
}

func (b *Bus) pump(ctx context.Context, sub *redis.PubSub, name string) (<-chan Message, func(), error) {
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan Message, 64)
	done := make(chan struct{})

	go func() {
		defer close(out)
		src := sub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	stop := func() {
		close(done)
		if err := sub.Close(); err != nil {
			zap.L().Warn("subscription close failed",
				zap.String("target", name), zap.Error(err))
		}
	}
	return out, stop, nil
}
