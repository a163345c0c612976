package redis

import (
	"context"
	"fmt"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/domain"
	"trivia-sync-service/internal/infra/memory"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultChannelPrefix namespaces the per-session pub/sub channels.
const DefaultChannelPrefix = "quiz:changes:"

// Bus carries change events between service instances over Redis pub/sub.
// Events are published on prefix+topic. A single pattern subscription per instance
// feeds a local memory.Bus, which owns the per-subscriber mailboxes and the
// synchronous unsubscribe.
type Bus struct {
	client *redis.Client
	prefix string
	log    logrus.FieldLogger

	pubsub *redis.PubSub
	local  *memory.Bus
	done   chan struct{}
}

var _ app.Bus = (*Bus)(nil)

// NewBus subscribes to prefix* and returns once Redis confirmed the subscription.
func NewBus(ctx context.Context, client *redis.Client, prefix string, log logrus.FieldLogger) (*Bus, error) {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	pubsub := client.PSubscribe(ctx, prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: psubscribe %s*: %v", domain.ErrStoreUnavailable, prefix, err)
	}

	b := &Bus{
		client: client,
		prefix: prefix,
		log:    log,
		pubsub: pubsub,
		local:  memory.NewBus(),
		done:   make(chan struct{}),
	}
	go b.receive()
	return b, nil
}

func (b *Bus) Publish(ctx context.Context, event domain.ChangeEvent) error {
	payload, err := event.Encode()
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+event.Topic, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string, handler func(domain.ChangeEvent)) (app.Subscription, error) {
	return b.local.Subscribe(ctx, topic, handler)
}

// Close drops the Redis subscription and waits for the receive loop to drain.
func (b *Bus) Close() error {
	err := b.pubsub.Close()
	<-b.done
	return err
}

func (b *Bus) receive() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		ev, err := domain.DecodeChangeEvent([]byte(msg.Payload))
		if err != nil {
			b.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed change event")
			continue
		}
		_ = b.local.Publish(context.Background(), ev)
	}
}
