package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"portal-messaging/pkg/constants"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/metrics"
)

// RedisBridge extends a Hub across service instances through Redis Pub/Sub.
// Local subscribers are served by the hub directly; events are also
// published on chat:<topic> and events from other instances are replayed
// into the local hub.
type RedisBridge struct {
	client *redis.Client
	hub    *Hub
	origin string
}

// NewRedisBridge creates a bridge with a random instance origin
func NewRedisBridge(client *redis.Client, hub *Hub) *RedisBridge {
	return &RedisBridge{
		client: client,
		hub:    hub,
		origin: uuid.NewString(),
	}
}

// Origin identifies this instance on the wire
func (b *RedisBridge) Origin() string {
	return b.origin
}

// Subscribe registers a local subscription
func (b *RedisBridge) Subscribe(topic string, h Handler) *Subscription {
	return b.hub.Subscribe(topic, h)
}

// Publish delivers locally, then forwards to Redis.
// A Redis failure is returned but local delivery has already happened.
func (b *RedisBridge) Publish(ctx context.Context, ev Event) error {
	ev.Origin = b.origin
	if err := b.hub.Publish(ctx, ev); err != nil {
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, constants.RedisChannelPrefix+ev.Topic, payload).Err(); err != nil {
		metrics.FanoutBridgePublishTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}
	metrics.FanoutBridgePublishTotal.WithLabelValues("success").Inc()
	return nil
}

// Run relays remote events into the hub until ctx is cancelled
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, constants.RedisChannelPrefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to redis: %w", err)
	}

	ch := pubsub.Channel()
	logger.Info("Fan-out Redis bridge started", zap.String("origin", b.origin))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(ctx, msg)
		}
	}
}

func (b *RedisBridge) relay(ctx context.Context, msg *redis.Message) {
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		logger.Warn("Failed to unmarshal fan-out event",
			zap.String("channel", msg.Channel),
			zap.Error(err))
		return
	}
	if ev.Origin == b.origin {
		return
	}
	if ev.Topic == "" {
		ev.Topic = strings.TrimPrefix(msg.Channel, constants.RedisChannelPrefix)
	}
	_ = b.hub.Publish(ctx, ev)
}
