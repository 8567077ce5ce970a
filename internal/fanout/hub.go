// Package fanout is the push channel between the message engine and its
// subscribers. Publishers emit change events per topic; every subscription
// receives them on its own goroutine, one at a time.
package fanout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"portal-messaging/pkg/constants"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/metrics"
)

// Event types
const (
	EventMessageCreated      = "message.created"
	EventMessageRead         = "message.read"
	EventMessageEdited       = "message.edited"
	EventConversationUpdated = "conversation.updated"
	EventPresenceChanged     = "presence.changed"
	EventSubscribed          = "subscribed"
)

// Event is a change notification on a topic
type Event struct {
	Topic          string    `json:"topic"`
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`
	At             time.Time `json:"at"`
	Origin         string    `json:"origin,omitempty"`
}

// Handler consumes events for one subscription
type Handler func(Event)

// Publisher emits events
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Broker publishes and subscribes
type Broker interface {
	Publisher
	Subscribe(topic string, h Handler) *Subscription
}

// ConversationTopic returns the topic for a conversation
func ConversationTopic(conversationID string) string {
	return constants.TopicPrefix + conversationID
}

// Hub is the in-process broker
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewHub creates a hub whose subscriptions queue up to buffer events
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = constants.SubscriptionBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription is one registered listener.
// Unsubscribe is idempotent and safe to call from inside the handler.
type Subscription struct {
	hub     *Hub
	topic   string
	handler Handler
	queue   chan Event
	done    chan struct{}
	once    sync.Once
}

// Subscribe registers h for topic and starts its delivery goroutine
func (h *Hub) Subscribe(topic string, handler Handler) *Subscription {
	sub := &Subscription{
		hub:     h,
		topic:   topic,
		handler: handler,
		queue:   make(chan Event, h.buffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
		return sub
	}
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*Subscription]struct{})
	}
	h.subs[topic][sub] = struct{}{}
	h.mu.Unlock()

	metrics.FanoutSubscribers.Inc()
	go sub.run()
	return sub
}

// Publish delivers ev to every local subscription of ev.Topic
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.Topic] {
		sub.enqueue(ev)
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions on topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Close tears down every subscription
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Unsubscribe()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.topic)
		}
	}
}

// Topic returns the subscribed topic
func (s *Subscription) Topic() string {
	return s.topic
}

// Done is closed once the subscription is torn down
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Push queues an event for this subscription only
func (s *Subscription) Push(ev Event) {
	s.enqueue(ev)
}

// Unsubscribe stops delivery. Events already queued are discarded.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
		metrics.FanoutSubscribers.Dec()
	})
}

// enqueue never blocks the publisher: when the queue is full the oldest
// pending event is dropped. Each event only signals that state changed, so
// the handler still observes the newest state.
func (s *Subscription) enqueue(ev Event) {
	for {
		select {
		case <-s.done:
			return
		case s.queue <- ev:
			return
		default:
		}
		select {
		case <-s.queue:
			metrics.FanoutDeliveriesDroppedTotal.Inc()
		default:
		}
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(ev)
		}
	}
}

func (s *Subscription) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Fan-out handler panicked",
				zap.String("topic", s.topic),
				zap.String("event", ev.Type),
				zap.Any("panic", r))
		}
	}()
	s.handler(ev)
}
