package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/ritzau/pageload-estimator/pkg/logging"
)

// subscriberBuffer is the per-subscriber channel capacity
const subscriberBuffer = 100

// TopicConfig configures buffering behavior for a topic
type TopicConfig struct {
	BufferSize int  // Number of events to buffer (0 = no buffering)
	ReplayAll  bool // Replay every buffered event instead of only the last one

	// LatestPerKey keeps at most one buffered event per key, so a new estimate of a
	// trace replaces the previous one instead of pushing older traces out of the buffer.
	LatestPerKey bool
}

// topic holds the state of one topic. Guarded by SSEPublisher.mu.
type topic struct {
	config  TopicConfig
	version int
	buffer  []Event
	subs    map[*sseSubscription]struct{}
}

func (t *topic) record(event Event) {
	if t.config.BufferSize <= 0 {
		return
	}
	if t.config.LatestPerKey && event.Key != "" {
		t.buffer = slices.DeleteFunc(t.buffer, func(e Event) bool { return e.Key == event.Key })
	}
	t.buffer = append(t.buffer, event)
	if len(t.buffer) > t.config.BufferSize {
		t.buffer = t.buffer[len(t.buffer)-t.config.BufferSize:]
	}
}

// replay returns the buffered events a new subscriber should see
func (t *topic) replay() []Event {
	if len(t.buffer) == 0 {
		return nil
	}
	if !t.config.ReplayAll {
		return []Event{t.buffer[len(t.buffer)-1]}
	}
	return slices.Clone(t.buffer)
}

// SSEPublisher implements Publisher for Server-Sent Event streams
type SSEPublisher struct {
	mu     sync.RWMutex
	topics map[string]*topic
	closed bool
}

// NewSSEPublisher creates a new SSE-based publisher
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{
		topics: make(map[string]*topic),
	}
}

// topic returns the state for name, creating it on first use. Callers hold p.mu.
func (p *SSEPublisher) topic(name string) *topic {
	t, ok := p.topics[name]
	if !ok {
		t = &topic{subs: make(map[*sseSubscription]struct{})}
		p.topics[name] = t
	}
	return t
}

// ConfigureTopic sets buffering configuration for a topic
func (p *SSEPublisher) ConfigureTopic(name string, config TopicConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic(name).config = config
}

// Subscribe creates a new subscription to a topic. Buffered events are delivered first.
func (p *SSEPublisher) Subscribe(ctx context.Context, name string) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("publisher is closed")
	}

	sub := &sseSubscription{
		topic:     name,
		events:    make(chan Event, subscriberBuffer),
		done:      make(chan struct{}),
		publisher: p,
	}

	t := p.topic(name)
	// Replay under the lock so no live event can overtake the backlog
	replayed := t.replay()
	for _, event := range replayed {
		sub.deliver(event)
	}
	t.subs[sub] = struct{}{}
	if len(replayed) > 0 {
		logging.Debug("replayed events to new subscriber", "topic", name, "count", len(replayed))
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Publish sends an event without a key to all subscribers of a topic
func (p *SSEPublisher) Publish(name string, eventType string, data any) error {
	return p.PublishKeyed(name, "", eventType, data)
}

// PublishKeyed sends an event about key (a trace id) to all subscribers of a topic
func (p *SSEPublisher) PublishKeyed(name, key, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	t := p.topic(name)
	t.version++
	event := Event{
		Topic:   name,
		Type:    eventType,
		Key:     key,
		Data:    payload,
		Version: t.version,
	}
	t.record(event)
	p.broadcast(t, event)
	return nil
}

// Retract drops every buffered event for key and tells live subscribers it is gone.
// The removal itself is not buffered, so later subscribers never hear of key.
func (p *SSEPublisher) Retract(name, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	t := p.topic(name)
	t.buffer = slices.DeleteFunc(t.buffer, func(e Event) bool { return e.Key == key })
	t.version++
	p.broadcast(t, Event{
		Topic:   name,
		Type:    EventRemoved,
		Key:     key,
		Data:    json.RawMessage(`{}`),
		Version: t.version,
	})
	return nil
}

// broadcast delivers event to every subscriber of t. Callers hold p.mu.
func (p *SSEPublisher) broadcast(t *topic, event Event) {
	for sub := range t.subs {
		sub.deliver(event)
	}
}

// Latest returns the most recent buffered event of a topic
func (p *SSEPublisher) Latest(name string) (Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	t, ok := p.topics[name]
	if !ok || len(t.buffer) == 0 {
		return Event{}, false
	}
	return t.buffer[len(t.buffer)-1], true
}

// SubscriberCount returns the number of live subscriptions to a topic
func (p *SSEPublisher) SubscriberCount(name string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if t, ok := p.topics[name]; ok {
		return len(t.subs)
	}
	return 0
}

// Close shuts down the publisher and closes every subscription's event channel
func (p *SSEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, t := range p.topics {
		for sub := range t.subs {
			sub.stop()
			close(sub.events)
		}
		t.subs = make(map[*sseSubscription]struct{})
	}
	return nil
}

// unsubscribe removes a subscription (called by subscription.Close())
func (p *SSEPublisher) unsubscribe(sub *sseSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.topics[sub.topic]; ok {
		delete(t.subs, sub)
	}
}

// sseSubscription implements Subscription
type sseSubscription struct {
	topic     string
	events    chan Event
	done      chan struct{}
	once      sync.Once
	publisher *SSEPublisher
}

// deliver queues event without blocking the publisher. Callers hold the publisher lock.
func (s *sseSubscription) deliver(event Event) {
	select {
	case s.events <- event:
	default:
		logging.Warn("subscription channel full, dropping event",
			"topic", event.Topic,
			"version", event.Version,
		)
	}
}

func (s *sseSubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Topic returns the subscription topic
func (s *sseSubscription) Topic() string {
	return s.topic
}

// Events returns a channel for receiving events
func (s *sseSubscription) Events() <-chan Event {
	return s.events
}

// Close ends the subscription. The event channel is only closed by the publisher.
func (s *sseSubscription) Close() error {
	s.stop()
	s.publisher.unsubscribe(s)
	return nil
}

// WriteSSE writes an event as one SSE message.
// Format: "id: {version}\ndata: {json}\n\n"
func WriteSSE(w io.Writer, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.Version, payload)
	return err
}
