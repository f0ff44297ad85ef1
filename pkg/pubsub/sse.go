package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ritzau/refcycles/pkg/logging"
)

var (
	// ErrClosed is returned once the publisher has been closed
	ErrClosed = errors.New("publisher is closed")
	// ErrUnknownTopic is returned for topics that were never configured
	ErrUnknownTopic = errors.New("unknown topic")
)

// subscriberSlack is the room a subscriber has beyond its replay before it
// counts as falling behind
const subscriberSlack = 16

// TopicConfig configures how much history a topic keeps for new subscribers
type TopicConfig struct {
	BufferSize int  // Events kept for replay (0 = none)
	ReplayAll  bool // Replay every kept event instead of only the latest
}

// topic is the state of one topic: its history and its subscribers
type topic struct {
	config  TopicConfig
	version int
	history []Event
	subs    map[*subscription]struct{}
}

// record appends e to the history, keeping the newest BufferSize events
func (t *topic) record(e Event) {
	if t.config.BufferSize <= 0 {
		return
	}
	t.history = append(t.history, e)
	if over := len(t.history) - t.config.BufferSize; over > 0 {
		t.history = t.history[over:]
	}
}

// replay returns the events a new subscriber gets. A subscriber resuming
// after lastSeen gets every kept event newer than that.
func (t *topic) replay(lastSeen int) []Event {
	if lastSeen > 0 {
		for i, e := range t.history {
			if e.Version > lastSeen {
				return t.history[i:]
			}
		}
		return nil
	}
	if !t.config.ReplayAll && len(t.history) > 0 {
		return t.history[len(t.history)-1:]
	}
	return t.history
}

// SSEPublisher implements Publisher for server-sent event streams. Topics
// must be configured before use. A subscriber that falls behind is
// disconnected, it can resume with the version of the last event it saw.
type SSEPublisher struct {
	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

// NewSSEPublisher creates a publisher without topics
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{topics: make(map[string]*topic)}
}

// ConfigureTopic adds a topic, or changes the history kept by an existing one
func (p *SSEPublisher) ConfigureTopic(name string, config TopicConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.topics[name]; ok {
		t.config = config
		return
	}
	p.topics[name] = &topic{config: config, subs: make(map[*subscription]struct{})}
}

// Subscribe creates a subscription that starts with the topic's replay
func (p *SSEPublisher) Subscribe(ctx context.Context, name string) (Subscription, error) {
	return p.Resume(ctx, name, 0)
}

// Resume creates a subscription for a client that has seen every event up
// to version lastSeen. Zero means a fresh subscriber.
func (p *SSEPublisher) Resume(ctx context.Context, name string, lastSeen int) (Subscription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	t, ok := p.topics[name]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, name)
	}

	replay := t.replay(lastSeen)
	sub := &subscription{
		topic:     name,
		events:    make(chan Event, len(replay)+subscriberSlack),
		done:      make(chan struct{}),
		publisher: p,
	}
	// Sent under the lock so the replay stays ahead of new events
	for _, e := range replay {
		sub.events <- e
	}
	t.subs[sub] = struct{}{}
	p.mu.Unlock()

	logging.DebugContext(ctx, "subscribed", "topic", name, "replayed", len(replay), "lastSeen", lastSeen)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Publish sends an event to every subscriber of a topic
func (p *SSEPublisher) Publish(name string, eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	t, ok := p.topics[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, name)
	}

	t.version++
	event := Event{Topic: name, Type: eventType, Data: payload, Version: t.version}
	t.record(event)

	for sub := range t.subs {
		select {
		case sub.events <- event:
		default:
			logging.Warn("disconnecting slow subscriber", "topic", name, "version", event.Version)
			delete(t.subs, sub)
			sub.end()
		}
	}
	return nil
}

// Close ends every subscription. Later calls to Publish or Subscribe fail
// with ErrClosed.
func (p *SSEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for _, t := range p.topics {
		for sub := range t.subs {
			sub.end()
		}
		clear(t.subs)
	}
	return nil
}

func (p *SSEPublisher) unsubscribe(sub *subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.topics[sub.topic]; ok {
		delete(t.subs, sub)
	}
	// Sends happen under p.mu, so none can race with the close
	sub.end()
}

// subscription implements Subscription
type subscription struct {
	topic     string
	events    chan Event
	done      chan struct{}
	publisher *SSEPublisher
	once      sync.Once
}

func (s *subscription) end() {
	s.once.Do(func() {
		close(s.events)
		close(s.done)
	})
}

func (s *subscription) Topic() string {
	return s.topic
}

func (s *subscription) Events() <-chan Event {
	return s.events
}

// Close ends the subscription; closing twice is fine
func (s *subscription) Close() error {
	s.publisher.unsubscribe(s)
	return nil
}

// WriteSSE writes one event as a server-sent event frame. The version is
// the event id, which the client sends back as Last-Event-ID on reconnect.
func WriteSSE(w io.Writer, event Event) error {
	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Version, event.Topic, frame)
	return err
}
