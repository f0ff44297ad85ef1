package pubsub

import (
	"context"
	"encoding/json"
)

// Topics published by the watch mode of the command line tool
const (
	TopicCheckStatus = "check_status" // One event per state change of the check loop
	TopicReport      = "report"       // One event per completed check
)

// Event is one published message. Versions count up per topic from 1.
type Event struct {
	Topic   string          `json:"topic"`   // e.g. "check_status", "report"
	Type    string          `json:"type"`    // e.g. "checking", "clean", "cycles", "failed"
	Data    json.RawMessage `json:"data"`    // Payload, a CheckStatus or a model.Report
	Version int             `json:"version"` // Position within the topic
}

// Subscription delivers the events of one topic to one client
type Subscription interface {
	Topic() string

	// Events is closed when the subscription ends: by Close, by the
	// subscriber's context, by falling behind or by the publisher closing
	Events() <-chan Event

	Close() error
}

// Publisher fans events of the check loop out to subscribers
type Publisher interface {
	// Subscribe starts a subscription with the topic's replay. It ends when
	// ctx is done.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Resume is Subscribe for a client that has seen every event up to
	// version lastSeen
	Resume(ctx context.Context, topic string, lastSeen int) (Subscription, error)

	// Publish marshals data to JSON and sends it to every subscriber
	Publish(topic string, eventType string, data interface{}) error

	Close() error
}

var _ Publisher = (*SSEPublisher)(nil)

// CheckStatus represents the state of the check loop
type CheckStatus struct {
	State   string `json:"state"`   // checking, clean, cycles, failed
	Message string `json:"message"` // Human-readable status message
	Fixture string `json:"fixture"` // Fixture being checked
	Run     int    `json:"run"`     // Number of checks started so far
}
