package pubsub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func receive(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		if !ok {
			t.Fatal("Subscription closed unexpectedly")
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
	return Event{}
}

func expectNone(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		if ok {
			t.Errorf("Received unexpected event version %d", event.Version)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReplayLastReport(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()
	pub.ConfigureTopic(TopicReport, TopicConfig{BufferSize: 5})

	for run := 1; run <= 3; run++ {
		if err := pub.Publish(TopicReport, "clean", CheckStatus{State: "clean", Run: run}); err != nil {
			t.Fatalf("Failed to publish run %d: %v", run, err)
		}
	}

	sub, err := pub.Subscribe(context.Background(), TopicReport)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()

	event := receive(t, sub)
	if event.Version != 3 {
		t.Errorf("Expected version 3, got %d", event.Version)
	}
	var status CheckStatus
	if err := json.Unmarshal(event.Data, &status); err != nil {
		t.Fatalf("Bad payload: %v", err)
	}
	if status.Run != 3 {
		t.Errorf("Expected run 3, got %d", status.Run)
	}
	expectNone(t, sub)
}

func TestReplayAll(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()
	pub.ConfigureTopic(TopicCheckStatus, TopicConfig{BufferSize: 3, ReplayAll: true})

	for i := 1; i <= 5; i++ {
		if err := pub.Publish(TopicCheckStatus, "checking", CheckStatus{Run: i}); err != nil {
			t.Fatalf("Failed to publish event %d: %v", i, err)
		}
	}

	sub, err := pub.Subscribe(context.Background(), TopicCheckStatus)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()

	// Last 3 of 5
	for want := 3; want <= 5; want++ {
		if event := receive(t, sub); event.Version != want {
			t.Errorf("Expected version %d, got %d", want, event.Version)
		}
	}
}

func TestNoBuffer(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()
	pub.ConfigureTopic(TopicReport, TopicConfig{})

	if err := pub.Publish(TopicReport, "clean", nil); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	sub, err := pub.Subscribe(context.Background(), TopicReport)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	defer sub.Close()
	expectNone(t, sub)

	if err := pub.Publish(TopicReport, "cycles", nil); err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}
	if event := receive(t, sub); event.Version != 2 || event.Type != "cycles" {
		t.Errorf("Unexpected event %+v", event)
	}
}

func TestContextCancelClosesSubscription(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()
	pub.ConfigureTopic(TopicReport, TopicConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := pub.Subscribe(ctx, TopicReport)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("Expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Subscription not closed after cancel")
	}

	// Publishing to a topic without subscribers is fine
	if err := pub.Publish(TopicReport, "clean", nil); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
}

func TestPublisherClose(t *testing.T) {
	pub := NewSSEPublisher()
	pub.ConfigureTopic(TopicReport, TopicConfig{})
	sub, err := pub.Subscribe(context.Background(), TopicReport)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("Expected closed channel")
	}
	if err := sub.Close(); err != nil {
		t.Errorf("Closing a closed subscription failed: %v", err)
	}
	if err := pub.Publish(TopicReport, "clean", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed publishing on a closed publisher, got %v", err)
	}
	if _, err := pub.Subscribe(context.Background(), TopicReport); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed subscribing to a closed publisher, got %v", err)
	}
}

func TestUnknownTopic(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	if _, err := pub.Subscribe(context.Background(), "nope"); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("Expected ErrUnknownTopic on subscribe, got %v", err)
	}
	if err := pub.Publish("nope", "clean", nil); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("Expected ErrUnknownTopic on publish, got %v", err)
	}
}

func TestResume(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()
	pub.ConfigureTopic(TopicCheckStatus, TopicConfig{BufferSize: 3})

	for i := 1; i <= 5; i++ {
		if err := pub.Publish(TopicCheckStatus, "checking", CheckStatus{Run: i}); err != nil {
			t.Fatalf("Failed to publish event %d: %v", i, err)
		}
	}

	// Versions 3 to 5 are kept, the client has seen up to 3
	sub, err := pub.Resume(context.Background(), TopicCheckStatus, 3)
	if err != nil {
		t.Fatalf("Failed to resume: %v", err)
	}
	defer sub.Close()

	for want := 4; want <= 5; want++ {
		if event := receive(t, sub); event.Version != want {
			t.Errorf("Expected version %d, got %d", want, event.Version)
		}
	}
	expectNone(t, sub)

	// A client that is up to date gets nothing old
	current, err := pub.Resume(context.Background(), TopicCheckStatus, 5)
	if err != nil {
		t.Fatalf("Failed to resume: %v", err)
	}
	defer current.Close()
	expectNone(t, current)
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()
	pub.ConfigureTopic(TopicCheckStatus, TopicConfig{})

	sub, err := pub.Subscribe(context.Background(), TopicCheckStatus)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	// Nobody reads, so the subscription overflows
	for i := 1; i <= subscriberSlack+1; i++ {
		if err := pub.Publish(TopicCheckStatus, "checking", CheckStatus{Run: i}); err != nil {
			t.Fatalf("Failed to publish event %d: %v", i, err)
		}
	}

	received := 0
	for range sub.Events() {
		received++
	}
	if received != subscriberSlack {
		t.Errorf("Expected %d events before the disconnect, got %d", subscriberSlack, received)
	}
	if err := sub.Close(); err != nil {
		t.Errorf("Closing a disconnected subscription failed: %v", err)
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSSE(&buf, Event{Topic: TopicReport, Type: "clean", Data: json.RawMessage(`{"run":1}`), Version: 7})
	if err != nil {
		t.Fatalf("WriteSSE failed: %v", err)
	}

	want := "id: 7\nevent: report\n" +
		`data: {"topic":"report","type":"clean","data":{"run":1},"version":7}` + "\n\n"
	if got := buf.String(); got != want {
		t.Errorf("Unexpected SSE frame\nwant %q\ngot  %q", want, got)
	}
}
