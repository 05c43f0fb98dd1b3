package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/cychenyin/tchannel/adapter"
	"github.com/cychenyin/tchannel/iox"
)

func testEvent() *adapter.CallCompletedEvent {
	return &adapter.CallCompletedEvent{
		Version:    "0.2.0",
		EventType:  "call_completed",
		CallID:     "call-001",
		Service:    "echo",
		Transport:  "pipe",
		Outcome:    "completed",
		Timestamp:  "2026-08-30T12:00:00Z",
		FramesIn:   3,
		FramesOut:  1,
		Arg1Bytes:  5,
		Arg2Bytes:  5,
		Arg3Bytes:  1,
		DurationMs: 12,
	}
}

// asyncReceive starts a goroutine that reads one message from the subscriber
// and sends it to the returned channel. Must be called BEFORE Publish to avoid
// deadlocking miniredis's synchronous pub/sub delivery.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{} // unreachable
	}
}

func TestPublish_Success(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 0})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))

	sub := mr.NewSubscriber()
	sub.Subscribe(DefaultChannel)
	ch := asyncReceive(sub)

	if err := a.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := waitMessage(t, ch)

	var received adapter.CallCompletedEvent
	if err := json.Unmarshal([]byte(msg.Message), &received); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if received.CallID != "call-001" {
		t.Errorf("expected call-001, got %s", received.CallID)
	}
	if received.EventType != "call_completed" {
		t.Errorf("expected call_completed, got %s", received.EventType)
	}
	if received.Outcome != "completed" {
		t.Errorf("expected completed, got %s", received.Outcome)
	}
	if received.FramesIn != 3 || received.FramesOut != 1 {
		t.Errorf("frames in/out = %d/%d, want 3/1", received.FramesIn, received.FramesOut)
	}
}

func TestPublish_CustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)

	customChannel := "custom:notifications"
	a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: customChannel})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))

	sub := mr.NewSubscriber()
	sub.Subscribe(customChannel)
	ch := asyncReceive(sub)

	if err := a.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := waitMessage(t, ch)
	if msg.Channel != customChannel {
		t.Errorf("expected channel %q, got %q", customChannel, msg.Channel)
	}
}

func TestPublish_ExhaustsRetries(t *testing.T) {
	// Use an address that won't connect
	a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 2, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))

	err = a.Publish(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	// Use an address that won't connect; context cancellation should fire first
	a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = a.Publish(ctx, testEvent())
	if err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Config{URL: "not-a-redis-url"})
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestNew_RejectsNegativeRetries(t *testing.T) {
	_, err := New(Config{URL: "redis://localhost:6379", Retries: -1})
	if err == nil {
		t.Fatal("expected error for negative retries")
	}
}

func TestNew_DefaultsApplied(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))

	if a.config.Channel != DefaultChannel {
		t.Errorf("expected default channel %q, got %q", DefaultChannel, a.config.Channel)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, a.config.Timeout)
	}
}

func TestClose_ClosesConnection(t *testing.T) {
	mr := miniredis.RunT(t)

	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Publish after close should fail
	err = a.Publish(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected error after close")
	}
}
