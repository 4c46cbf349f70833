package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"parley/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBusPublishTyped(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var got atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(domain.EventStreamStarted, func(ctx context.Context, e domain.Event) {
		got.Add(1)
		wg.Done()
	})
	b.Subscribe(domain.EventStreamStopped, func(ctx context.Context, e domain.Event) {
		t.Error("wrong type handler invoked")
	})

	b.Publish(context.Background(), domain.Event{Type: domain.EventStreamStarted})
	wg.Wait()

	if got.Load() != 1 {
		t.Fatalf("handler invocations = %d", got.Load())
	}
}

func TestBusSubscribeAll(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var got atomic.Int64
	var wg sync.WaitGroup
	wg.Add(2)
	b.SubscribeAll(func(ctx context.Context, e domain.Event) {
		got.Add(1)
		wg.Done()
	})

	b.Publish(context.Background(), domain.Event{Type: domain.EventStreamStarted})
	b.Publish(context.Background(), domain.Event{Type: domain.EventToolCallStarted})
	wg.Wait()

	if got.Load() != 2 {
		t.Fatalf("handler invocations = %d", got.Load())
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	unsub := b.Subscribe(domain.EventStreamStarted, func(ctx context.Context, e domain.Event) {
		t.Error("unsubscribed handler invoked")
	})
	unsub()

	b.Publish(context.Background(), domain.Event{Type: domain.EventStreamStarted})
	time.Sleep(50 * time.Millisecond)
}

func TestBusClosedDropsPublish(t *testing.T) {
	b := newTestBus()

	b.Subscribe(domain.EventStreamStarted, func(ctx context.Context, e domain.Event) {
		t.Error("handler invoked after close")
	})
	b.Close()

	b.Publish(context.Background(), domain.Event{Type: domain.EventStreamStarted})
	time.Sleep(50 * time.Millisecond)
}

func TestBusRecoversPanic(t *testing.T) {
	b := newTestBus()

	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(domain.EventStreamStarted, func(ctx context.Context, e domain.Event) {
		defer wg.Done()
		panic("boom")
	})

	b.Publish(context.Background(), domain.Event{Type: domain.EventStreamStarted})
	wg.Wait()
	b.Close()
}

func TestPublishJSON(t *testing.T) {
	b := newTestBus()
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var got domain.Event
	b.Subscribe(domain.EventStreamCompleted, func(ctx context.Context, e domain.Event) {
		got = e
		wg.Done()
	})

	PublishJSON(context.Background(), b, domain.EventStreamCompleted, "sess-1", domain.StreamCompletedPayload{
		SessionID:    "sess-1",
		FinishReason: "stop",
	})
	wg.Wait()

	if got.SessionID != "sess-1" {
		t.Errorf("session id = %q", got.SessionID)
	}
	if len(got.Payload) == 0 {
		t.Error("expected payload")
	}
}

func TestPublishJSONNilBus(t *testing.T) {
	// Must not panic.
	PublishJSON(context.Background(), nil, domain.EventStreamCompleted, "", nil)
}
