package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitForSubscribers(t *testing.T, bus *MemoryBus, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for bus.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", n, bus.Subscribers())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := map[int][]string{}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = bus.Subscribe(ctx, func(_ context.Context, evt Event) error {
				mu.Lock()
				received[idx] = append(received[idx], evt.ID)
				mu.Unlock()
				return nil
			})
		}(i)
	}
	waitForSubscribers(t, bus, 2)

	evt, err := New(TodoCreated, "u-1", "t-1", map[string]string{"text": "milk"}, time.UnixMilli(1000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := bus.Publish(ctx, evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		done := len(received[0]) == 1 && len(received[1]) == 1
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event not delivered to both subscribers: %v", received)
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	wg.Wait()
	if bus.Subscribers() != 0 {
		t.Fatalf("expected subscribers to be removed after cancel")
	}
}

func TestMemoryBusDropsWhenSubscriberIsSlow(t *testing.T) {
	bus := NewMemoryBus(1)
	defer bus.Close()

	var dropped int
	bus.OnDrop = func(Event) { dropped++ }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	go func() {
		_ = bus.Subscribe(ctx, func(context.Context, Event) error {
			<-block
			return nil
		})
	}()
	waitForSubscribers(t, bus, 1)

	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, Event{ID: "e"}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	close(block)
	if dropped == 0 {
		t.Fatalf("expected some events to be dropped")
	}
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(1)
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := bus.Publish(context.Background(), Event{}); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
	if err := bus.Subscribe(context.Background(), func(context.Context, Event) error { return nil }); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}

func TestNewEncodesPayload(t *testing.T) {
	evt, err := New(TodosCleared, "u-1", "", ClearedPayload{IDs: []string{"a", "b"}, Deleted: 2}, time.UnixMilli(42))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if evt.ID == "" || evt.OccurredAt != 42 {
		t.Fatalf("unexpected event: %+v", evt)
	}
	var payload ClearedPayload
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Deleted != 2 || len(payload.IDs) != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
