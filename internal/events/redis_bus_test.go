package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	evt, err := New(TodosCleared, "alice", "", ClearedPayload{IDs: []string{"a", "b"}, Deleted: 2}, time.UnixMilli(1715328000000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := Encode(evt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), `"userId":"alice"`) || !strings.Contains(string(data), `"occurredAt":1715328000000`) {
		t.Fatalf("unexpected wire format %s", data)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != evt.ID || got.Type != TodosCleared || got.UserID != "alice" || got.OccurredAt != evt.OccurredAt {
		t.Fatalf("unexpected event after round trip: %+v", got)
	}
	if !bytes.Equal(got.Payload, evt.Payload) {
		t.Fatalf("payload changed: %s != %s", got.Payload, evt.Payload)
	}
	var payload ClearedPayload
	if err := json.Unmarshal(got.Payload, &payload); err != nil || payload.Deleted != 2 {
		t.Fatalf("unexpected payload %+v: %v", payload, err)
	}
}

func TestDecodeRejectsInvalidMessages(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{}`,
		`{"id":"e1","type":"todo.created"}`,
		`{"id":"e1","userId":"alice"}`,
	} {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestNewRedisBusRequiresAddress(t *testing.T) {
	if _, err := NewRedisBus(context.Background(), RedisConfig{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestNewRedisBusWithClientDefaultsChannel(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	bus := NewRedisBusWithClient(client, "")
	defer bus.Close()
	if bus.channel != "smarttodo:events" {
		t.Fatalf("unexpected channel %q", bus.channel)
	}
}

func TestNewRabbitMQBusRequiresURL(t *testing.T) {
	if _, err := NewRabbitMQBus(RabbitMQConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
