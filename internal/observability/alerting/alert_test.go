package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "SmartTodo/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	first := &recordingNotifier{channel: ChannelLog}
	second := &recordingNotifier{channel: ChannelWebhook, err: errors.New("boom")}
	d := NewFanout(first, nil, second)

	if got := d.Channels(); len(got) != 2 || got[0] != ChannelLog || got[1] != ChannelWebhook {
		t.Fatalf("unexpected channels: %v", got)
	}

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeStorageFailure, Message: "db down"})
	if err == nil || !strings.Contains(err.Error(), "channel webhook") {
		t.Fatalf("expected webhook error, got %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected both notifiers to be called, got %d and %d", len(first.events), len(second.events))
	}
}

func TestNilFanoutIsNoop(t *testing.T) {
	var d *FanoutDispatcher
	if err := d.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestFromErrorCopiesMetadata(t *testing.T) {
	err := xerrors.New(xerrors.CodeStorageFailure, "write failed", xerrors.WithMetadata("table", "todos"))
	at := time.Unix(1700000000, 0)
	event := FromError(err, at)
	if event.Code != xerrors.CodeStorageFailure {
		t.Fatalf("unexpected code %s", event.Code)
	}
	if event.Metadata["table"] != "todos" {
		t.Fatalf("metadata not copied: %v", event.Metadata)
	}
	if !event.OccurredAt.Equal(at) {
		t.Fatalf("unexpected time %v", event.OccurredAt)
	}
}

func TestLogNotifierWritesEntry(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	if err := n.Notify(context.Background(), Event{
		Code:     xerrors.CodeStorageFailure,
		Message:  "db down",
		Severity: xerrors.SeverityCritical,
		Path:     "/api/v1/todos",
	}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"ERROR"`) || !strings.Contains(out, `"path":"/api/v1/todos"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeUnavailable, Message: "bus down", UserID: "u1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.Code != xerrors.CodeUnavailable || received.UserID != "u1" {
		t.Fatalf("unexpected payload %+v", received)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeUnknown}); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
