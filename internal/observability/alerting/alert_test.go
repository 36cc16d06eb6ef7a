package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/events"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureNotifier) Channel() Channel { return "capture" }

func (c *captureNotifier) Notify(_ context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestSubscriberFiltersAndThrottles(t *testing.T) {
	capture := &captureNotifier{}
	sub := NewSubscriber(NewFanout(capture), time.Minute)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sub.now = func() time.Time { return clock }

	bus := events.NewBus()
	defer bus.Close()
	detach := sub.Attach(bus)
	defer detach()

	failed := events.Event{Type: events.TypeTaskFailed, WorkerName: "writer", Code: xerrors.CodeExecutorFailure, Message: "boom"}
	bus.Publish(context.Background(), failed)
	bus.Publish(context.Background(), failed)
	if capture.count() != 1 {
		t.Fatalf("expected duplicate alert to be suppressed, got %d", capture.count())
	}

	bus.Publish(context.Background(), events.Event{Type: events.TypeTaskFailed, WorkerName: "writer", Code: xerrors.CodeInvalidArgument})
	bus.Publish(context.Background(), events.Event{Type: events.TypeTaskCompleted, WorkerName: "writer"})
	if capture.count() != 1 {
		t.Fatalf("expected non-alerting events to be ignored, got %d", capture.count())
	}

	bus.Publish(context.Background(), events.Event{Type: events.TypeTaskTimeout, WorkerName: "writer"})
	bus.Publish(context.Background(), events.Event{Type: events.TypeWorkerDemoted, WorkerName: "analyst", Message: "unhealthy"})
	if capture.count() != 3 {
		t.Fatalf("expected timeout and demotion alerts, got %d", capture.count())
	}
	if got := capture.events[1].Code; got != xerrors.CodeTaskTimeout {
		t.Fatalf("unexpected timeout code %s", got)
	}
	if got := capture.events[2].Code; got != xerrors.CodeWorkerUnavailable {
		t.Fatalf("unexpected demotion code %s", got)
	}

	clock = clock.Add(2 * time.Minute)
	bus.Publish(context.Background(), failed)
	if capture.count() != 4 {
		t.Fatalf("expected alert after cooldown, got %d", capture.count())
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &captureNotifier{}
	fanout := NewFanout(ok, &failingNotifier{}, nil)
	err := fanout.Notify(context.Background(), Event{Code: xerrors.CodeTaskTimeout})
	if err == nil {
		t.Fatalf("expected error from failing channel")
	}
	if ok.count() != 1 {
		t.Fatalf("healthy channel should still be notified")
	}
	if len(fanout.Channels()) != 2 {
		t.Fatalf("unexpected channels %v", fanout.Channels())
	}
}

type failingNotifier struct{}

func (failingNotifier) Channel() Channel { return ChannelWebhook }

func (failingNotifier) Notify(context.Context, Event) error { return errors.New("unreachable") }

func TestWebhookNotifier(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeTaskTimeout, WorkerName: "writer"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.WorkerName != "writer" || received.Code != xerrors.CodeTaskTimeout {
		t.Fatalf("unexpected payload %+v", received)
	}

	n.Headers = nil
	if err := n.Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for rejected webhook")
	}
}
