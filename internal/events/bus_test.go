package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu        sync.Mutex
	events    []Event
	err       error
	closed    bool
	afterShut int
}

func (s *recordingSink) Send(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.afterShut++
	}
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestBusTypedAndAllSubscribers(t *testing.T) {
	bus := NewBus()
	var typed, all int
	unsubscribe := bus.Subscribe(TypeTaskCompleted, func(context.Context, Event) { typed++ })
	bus.SubscribeAll(func(context.Context, Event) { all++ })

	bus.Publish(context.Background(), Event{Type: TypeTaskCompleted})
	bus.Publish(context.Background(), Event{Type: TypeTaskFailed})
	unsubscribe()
	bus.Publish(context.Background(), Event{Type: TypeTaskCompleted})

	if typed != 1 {
		t.Fatalf("expected 1 typed delivery, got %d", typed)
	}
	if all != 3 {
		t.Fatalf("expected 3 deliveries to all-subscriber, got %d", all)
	}
}

func TestBusRecoversPanickingHandler(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe(TypeTaskFailed, func(context.Context, Event) { panic("boom") })
	bus.Subscribe(TypeTaskFailed, func(context.Context, Event) { delivered = true })

	bus.Publish(context.Background(), Event{Type: TypeTaskFailed})
	if !delivered {
		t.Fatalf("second handler should still run after a panic")
	}
}

func TestBusForwardsToSinksAndCloses(t *testing.T) {
	bus := NewBus()
	sink := &recordingSink{err: errors.New("unreachable")}
	bus.Attach(sink)

	bus.Publish(context.Background(), Event{Type: TypeTaskTimeout, TaskID: "t1"})
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 || sink.events[0].TaskID != "t1" {
		t.Fatalf("unexpected forwarded events: %+v", sink.events)
	}
	if sink.events[0].OccurredAt.IsZero() || time.Since(sink.events[0].OccurredAt) > time.Minute {
		t.Fatalf("expected OccurredAt to be stamped")
	}
	if !sink.closed {
		t.Fatalf("sink should be closed with the bus")
	}

	bus.Publish(context.Background(), Event{Type: TypeTaskTimeout})
	if len(sink.events) != 1 {
		t.Fatalf("closed bus must drop events")
	}
}

func TestBusCloseWaitsForConcurrentPublishers(t *testing.T) {
	for round := 0; round < 20; round++ {
		bus := NewBus()
		sink := &recordingSink{}
		bus.Attach(sink)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 50; j++ {
					bus.Publish(context.Background(), Event{Type: TypeTaskCompleted})
				}
			}()
		}
		close(start)
		if err := bus.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		wg.Wait()

		sink.mu.Lock()
		after := sink.afterShut
		sink.mu.Unlock()
		if after != 0 {
			t.Fatalf("round %d: %d events reached the sink after it was closed", round, after)
		}
	}
}
