package events

import (
	"sync"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	event := NewRunStartedEvent("run-1", "healthcare", 25, 42)
	bus.Publish(event)

	select {
	case received := <-ch:
		if received.EventType() != EventRunStarted {
			t.Errorf("expected %s, got %s", EventRunStarted, received.EventType())
		}
		if received.RunID() != "run-1" {
			t.Errorf("expected run-1, got %s", received.RunID())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	escCh := bus.Subscribe(EventEscalationApplied)

	bus.Publish(NewRunStartedEvent("run-1", "healthcare", 25, 42))
	bus.Publish(NewEscalationAppliedEvent("run-1", 2, "noise", "epsilon 1 -> 0.5"))

	select {
	case received := <-escCh:
		if received.EventType() != EventEscalationApplied {
			t.Errorf("filtered channel received %s", received.EventType())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for escalation event")
	}

	select {
	case extra := <-escCh:
		t.Errorf("unexpected second event %s", extra.EventType())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishPriority_DeliversToBothKinds(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	regular := bus.Subscribe()
	priority := bus.SubscribePriority()

	bus.PublishPriority(NewRunFailedEvent("run-1", "noise calibration failed"))

	for name, ch := range map[string]<-chan Event{"regular": regular, "priority": priority} {
		select {
		case received := <-ch:
			if received.EventType() != EventRunFailed {
				t.Errorf("%s channel: got %s", name, received.EventType())
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout on %s channel", name)
		}
	}
}

func TestRingBufferDropsOldest(t *testing.T) {
	bus := New(2)
	defer bus.Close()

	ch := bus.Subscribe()

	for i := 1; i <= 4; i++ {
		bus.Publish(NewIterationCompletedEvent("run-1", i, 10, 0.5, 5, false))
	}

	if bus.DroppedCount() == 0 {
		t.Error("expected dropped events with a full buffer")
	}

	// The newest event survives the ring buffer.
	var last Event
	for {
		select {
		case e := <-ch:
			last = e
		default:
			if last == nil {
				t.Fatal("no events delivered")
			}
			if it, ok := last.(IterationCompletedEvent); !ok || it.Iteration != 4 {
				t.Errorf("newest event not retained: %+v", last)
			}
			return
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel should be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(NewRunStartedEvent("run-1", "education", 10, 1))
}

func TestCloseIsIdempotentAndStopsPublish(t *testing.T) {
	bus := New(10)
	ch := bus.Subscribe()

	bus.Close()
	bus.Close()

	if _, open := <-ch; open {
		t.Error("channel should be closed after bus close")
	}

	bus.Publish(NewRunStartedEvent("run-1", "education", 10, 1))
	bus.PublishPriority(NewRunFailedEvent("run-1", "late"))
}

func TestConcurrentPublish(t *testing.T) {
	bus := New(100)
	defer bus.Close()

	ch := bus.Subscribe(EventIterationCompleted)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(iter int) {
			defer wg.Done()
			bus.Publish(NewIterationCompletedEvent("run-1", iter, 5, 0.3, 5, false))
		}(i)
	}
	wg.Wait()

	received := 0
	for {
		select {
		case <-ch:
			received++
		case <-time.After(100 * time.Millisecond):
			if received != 10 {
				t.Errorf("received %d events, want 10", received)
			}
			return
		}
	}
}
