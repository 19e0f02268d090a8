package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(4)

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(New(TypeRequestQueued, map[string]any{"request_id": "r-1"}))

	select {
	case e := <-ch:
		if e.Type != TypeRequestQueued {
			t.Errorf("Type = %v, want request.queued", e.Type)
		}
		if e.Fields["request_id"] != "r-1" {
			t.Errorf("request_id = %v, want r-1", e.Fields["request_id"])
		}
		if e.At.IsZero() {
			t.Error("At is zero, want stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus(1)

	_, cancel := bus.Subscribe()
	defer cancel()

	// Fill the buffer and keep publishing; extra events are dropped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(New(TypeRequestResolved, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if bus.Dropped() == 0 {
		t.Error("Dropped() = 0, want > 0")
	}
}

func TestBus_CancelClosesChannel(t *testing.T) {
	bus := NewBus(1)

	ch, cancel := bus.Subscribe()
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic.
	bus.Publish(New(TypeRequestFailed, nil))
}

func TestBus_NilBusIsSafe(t *testing.T) {
	var bus *Bus
	bus.Publish(New(TypeRequestQueued, nil))
	if bus.Dropped() != 0 {
		t.Error("nil bus Dropped() != 0")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(4)

	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Publish(New(TypeCircuitChanged, nil))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i+1)
		}
	}
}
