package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received int32
	eb.On(EventRelayFinished, func(e Event) {
		if e.Payload[KeyOutcome] != "delivered" {
			t.Errorf("unexpected payload %v", e.Payload)
		}
		atomic.AddInt32(&received, 1)
	})

	eb.Emit(Event{Type: EventRelayFinished, Payload: map[string]any{KeyOutcome: "delivered"}})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	eb.On("*", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventRelayFinished})
	eb.Emit(Event{Type: EventIngressHandled})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	id := eb.On("test.event", func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: "test.event"})
	eb.Off("test.event", id)
	eb.Emit(Event{Type: "test.event"})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_OffKeepsOthers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var a, b int32
	idA := eb.On("x", func(Event) { atomic.AddInt32(&a, 1) })
	eb.On("x", func(Event) { atomic.AddInt32(&b, 1) })
	eb.Off("x", idA)
	// Registering after Off must not reuse the removed ID.
	idC := eb.On("x", func(Event) {})
	if idC == idA {
		t.Fatalf("handler id %q reused", idC)
	}

	eb.Emit(Event{Type: "x"})
	if atomic.LoadInt32(&a) != 0 || atomic.LoadInt32(&b) != 1 {
		t.Errorf("a=%d b=%d", a, b)
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var after int32
	eb.On("panic", func(e Event) {
		panic("test panic")
	})
	eb.On("panic", func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: "panic"})
	if atomic.LoadInt32(&after) != 1 {
		t.Error("handler after a panicking one should still run")
	}
}

func TestEventBus_NilSafe(t *testing.T) {
	var eb *EventBus
	eb.Emit(Event{Type: "x"})
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got Event
	eb.On("test", func(e Event) { got = e })

	before := time.Now()
	eb.Emit(Event{Type: "test"})
	if got.Timestamp.Before(before) {
		t.Errorf("timestamp should be auto-set, got %v", got.Timestamp)
	}

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	eb.Emit(Event{Type: "test", Timestamp: fixed})
	if !got.Timestamp.Equal(fixed) {
		t.Errorf("explicit timestamp overwritten: %v", got.Timestamp)
	}
}

func TestEventBus_HandlerMayEmit(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var inner int32
	eb.On("outer", func(Event) { eb.Emit(Event{Type: "inner"}) })
	eb.On("inner", func(Event) { atomic.AddInt32(&inner, 1) })

	eb.Emit(Event{Type: "outer"})
	if atomic.LoadInt32(&inner) != 1 {
		t.Errorf("expected nested emit to be delivered, got %d", inner)
	}
}
