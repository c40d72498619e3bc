package events

import (
	"testing"
)

func TestEmitReachesSubscribers(t *testing.T) {
	r := NewRegistry()

	var got []any
	r.On("status", func(payload any) { got = append(got, payload) })
	r.On("status", func(payload any) { got = append(got, payload) })

	r.Emit("status", "idle")
	if len(got) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(got))
	}
	if got[0] != "idle" {
		t.Errorf("Expected payload 'idle', got %v", got[0])
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := NewRegistry()

	count := 0
	unsub := r.On("metrics", func(any) { count++ })
	r.Emit("metrics", nil)
	unsub()
	r.Emit("metrics", nil)

	if count != 1 {
		t.Errorf("Expected 1 delivery after unsubscribe, got %d", count)
	}

	// Unsubscribing twice is harmless.
	unsub()
}

func TestEmitWithNoSubscribers(t *testing.T) {
	r := NewRegistry()
	r.Emit("nobody", "payload") // must not panic
}
