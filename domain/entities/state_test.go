package entities

import (
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to Status
	}{
		{StatusIdle, StatusListening},
		{StatusIdle, StatusThinking},
		{StatusListening, StatusThinking},
		{StatusThinking, StatusExecuting},
		{StatusThinking, StatusSpeaking},
		{StatusExecuting, StatusThinking},
		{StatusSpeaking, StatusIdle},
		{StatusError, StatusIdle},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("Expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct {
		from, to Status
	}{
		{StatusIdle, StatusSpeaking},
		{StatusListening, StatusSpeaking},
		{StatusListening, StatusExecuting},
		{StatusSpeaking, StatusListening},
		{StatusSpeaking, StatusThinking},
		{StatusExecuting, StatusIdle},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("Expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestAnyStateCanError(t *testing.T) {
	for _, from := range []Status{StatusIdle, StatusListening, StatusThinking, StatusSpeaking, StatusExecuting} {
		if !CanTransition(from, StatusError) {
			t.Errorf("Expected %s -> error to be allowed", from)
		}
	}
}
