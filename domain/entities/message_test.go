package entities

import (
	"fmt"
	"testing"
	"time"
)

func TestHistoryTrimsOldestFirst(t *testing.T) {
	h := NewHistory(10)
	h.SetSystem(Message{Content: "system"})

	for i := 0; i < 25; i++ {
		h.Append(Message{
			ID:        fmt.Sprintf("m%d", i),
			Role:      RoleUser,
			Content:   fmt.Sprintf("message %d", i),
			Timestamp: time.Now(),
		})
		if h.Len() > 11 {
			t.Fatalf("History length %d exceeds window+system after append %d", h.Len(), i)
		}
	}

	msgs := h.Messages()
	if len(msgs) != 11 {
		t.Fatalf("Expected 11 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Errorf("Expected system message first, got %s", msgs[0].Role)
	}
	if msgs[1].Content != "message 15" {
		t.Errorf("Expected oldest kept message to be 'message 15', got %q", msgs[1].Content)
	}
	if msgs[10].Content != "message 24" {
		t.Errorf("Expected newest message last, got %q", msgs[10].Content)
	}
}

func TestHistorySystemMessageNotCounted(t *testing.T) {
	h := NewHistory(3)
	h.Append(Message{Role: RoleSystem, Content: "replaced system"})
	h.Append(Message{Role: RoleUser, Content: "a"})
	h.Append(Message{Role: RoleAssistant, Content: "b"})
	h.Append(Message{Role: RoleUser, Content: "c"})

	if h.Len() != 4 {
		t.Errorf("Expected 3 windowed + 1 system = 4, got %d", h.Len())
	}

	h.Clear()
	msgs := h.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleSystem {
		t.Errorf("Clear should keep only the system message, got %d messages", len(msgs))
	}
}

func TestAudioFrameDuration(t *testing.T) {
	// One second of 16 kHz mono 16-bit PCM.
	frame := NewAudioFrame(make([]byte, 32000), time.Now())
	if frame.Duration() != time.Second {
		t.Errorf("Expected 1s duration, got %s", frame.Duration())
	}

	u := NewUtterance("u1", time.Now())
	u.Append(frame)
	u.Append(NewAudioFrame(make([]byte, 16000), time.Now()))
	if u.Duration() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5s utterance, got %s", u.Duration())
	}
	if len(u.PCM()) != 48000 {
		t.Errorf("Expected 48000 concatenated bytes, got %d", len(u.PCM()))
	}
}
