package repositories

import (
	"context"
	"time"

	"github.com/satriahrh/wicara/domain/entities"
)

// BackendEventType names the semantic events a conversation backend emits.
type BackendEventType string

const (
	EventSessionReady       BackendEventType = "session_ready"
	EventSpeechStarted      BackendEventType = "speech_started"
	EventSpeechStopped      BackendEventType = "speech_stopped"
	EventAudioChunk         BackendEventType = "audio_chunk"
	EventAudioDone          BackendEventType = "audio_done"
	EventTextDelta          BackendEventType = "text_delta"
	EventTextDone           BackendEventType = "text_done"
	EventToolCall           BackendEventType = "tool_call"
	EventResponseDone       BackendEventType = "response_done"
	EventError              BackendEventType = "error"
	EventDisconnected       BackendEventType = "disconnected"
	EventReconnecting       BackendEventType = "reconnecting"
	EventReconnected        BackendEventType = "reconnected"
	EventReconnectionFailed BackendEventType = "reconnection_failed"
	EventRetry              BackendEventType = "retry"
	EventStage              BackendEventType = "stage"
	EventTranscription      BackendEventType = "transcription"
	EventResponse           BackendEventType = "response"
)

// BackendEvent is a single event from a conversation backend. Only the
// fields relevant to the Type are populated.
type BackendEvent struct {
	Type BackendEventType

	// Audio payload for audio_chunk; the final buffer for premium mode is
	// 24 kHz PCM, efficient mode carries whatever the TTS provider returned.
	Audio      []byte
	SampleRate int

	// Text payload for text_delta, text_done, transcription, response and
	// stage names.
	Text string

	Call *entities.ToolCall
	Err  error

	// Reconnection and retry telemetry.
	Attempt int
	Delay   time.Duration
	Code    int
	Reason  string
	Stage   entities.CostStage
}

// ConversationBackend is the capability set shared by the premium streaming
// session and the efficient REST chain. The orchestrator is polymorphic over
// this interface; backend outputs arrive on the Events channel.
type ConversationBackend interface {
	// Connect establishes the session. For the streaming backend this dials
	// the transport and performs the configuration handshake; the REST chain
	// holds no transport and only marks itself ready.
	Connect(ctx context.Context) error

	// AppendAudio streams or buffers one captured frame.
	AppendAudio(frame entities.AudioFrame) error

	// CommitAudio marks end-of-utterance and requests a response.
	CommitAudio() error

	// SendText injects a user text turn.
	SendText(text string) error

	// SendToolResult answers a previously emitted tool call.
	SendToolResult(result entities.ToolResult) error

	// Disconnect tears the session down. An intentional disconnect
	// suppresses automatic reconnection.
	Disconnect(intentional bool) error

	// Events is the backend's output stream. It is closed after an
	// intentional disconnect completes.
	Events() <-chan BackendEvent

	Mode() entities.Mode
}
