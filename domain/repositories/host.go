package repositories

import (
	"context"

	"github.com/satriahrh/wicara/domain/entities"
)

// AudioSource is the inbound frame stream. Finite or infinite; source
// failures surface on the error channel.
type AudioSource interface {
	Frames() <-chan entities.AudioFrame
	Errors() <-chan error
}

// AudioSink is the outbound playback device, owned exclusively by the
// orchestrator. Backends write through it.
type AudioSink interface {
	// Write queues a PCM (or provider-encoded) chunk at the given rate.
	Write(chunk []byte, sampleRate int) error
	// Flush signals end of the current chunk stream and drains playback.
	Flush() error
}

// Credentials supplies API keys and voice identifiers. Queried at backend
// instantiation; a missing credential is a fatal configuration error.
type Credentials interface {
	RealtimeAPIKey() (string, error)
	GeminiAPIKey() (string, error)
	ElevenLabsAPIKey() (string, error)
	VoiceName() string
}

// ConfirmRequest describes a side-effectful call awaiting user approval.
type ConfirmRequest struct {
	ID          string         `json:"id"`
	Function    string         `json:"function"`
	Arguments   map[string]any `json:"arguments"`
	Description string         `json:"description"`
}

// Confirmer is the external confirmation channel. Implementations should
// answer within the session's liveness window; when no channel is registered
// the executor denies by default.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (bool, error)
}
