package repositories

import (
	"context"
)

// AudioConfig describes captured audio for transcription.
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Language   string `json:"language"`
}

// SpeechToText abstracts the remote transcription service. The input is a
// complete WAV container for one committed utterance.
type SpeechToText interface {
	Transcribe(ctx context.Context, wav []byte, config AudioConfig) (string, error)
}

// TextToSpeech abstracts the remote synthesis service. Audio bytes stream
// on the returned channel, which is closed when the stream ends.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}
