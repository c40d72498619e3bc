package entities

import (
	"time"
)

// DefaultSampleRate is the capture rate for microphone audio.
const DefaultSampleRate = 16000

// PlaybackSampleRate is the rate of audio produced by the streaming backend.
const PlaybackSampleRate = 24000

// AudioFrame is an immutable slice of little-endian 16-bit PCM samples.
// Frames are created by the audio source and consumed by a backend; they are
// not retained beyond the current utterance.
type AudioFrame struct {
	PCM        []byte    `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	CapturedAt time.Time `json:"captured_at"`
}

// NewAudioFrame creates a frame at the default capture format.
func NewAudioFrame(pcm []byte, capturedAt time.Time) AudioFrame {
	return AudioFrame{
		PCM:        pcm,
		SampleRate: DefaultSampleRate,
		Channels:   1,
		CapturedAt: capturedAt,
	}
}

// Duration derives the frame length from its byte count (2 bytes per sample).
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.PCM) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// UtteranceState tracks the lifecycle of a single user speech event.
type UtteranceState string

const (
	UtteranceCapturing   UtteranceState = "capturing"
	UtteranceCommitted   UtteranceState = "committed"
	UtteranceTranscribed UtteranceState = "transcribed"
	UtteranceResponded   UtteranceState = "responded"
	UtteranceSynthesized UtteranceState = "synthesized"
	UtterancePlayed      UtteranceState = "played"

	// Premium mode skips the staged states and streams straight through.
	UtteranceStreaming UtteranceState = "streaming"
	UtteranceDone      UtteranceState = "done"
)

// Utterance is an ordered sequence of frames bounded by speech start/stop.
type Utterance struct {
	ID        string         `json:"id"`
	Frames    []AudioFrame   `json:"-"`
	State     UtteranceState `json:"state"`
	StartedAt time.Time      `json:"started_at"`
}

// NewUtterance starts a capturing utterance.
func NewUtterance(id string, startedAt time.Time) *Utterance {
	return &Utterance{
		ID:        id,
		State:     UtteranceCapturing,
		StartedAt: startedAt,
	}
}

// Append adds a frame in capture order.
func (u *Utterance) Append(frame AudioFrame) {
	u.Frames = append(u.Frames, frame)
}

// PCM concatenates all frames into a single buffer.
func (u *Utterance) PCM() []byte {
	size := 0
	for _, f := range u.Frames {
		size += len(f.PCM)
	}
	out := make([]byte, 0, size)
	for _, f := range u.Frames {
		out = append(out, f.PCM...)
	}
	return out
}

// Duration sums the frame durations.
func (u *Utterance) Duration() time.Duration {
	var total time.Duration
	for _, f := range u.Frames {
		total += f.Duration()
	}
	return total
}
