package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/repositories"
	"github.com/satriahrh/wicara/internal/resilience"
)

const (
	defaultAPIBaseURL   = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM" // Rachel voice
	defaultChunkSize    = 1024
	defaultOutputFormat = "mp3_44100_128"
	defaultModelID      = "eleven_multilingual_v2"
	defaultStability    = 0.5
	defaultClarity      = 0.75

	// synthesisTimeout bounds the whole streaming call.
	synthesisTimeout = 30 * time.Second
)

// ElevenLabsConfig configures the synthesis adapter. APIKey is required;
// everything else falls back to defaults.
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	OutputFormat string
	ChunkSize    int
	Stability    float64
	Clarity      float64
	Speed        float64 // TTS rate multiplier, 1.0 is provider-normal
}

// ElevenLabsTTS implements TextToSpeech against the Eleven Labs API.
type ElevenLabsTTS struct {
	cfg    ElevenLabsConfig
	client *http.Client
	logger *zap.Logger
}

var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// NewElevenLabsTTS validates the config and applies defaults.
func NewElevenLabsTTS(cfg ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("eleven labs API key is required")
	}
	if cfg.Stability < 0 || cfg.Stability > 1 {
		return nil, fmt.Errorf("stability must be between 0 and 1, got %f", cfg.Stability)
	}
	if cfg.Clarity < 0 || cfg.Clarity > 1 {
		return nil, fmt.Errorf("clarity must be between 0 and 1, got %f", cfg.Clarity)
	}

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = defaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = defaultModelID
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = defaultOutputFormat
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Stability == 0 {
		cfg.Stability = defaultStability
	}
	if cfg.Clarity == 0 {
		cfg.Clarity = defaultClarity
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1.0
	}

	return &ElevenLabsTTS{
		cfg:    cfg,
		client: &http.Client{Timeout: synthesisTimeout},
		logger: logger,
	}, nil
}

// Synthesize streams audio bytes for text. Empty text yields a closed empty
// channel without calling the service.
func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	audioChan := make(chan []byte, 10)
	if strings.TrimSpace(text) == "" {
		close(audioChan)
		return audioChan, nil
	}

	payload := synthesisRequest{
		Text:    text,
		ModelID: e.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       e.cfg.Stability,
			SimilarityBoost: e.cfg.Clarity,
			Speed:           e.cfg.Speed,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s",
		e.cfg.APIBaseURL, e.cfg.VoiceID, e.cfg.OutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	accept := "audio/mpeg"
	if strings.HasPrefix(e.cfg.OutputFormat, "pcm") {
		accept = "audio/pcm"
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, &resilience.HTTPError{Status: resp.StatusCode, Body: string(errorBody)}
	}

	go func() {
		defer close(audioChan)
		defer resp.Body.Close()

		buffer := make([]byte, e.cfg.ChunkSize)
		total := 0
		for {
			n, err := resp.Body.Read(buffer)
			if n > 0 {
				total += n
				chunk := make([]byte, n)
				copy(chunk, buffer[:n])
				select {
				case audioChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				e.logger.Debug("Synthesis stream finished",
					zap.Int("totalBytes", total),
					zap.Int("characters", len(text)))
				return
			}
			if err != nil {
				e.logger.Error("Error reading synthesis stream", zap.Error(err))
				return
			}
		}
	}()

	return audioChan, nil
}

// SynthesizeAll collects the full audio buffer for text, bounded by the
// synthesis timeout.
func (e *ElevenLabsTTS) SynthesizeAll(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	stream, err := e.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	var out []byte
	for chunk := range stream {
		out = append(out, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("synthesis timed out: %w", err)
	}
	return out, nil
}
