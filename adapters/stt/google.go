package stt

import (
	"context"
	"fmt"
	"os"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud. Input is one
// committed utterance wrapped in a WAV container; the recognition config
// declares LINEAR16 encoding, sample rate, channel count and language.
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates the client using ambient credentials.
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// Transcribe submits the WAV body and returns the best transcript. The temp
// spool file only lives for this call and is deleted on every exit path.
func (g *GoogleSpeechToText) Transcribe(ctx context.Context, wavBody []byte, config repositories.AudioConfig) (string, error) {
	if len(wavBody) == 0 {
		return "", fmt.Errorf("no audio data to transcribe")
	}

	spool, err := os.CreateTemp("", "utterance-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to spool audio: %w", err)
	}
	defer os.Remove(spool.Name())
	if _, err := spool.Write(wavBody); err != nil {
		spool.Close()
		return "", fmt.Errorf("failed to spool audio: %w", err)
	}
	spool.Close()

	language := config.Language
	if language == "" {
		language = "en-US"
	}

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:          speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:   int32(config.SampleRate),
			AudioChannelCount: int32(config.Channels),
			LanguageCode:      language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: wavBody},
		},
	})
	if err != nil {
		return "", fmt.Errorf("recognize failed: %w", err)
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) > 0 {
			parts = append(parts, result.Alternatives[0].Transcript)
		}
	}
	transcript := strings.TrimSpace(strings.Join(parts, " "))

	g.logger.Debug("Transcription completed",
		zap.Int("audioBytes", len(wavBody)),
		zap.Int("resultCount", len(resp.Results)))

	return transcript, nil
}

// Close releases the underlying client.
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}
