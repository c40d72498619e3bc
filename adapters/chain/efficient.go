package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/domain/repositories"
	"github.com/satriahrh/wicara/internal/budget"
	"github.com/satriahrh/wicara/internal/resilience"
	"github.com/satriahrh/wicara/internal/wav"
)

const (
	// synthesisTimeout bounds stage three end to end.
	synthesisTimeout = 30 * time.Second

	// maxToolRounds caps reason/execute cycles within one utterance so a
	// looping model cannot pin the session.
	maxToolRounds = 4

	eventBuffer      = 64
	toolResultBuffer = 8
)

// Stage names carried on stage events.
const (
	StageTranscribing = "transcribing"
	StageReasoning    = "reasoning"
	StageSynthesizing = "synthesizing"
)

// Config holds capture parameters for the chain.
type Config struct {
	SampleRate int
	Channels   int
	Language   string
}

// EfficientBackend drives one utterance through transcribe, reason and
// synthesize. It owns the rolling message history; each stage retries
// independently with jitter and reports its cost to the ledger.
type EfficientBackend struct {
	stt      repositories.SpeechToText
	reasoner repositories.Reasoner
	tts      repositories.TextToSpeech
	ledger   *budget.Ledger
	clk      repositories.Clock
	logger   *zap.Logger
	cfg      Config

	events      chan repositories.BackendEvent
	toolResults chan entities.ToolResult

	mu      sync.Mutex
	frames  []entities.AudioFrame
	history *entities.History
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

var _ repositories.ConversationBackend = (*EfficientBackend)(nil)

// New creates a disconnected chain backend.
func New(stt repositories.SpeechToText, reasoner repositories.Reasoner, tts repositories.TextToSpeech, ledger *budget.Ledger, clk repositories.Clock, cfg Config, logger *zap.Logger) *EfficientBackend {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = entities.DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &EfficientBackend{
		stt:         stt,
		reasoner:    reasoner,
		tts:         tts,
		ledger:      ledger,
		clk:         clk,
		logger:      logger,
		cfg:         cfg,
		events:      make(chan repositories.BackendEvent, eventBuffer),
		toolResults: make(chan entities.ToolResult, toolResultBuffer),
		history:     entities.NewHistory(entities.DefaultHistoryWindow),
	}
}

// SetSystemPrompt installs the persistent system message.
func (b *EfficientBackend) SetSystemPrompt(prompt string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history.SetSystem(entities.Message{
		ID:        uuid.NewString(),
		Role:      entities.RoleSystem,
		Content:   prompt,
		Timestamp: b.clk.Now(),
	})
}

func (b *EfficientBackend) Mode() entities.Mode {
	return entities.ModeEfficient
}

func (b *EfficientBackend) Events() <-chan repositories.BackendEvent {
	return b.events
}

// Connect is lightweight: the chain holds no persistent transport.
func (b *EfficientBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.ctx != nil {
		b.mu.Unlock()
		return fmt.Errorf("chain backend already connected")
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.mu.Unlock()

	b.emit(repositories.BackendEvent{Type: repositories.EventSessionReady})
	return nil
}

// AppendAudio buffers one frame for the next commit.
func (b *EfficientBackend) AppendAudio(frame entities.AudioFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return fmt.Errorf("chain backend not connected")
	}
	b.frames = append(b.frames, frame)
	return nil
}

// CommitAudio snapshots the buffered utterance and runs the chain.
func (b *EfficientBackend) CommitAudio() error {
	b.mu.Lock()
	if b.ctx == nil {
		b.mu.Unlock()
		return fmt.Errorf("chain backend not connected")
	}
	frames := b.frames
	b.frames = nil
	ctx := b.ctx
	b.mu.Unlock()

	if len(frames) == 0 {
		return fmt.Errorf("no audio buffered")
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runChain(ctx, frames, "")
	}()
	return nil
}

// SendText injects a user text turn, skipping transcription.
func (b *EfficientBackend) SendText(text string) error {
	b.mu.Lock()
	if b.ctx == nil {
		b.mu.Unlock()
		return fmt.Errorf("chain backend not connected")
	}
	ctx := b.ctx
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runChain(ctx, nil, text)
	}()
	return nil
}

// SendToolResult answers the pending tool call.
func (b *EfficientBackend) SendToolResult(result entities.ToolResult) error {
	select {
	case b.toolResults <- result:
		return nil
	default:
		return fmt.Errorf("no pending tool call")
	}
}

// Disconnect cancels any in-flight chain, clears history and closes the
// event stream. The intentional flag exists for interface symmetry; the
// chain never reconnects on its own.
func (b *EfficientBackend) Disconnect(intentional bool) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.ctx = nil
	b.cancel = nil
	b.frames = nil
	b.history.Clear()
	alreadyClosed := b.closed
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	if !alreadyClosed {
		close(b.events)
	}
	return nil
}

func (b *EfficientBackend) emit(ev repositories.BackendEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		b.logger.Warn("Dropping backend event, consumer too slow",
			zap.String("type", string(ev.Type)))
	}
}

// runChain executes the three stages for one utterance. Either frames or
// text is set; text input skips transcription.
func (b *EfficientBackend) runChain(ctx context.Context, frames []entities.AudioFrame, text string) {
	transcript := text

	if len(frames) > 0 {
		var audioSeconds float64
		var pcm []byte
		for _, f := range frames {
			pcm = append(pcm, f.PCM...)
			audioSeconds += f.Duration().Seconds()
		}

		b.emit(repositories.BackendEvent{Type: repositories.EventStage, Text: StageTranscribing, Stage: entities.StageTranscribe})
		wavBody := wav.Encode(pcm, b.cfg.SampleRate, b.cfg.Channels, 16)

		var result string
		err := resilience.WithRetry(ctx, b.clk, resilience.StagePolicy, resilience.IsTransient,
			b.retryEmitter(entities.StageTranscribe),
			func(ctx context.Context) error {
				var err error
				result, err = b.stt.Transcribe(ctx, wavBody, repositories.AudioConfig{
					SampleRate: b.cfg.SampleRate,
					Channels:   b.cfg.Channels,
					Language:   b.cfg.Language,
				})
				return err
			})
		if err != nil {
			b.fail(fmt.Errorf("transcription failed: %w", err))
			return
		}

		b.ledger.Record(entities.ModeEfficient, entities.StageTranscribe, budget.Units{Minutes: audioSeconds / 60})
		b.emit(repositories.BackendEvent{Type: repositories.EventTranscription, Text: result})

		if result == "" {
			// Nothing recognized; end the interaction quietly.
			b.emit(repositories.BackendEvent{Type: repositories.EventAudioDone})
			b.emit(repositories.BackendEvent{Type: repositories.EventResponseDone})
			return
		}
		transcript = result
	}

	b.mu.Lock()
	b.history.Append(entities.Message{
		ID:        uuid.NewString(),
		Role:      entities.RoleUser,
		Content:   transcript,
		Timestamp: b.clk.Now(),
	})
	b.mu.Unlock()

	finalText, ok := b.reason(ctx)
	if !ok {
		return
	}
	b.emit(repositories.BackendEvent{Type: repositories.EventResponse, Text: finalText})
	b.emit(repositories.BackendEvent{Type: repositories.EventTextDone, Text: finalText})

	b.synthesize(ctx, finalText)
}

// reason runs the model over the rolling window, dispatching tool calls to
// the orchestrator one at a time and feeding their results back in, until
// the model answers with plain text.
func (b *EfficientBackend) reason(ctx context.Context) (string, bool) {
	b.emit(repositories.BackendEvent{Type: repositories.EventStage, Text: StageReasoning, Stage: entities.StageReason})

	for round := 0; round < maxToolRounds; round++ {
		b.mu.Lock()
		active := b.history.Messages()
		b.mu.Unlock()

		var reply repositories.Reply
		err := resilience.WithRetry(ctx, b.clk, resilience.StagePolicy, resilience.IsTransient,
			b.retryEmitter(entities.StageReason),
			func(ctx context.Context) error {
				var err error
				reply, err = b.reasoner.Reply(ctx, active)
				return err
			})
		if err != nil {
			b.fail(fmt.Errorf("reasoning failed: %w", err))
			return "", false
		}

		b.ledger.Record(entities.ModeEfficient, entities.StageReason, budget.Units{
			InputTokens:  reply.Usage.InputTokens,
			OutputTokens: reply.Usage.OutputTokens,
		})

		assistant := entities.Message{
			ID:        uuid.NewString(),
			Role:      entities.RoleAssistant,
			Content:   reply.Text,
			Timestamp: b.clk.Now(),
		}
		if len(reply.Calls) > 0 {
			assistant.ToolCall = &reply.Calls[0]
		}
		b.mu.Lock()
		b.history.Append(assistant)
		b.mu.Unlock()

		if len(reply.Calls) == 0 {
			return reply.Text, true
		}

		// Tool calls execute sequentially in arrival order; each result is
		// appended to history before the next call is surfaced.
		for i := range reply.Calls {
			call := reply.Calls[i]
			b.emit(repositories.BackendEvent{Type: repositories.EventToolCall, Call: &call})

			select {
			case <-ctx.Done():
				return "", false
			case result := <-b.toolResults:
				b.mu.Lock()
				b.history.Append(entities.Message{
					ID:         uuid.NewString(),
					Role:       entities.RoleTool,
					Content:    call.Name,
					Timestamp:  b.clk.Now(),
					ToolResult: &result,
				})
				b.mu.Unlock()
			}
		}
	}

	b.fail(fmt.Errorf("model exceeded %d tool rounds", maxToolRounds))
	return "", false
}

// synthesize streams the reply audio, concatenates it and emits the buffer.
// Empty text yields an empty buffer without touching the service.
func (b *EfficientBackend) synthesize(ctx context.Context, text string) {
	b.emit(repositories.BackendEvent{Type: repositories.EventStage, Text: StageSynthesizing, Stage: entities.StageSynthesize})

	var audio []byte
	if text != "" {
		err := resilience.WithRetry(ctx, b.clk, resilience.StagePolicy, resilience.IsTransient,
			b.retryEmitter(entities.StageSynthesize),
			func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
				defer cancel()
				stream, err := b.tts.Synthesize(ctx, text)
				if err != nil {
					return err
				}
				var buf []byte
				for chunk := range stream {
					buf = append(buf, chunk...)
				}
				if err := ctx.Err(); err != nil {
					return err
				}
				audio = buf
				return nil
			})
		if err != nil {
			b.fail(fmt.Errorf("synthesis failed: %w", err))
			return
		}
		b.ledger.Record(entities.ModeEfficient, entities.StageSynthesize, budget.Units{Characters: len(text)})
	}

	b.emit(repositories.BackendEvent{Type: repositories.EventAudioChunk, Audio: audio})
	b.emit(repositories.BackendEvent{Type: repositories.EventAudioDone})
	b.emit(repositories.BackendEvent{Type: repositories.EventResponseDone})
}

func (b *EfficientBackend) retryEmitter(stage entities.CostStage) func(int, time.Duration) {
	return func(attempt int, delay time.Duration) {
		b.logger.Warn("Stage retry scheduled",
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		b.emit(repositories.BackendEvent{
			Type:    repositories.EventRetry,
			Stage:   stage,
			Attempt: attempt,
			Delay:   delay,
		})
	}
}

func (b *EfficientBackend) fail(err error) {
	b.logger.Error("Chain stage failed", zap.Error(err))
	b.emit(repositories.BackendEvent{Type: repositories.EventError, Err: err})
}
