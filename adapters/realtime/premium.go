package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/domain/repositories"
	"github.com/satriahrh/wicara/internal/budget"
	"github.com/satriahrh/wicara/internal/resilience"
)

const (
	defaultEndpoint = "wss://api.openai.com/v1/realtime"
	defaultModel    = "gpt-4o-realtime-preview"

	// handshakeTimeout bounds every connection attempt.
	handshakeTimeout = 30 * time.Second

	// Server-side VAD parameters declared in the session configuration.
	vadThreshold       = 0.5
	vadPrefixPaddingMS = 300
	vadSilenceTailMS   = 500

	eventBuffer = 256
)

// Config configures the streaming speech-to-speech session.
type Config struct {
	Endpoint     string
	Model        string
	APIKey       string
	Voice        string
	Instructions string
	Temperature  float64
}

// PremiumBackend owns a long-lived bidirectional session carrying control
// frames and base64 audio. Callers interact only through method calls and
// the event stream; connection lifecycle, including reconnection with
// exponential backoff, is handled internally.
type PremiumBackend struct {
	cfg    Config
	clk    repositories.Clock
	ledger *budget.Ledger
	logger *zap.Logger
	tools  []map[string]any
	dialer *websocket.Dialer

	events chan repositories.BackendEvent

	mu          sync.Mutex
	conn        *websocket.Conn
	stop        chan struct{}
	intentional bool
	closed      bool

	// Usage counters for the in-flight response.
	audioInSeconds float64
	audioOutBytes  int
}

var _ repositories.ConversationBackend = (*PremiumBackend)(nil)

// New creates a disconnected streaming backend. The tool declarations come
// from the function catalog.
func New(cfg Config, tools []map[string]any, ledger *budget.Ledger, clk repositories.Clock, logger *zap.Logger) (*PremiumBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("realtime API key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}
	return &PremiumBackend{
		cfg:    cfg,
		clk:    clk,
		ledger: ledger,
		logger: logger,
		tools:  tools,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		events: make(chan repositories.BackendEvent, eventBuffer),
		stop:   make(chan struct{}),
	}, nil
}

func (p *PremiumBackend) Mode() entities.Mode {
	return entities.ModePremium
}

func (p *PremiumBackend) Events() <-chan repositories.BackendEvent {
	return p.events
}

// Connect dials the transport and issues the session configuration.
func (p *PremiumBackend) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.conn != nil {
		p.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	p.intentional = false
	p.mu.Unlock()

	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	if err := p.configureSession(); err != nil {
		conn.Close()
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		return err
	}

	go p.readLoop(conn)
	return nil
}

func (p *PremiumBackend) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s?model=%s", p.cfg.Endpoint, p.cfg.Model)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := p.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}
	return conn, nil
}

// configureSession declares modalities, voice, audio formats, server VAD and
// the tool schema. It runs on every (re)connect.
func (p *PremiumBackend) configureSession() error {
	session := map[string]any{
		"modalities":          []string{"text", "audio"},
		"instructions":        p.cfg.Instructions,
		"voice":               p.cfg.Voice,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           vadThreshold,
			"prefix_padding_ms":   vadPrefixPaddingMS,
			"silence_duration_ms": vadSilenceTailMS,
		},
		"tools":       p.tools,
		"temperature": p.cfg.Temperature,
	}
	return p.send(map[string]any{"type": "session.update", "session": session})
}

func (p *PremiumBackend) send(msg map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("not connected")
	}
	return p.conn.WriteJSON(msg)
}

// AppendAudio streams one PCM frame into the input buffer.
func (p *PremiumBackend) AppendAudio(frame entities.AudioFrame) error {
	p.mu.Lock()
	p.audioInSeconds += frame.Duration().Seconds()
	p.mu.Unlock()
	return p.send(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(frame.PCM),
	})
}

// CommitAudio marks end-of-utterance and requests a response.
func (p *PremiumBackend) CommitAudio() error {
	if err := p.send(map[string]any{"type": "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return p.send(map[string]any{"type": "response.create"})
}

// SendText injects a user text turn.
func (p *PremiumBackend) SendText(text string) error {
	item := map[string]any{
		"type": "message",
		"role": "user",
		"content": []map[string]any{
			{"type": "input_text", "text": text},
		},
	}
	if err := p.send(map[string]any{"type": "conversation.item.create", "item": item}); err != nil {
		return err
	}
	return p.send(map[string]any{"type": "response.create"})
}

// SendToolResult answers a tool call and asks the model to continue.
func (p *PremiumBackend) SendToolResult(result entities.ToolResult) error {
	payload := map[string]any{}
	if result.Error != "" {
		payload["error"] = result.Error
	} else {
		payload["result"] = result.Result
	}
	output, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode tool result: %w", err)
	}

	item := map[string]any{
		"type":    "function_call_output",
		"call_id": result.CallID,
		"output":  string(output),
	}
	if err := p.send(map[string]any{"type": "conversation.item.create", "item": item}); err != nil {
		return err
	}
	return p.send(map[string]any{"type": "response.create"})
}

// Disconnect closes the transport. Intentional disconnects suppress
// reconnection and close the event stream.
func (p *PremiumBackend) Disconnect(intentional bool) error {
	p.mu.Lock()
	p.intentional = intentional
	conn := p.conn
	p.conn = nil
	closeStream := intentional && !p.closed
	if closeStream {
		p.closed = true
		close(p.stop)
	}
	p.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		conn.Close()
	}

	if closeStream {
		close(p.events)
	}
	return nil
}

// Reconnect resets the backoff state and dials again immediately. The old
// connection is detached first so its read loop exits without triggering the
// automatic reconnection path.
func (p *PremiumBackend) Reconnect(ctx context.Context) error {
	p.mu.Lock()
	old := p.conn
	p.conn = nil
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	if err := p.configureSession(); err != nil {
		conn.Close()
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		return err
	}
	go p.readLoop(conn)
	return nil
}

func (p *PremiumBackend) emit(ev repositories.BackendEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("Dropping realtime event, consumer too slow",
			zap.String("type", string(ev.Type)))
	}
}

// serverEvent is the wire shape of inbound session events.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response *struct {
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage,omitempty"`
	} `json:"response,omitempty"`
}

func (p *PremiumBackend) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			p.handleDisconnect(conn, err)
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			p.logger.Warn("Malformed server event", zap.Error(err))
			continue
		}
		p.handleServerEvent(ev)
	}
}

func (p *PremiumBackend) handleServerEvent(ev serverEvent) {
	switch ev.Type {
	case "session.created", "session.updated":
		if ev.Type == "session.created" {
			p.emit(repositories.BackendEvent{Type: repositories.EventSessionReady})
		}
	case "input_audio_buffer.speech_started":
		p.emit(repositories.BackendEvent{Type: repositories.EventSpeechStarted})
	case "input_audio_buffer.speech_stopped":
		p.emit(repositories.BackendEvent{Type: repositories.EventSpeechStopped})
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			p.logger.Warn("Bad audio delta", zap.Error(err))
			return
		}
		p.mu.Lock()
		p.audioOutBytes += len(pcm)
		p.mu.Unlock()
		p.emit(repositories.BackendEvent{
			Type:       repositories.EventAudioChunk,
			Audio:      pcm,
			SampleRate: entities.PlaybackSampleRate,
		})
	case "response.audio.done":
		p.emit(repositories.BackendEvent{Type: repositories.EventAudioDone})
	case "response.audio_transcript.delta":
		p.emit(repositories.BackendEvent{Type: repositories.EventTextDelta, Text: ev.Delta})
	case "response.audio_transcript.done":
		p.emit(repositories.BackendEvent{Type: repositories.EventTextDone, Text: ev.Transcript})
	case "response.function_call_arguments.done":
		args := map[string]any{}
		if ev.Arguments != "" {
			if err := json.Unmarshal([]byte(ev.Arguments), &args); err != nil {
				p.logger.Warn("Bad tool arguments", zap.String("call", ev.CallID), zap.Error(err))
			}
		}
		p.emit(repositories.BackendEvent{
			Type: repositories.EventToolCall,
			Call: &entities.ToolCall{CallID: ev.CallID, Name: ev.Name, Arguments: args},
		})
	case "response.done":
		p.recordResponseCost(ev)
		p.emit(repositories.BackendEvent{Type: repositories.EventResponseDone})
	case "error":
		msg := "server error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		p.emit(repositories.BackendEvent{Type: repositories.EventError, Err: fmt.Errorf("%s", msg)})
	}
}

// recordResponseCost charges the ledger once per completed response: audio
// seconds both ways plus any token usage the server reported.
func (p *PremiumBackend) recordResponseCost(ev serverEvent) {
	p.mu.Lock()
	inSeconds := p.audioInSeconds
	outSeconds := float64(p.audioOutBytes) / float64(entities.PlaybackSampleRate*2)
	p.audioInSeconds = 0
	p.audioOutBytes = 0
	p.mu.Unlock()

	units := budget.Units{
		AudioInSeconds:  inSeconds,
		AudioOutSeconds: outSeconds,
	}
	if ev.Response != nil && ev.Response.Usage != nil {
		units.TextInTokens = ev.Response.Usage.InputTokens
		units.TextOutTokens = ev.Response.Usage.OutputTokens
	}
	p.ledger.Record(entities.ModePremium, entities.StageRealtime, units)
}

// handleDisconnect runs after a read loop fails. A connection that has
// already been detached (intentional disconnect or explicit reconnect) is
// ignored; unsolicited drops emit a disconnected event and enter the
// reconnection loop.
func (p *PremiumBackend) handleDisconnect(conn *websocket.Conn, cause error) {
	p.mu.Lock()
	if p.conn != conn {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	intentional := p.intentional
	p.mu.Unlock()

	if intentional {
		return
	}

	code := websocket.CloseAbnormalClosure
	reason := cause.Error()
	if closeErr, ok := cause.(*websocket.CloseError); ok {
		code = closeErr.Code
		reason = closeErr.Text
	}
	p.logger.Warn("Realtime transport dropped",
		zap.Int("code", code),
		zap.String("reason", reason))
	p.emit(repositories.BackendEvent{
		Type:   repositories.EventDisconnected,
		Code:   code,
		Reason: reason,
	})

	go p.reconnectLoop()
}

// reconnectLoop retries with exponential backoff: 1 s initial, doubling to a
// 30 s cap, at most five attempts. A successful dial re-issues the session
// configuration.
func (p *PremiumBackend) reconnectLoop() {
	policy := resilience.ReconnectPolicy

	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		delay := policy.Delay(attempt)
		p.emit(repositories.BackendEvent{
			Type:    repositories.EventReconnecting,
			Attempt: attempt,
			Delay:   delay,
		})

		select {
		case <-p.stop:
			return
		case <-p.clk.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		conn, err := p.dial(ctx)
		cancel()
		if err != nil {
			p.logger.Warn("Reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()

		if err := p.configureSession(); err != nil {
			p.logger.Warn("Session reconfiguration failed", zap.Error(err))
			conn.Close()
			p.mu.Lock()
			p.conn = nil
			p.mu.Unlock()
			continue
		}

		p.emit(repositories.BackendEvent{Type: repositories.EventReconnected, Attempt: attempt})
		go p.readLoop(conn)
		return
	}

	p.emit(repositories.BackendEvent{Type: repositories.EventReconnectionFailed})
}
