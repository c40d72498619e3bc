package usecase

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
	"github.com/satriahrh/wicara/internal/events"
	"github.com/satriahrh/wicara/internal/functions"
)

// Published event names.
const (
	EventStatus              = "status"
	EventTranscript          = "transcript"
	EventMetrics             = "metrics"
	EventAudioPlaying        = "audio_playing"
	EventAudioStopped        = "audio_stopped"
	EventInteractionComplete = "interaction_complete"
	EventWakeword            = "wakeword"
	EventErrorName           = "error"
	EventFunctionCall        = "function_call"
)

const (
	defaultSilenceTimeout = 3 * time.Second
	defaultNudgeDelay     = 10 * time.Second
	defaultMaxNudges      = 2

	frameBuffer = 128
)

// followUpPrompts is the fixed pool for the idle conversational nudge, the
// only place the core produces unsolicited speech.
var followUpPrompts = []string{
	"Is there anything else I can help you with?",
	"I'm still here if you need anything.",
	"Let me know if you'd like me to do anything else.",
}

// BackendFactory instantiates a backend for the requested mode. Efficient
// backends are lightweight; premium backends perform a session handshake on
// Connect.
type BackendFactory func(ctx context.Context, mode entities.Mode) (repositories.ConversationBackend, error)

// OrchestratorConfig tunes session behaviour.
type OrchestratorConfig struct {
	SilenceTimeout time.Duration
	NudgeDelay     time.Duration
	MaxNudges      int
	Greeting       string
}

// WakeSignal is an externally detected wake event; detection itself lives
// outside the core.
type WakeSignal struct {
	Keyword    string  `json:"keyword"`
	Confidence float64 `json:"confidence"`
}

type toolOutcome struct {
	call    entities.ToolCall
	result  map[string]any
	err     error
	elapsed time.Duration
}

// Orchestrator owns the session state machine and routes every event
// between the audio source, the active backend, the function executor and
// the audio sink. Frame, backend, tool, timer and injected-text events are
// handled on its single event loop; TriggerReset and the teardown after Stop
// set the status from the calling goroutine under the state mutex.
type Orchestrator struct {
	cfg      OrchestratorConfig
	router   *AdaptiveRouter
	executor *functions.Executor
	ledger   *budget.Ledger
	sink     repositories.AudioSink
	clk      repositories.Clock
	factory  BackendFactory
	bus      *events.Registry
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	frames   chan entities.AudioFrame
	wakes    chan WakeSignal
	injected chan string
	state    entities.SessionState
	nextHint entities.InteractionHint

	// Loop-owned fields; touched only by run().
	backend       repositories.ConversationBackend
	backendEvents <-chan repositories.BackendEvent
	pendingCalls  []entities.ToolCall
	executing     bool
	toolDone      chan toolOutcome
	silenceCh     <-chan time.Time
	nudgeCh       <-chan time.Time
	nudgeCount    int
}

// NewOrchestrator wires the orchestrator. Defaults: 3 s silence commit, 10 s
// idle nudge capped at two follow-ups.
func NewOrchestrator(cfg OrchestratorConfig, router *AdaptiveRouter, executor *functions.Executor, ledger *budget.Ledger, sink repositories.AudioSink, clk repositories.Clock, factory BackendFactory, logger *zap.Logger) *Orchestrator {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = defaultSilenceTimeout
	}
	if cfg.NudgeDelay <= 0 {
		cfg.NudgeDelay = defaultNudgeDelay
	}
	if cfg.MaxNudges <= 0 {
		cfg.MaxNudges = defaultMaxNudges
	}
	return &Orchestrator{
		cfg:      cfg,
		router:   router,
		executor: executor,
		ledger:   ledger,
		sink:     sink,
		clk:      clk,
		factory:  factory,
		bus:      events.NewRegistry(),
		logger:   logger,
		state:    entities.SessionState{Status: entities.StatusIdle},
	}
}

// On subscribes to a published event and returns an unsubscribe handle.
func (o *Orchestrator) On(name string, handler events.Handler) func() {
	return o.bus.On(name, handler)
}

// State returns the current session snapshot.
func (o *Orchestrator) State() entities.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start routes the initial decision, connects the chosen backend and runs
// the event loop. It fails synchronously on configuration errors.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	loopCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.frames = make(chan entities.AudioFrame, frameBuffer)
	o.wakes = make(chan WakeSignal, 4)
	o.injected = make(chan string, 1)
	o.mu.Unlock()

	decision := o.router.Route(entities.HintNone)
	backend, err := o.factory(ctx, decision.Mode)
	if err != nil {
		o.teardown()
		return fmt.Errorf("failed to build %s backend: %w", decision.Mode, err)
	}
	if err := backend.Connect(ctx); err != nil {
		o.teardown()
		return fmt.Errorf("failed to connect %s backend: %w", decision.Mode, err)
	}

	o.backend = backend
	o.backendEvents = backend.Events()
	o.toolDone = make(chan toolOutcome, 1)

	o.mu.Lock()
	o.state.Mode = decision.Mode
	o.mu.Unlock()

	o.logger.Info("Session started",
		zap.String("mode", string(decision.Mode)),
		zap.String("reason", string(decision.Reason)))

	// The greeting goes through the loop like every other state mutation;
	// run() consumes it from the injected-text channel.
	if o.cfg.Greeting != "" {
		o.injected <- o.cfg.Greeting
	}

	go o.run(loopCtx)
	return nil
}

// Stop is idempotent and synchronous: it cancels timers and pending
// retries, disconnects the backend intentionally, drains the sink and lands
// on idle. In-flight tool executions finish but their results are discarded.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	cancel()
	<-done
	o.teardown()
}

func (o *Orchestrator) teardown() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.running = false
	o.cancel = nil
	o.state.Status = entities.StatusIdle
	o.state.Utterance = nil
	o.mu.Unlock()
}

// HandleFrame feeds one captured frame into the loop. Frames arriving while
// the loop is saturated or stopped are discarded.
func (o *Orchestrator) HandleFrame(frame entities.AudioFrame) {
	o.mu.Lock()
	running := o.running
	frames := o.frames
	o.mu.Unlock()
	if !running {
		return
	}
	select {
	case frames <- frame:
	default:
	}
}

// SetInteractionHint labels the next interaction for the router; a simple
// hint steers short factual exchanges onto the cheap chain. The hint is
// consumed at the next utterance boundary.
func (o *Orchestrator) SetInteractionHint(hint entities.InteractionHint) {
	o.mu.Lock()
	o.nextHint = hint
	o.mu.Unlock()
}

// Wake reports an externally detected wake word.
func (o *Orchestrator) Wake(signal WakeSignal) {
	o.mu.Lock()
	running := o.running
	wakes := o.wakes
	o.mu.Unlock()
	if !running {
		return
	}
	select {
	case wakes <- signal:
	default:
	}
}

// run is the single event loop; every state mutation except TriggerReset and
// the post-Stop teardown happens here.
func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)
	defer o.shutdownBackend()

	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-o.frames:
			o.onFrame(ctx, frame)

		case signal := <-o.wakes:
			o.bus.Emit(EventWakeword, signal)

		case text := <-o.injected:
			o.injectText(text)

		case ev, ok := <-o.backendEvents:
			if !ok {
				o.backendEvents = nil
				continue
			}
			o.onBackendEvent(ev)

		case outcome := <-o.toolDone:
			o.onToolDone(outcome)

		case <-o.silenceCh:
			o.onSilence()

		case <-o.nudgeCh:
			o.onNudge()
		}
	}
}

func (o *Orchestrator) shutdownBackend() {
	if o.backend != nil {
		o.backend.Disconnect(true)
	}
	if o.sink != nil {
		o.sink.Flush()
	}
}

func (o *Orchestrator) status() entities.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Status
}

// setStatus applies a transition and publishes the new snapshot. Illegal
// transitions are logged and dropped, except the always-allowed error entry.
func (o *Orchestrator) setStatus(next entities.Status) {
	o.mu.Lock()
	current := o.state.Status
	if current == next {
		o.mu.Unlock()
		return
	}
	if !entities.CanTransition(current, next) {
		o.mu.Unlock()
		o.logger.Warn("Illegal status transition dropped",
			zap.String("from", string(current)),
			zap.String("to", string(next)))
		return
	}
	o.state.Status = next
	o.state.Metrics = o.ledger.Metrics(o.clk.Now())
	snapshot := o.state
	o.mu.Unlock()

	o.bus.Emit(EventStatus, snapshot)
}

// onFrame forwards captured audio to the active backend. While speaking or
// in error, inbound frames are discarded (echo suppression).
func (o *Orchestrator) onFrame(ctx context.Context, frame entities.AudioFrame) {
	switch o.status() {
	case entities.StatusSpeaking, entities.StatusError:
		return
	case entities.StatusIdle:
		o.beginUtterance(ctx)
	}

	o.mu.Lock()
	if o.state.Utterance != nil {
		o.state.Utterance.Append(frame)
	}
	mode := o.state.Mode
	o.mu.Unlock()

	// Efficient mode bounds the utterance with a local silence timer; each
	// frame pushes the deadline out.
	if mode == entities.ModeEfficient {
		o.silenceCh = o.clk.After(o.cfg.SilenceTimeout)
	}

	if err := o.backend.AppendAudio(frame); err != nil {
		o.logger.Warn("Failed to forward frame", zap.Error(err))
	}
}

// beginUtterance re-routes at the utterance boundary, swapping backends when
// the decision changed, then enters listening.
func (o *Orchestrator) beginUtterance(ctx context.Context) {
	o.mu.Lock()
	hint := o.nextHint
	o.nextHint = entities.HintNone
	activeMode := o.state.Mode
	o.mu.Unlock()

	decision := o.router.Route(hint)

	if decision.Mode != activeMode {
		o.switchBackend(ctx, decision)
	}

	utterance := entities.NewUtterance(uuid.NewString(), o.clk.Now())
	o.mu.Lock()
	o.state.Utterance = utterance
	o.mu.Unlock()

	o.nudgeCount = 0
	o.nudgeCh = nil
	o.setStatus(entities.StatusListening)
}

// switchBackend tears the active backend down and instantiates the other.
func (o *Orchestrator) switchBackend(ctx context.Context, decision entities.RoutingDecision) {
	o.logger.Info("Switching backend",
		zap.String("mode", string(decision.Mode)),
		zap.String("reason", string(decision.Reason)))

	if o.backend != nil {
		o.backend.Disconnect(true)
	}

	backend, err := o.factory(ctx, decision.Mode)
	if err == nil {
		err = backend.Connect(ctx)
	}
	if err != nil {
		o.fatal(fmt.Errorf("backend switch to %s failed: %w", decision.Mode, err))
		return
	}

	o.backend = backend
	o.backendEvents = backend.Events()
	o.mu.Lock()
	o.state.Mode = decision.Mode
	o.mu.Unlock()
}

// onSilence fires when the efficient-mode silence timer expires.
func (o *Orchestrator) onSilence() {
	o.silenceCh = nil
	if o.status() != entities.StatusListening {
		return
	}
	o.mu.Lock()
	if o.state.Utterance != nil {
		o.state.Utterance.State = entities.UtteranceCommitted
	}
	o.mu.Unlock()

	o.setStatus(entities.StatusThinking)
	if err := o.backend.CommitAudio(); err != nil {
		o.fatal(fmt.Errorf("commit failed: %w", err))
	}
}

func (o *Orchestrator) onBackendEvent(ev repositories.BackendEvent) {
	switch ev.Type {
	case repositories.EventSpeechStarted:
		// Premium VAD boundary; the frame path has usually opened the
		// utterance already.
		o.nudgeCount = 0
		o.nudgeCh = nil

	case repositories.EventSpeechStopped:
		if o.status() == entities.StatusListening {
			o.mu.Lock()
			if o.state.Utterance != nil {
				o.state.Utterance.State = entities.UtteranceCommitted
			}
			o.mu.Unlock()
			o.setStatus(entities.StatusThinking)
		}

	case repositories.EventAudioChunk:
		if o.status() == entities.StatusThinking {
			o.setStatus(entities.StatusSpeaking)
			o.bus.Emit(EventAudioPlaying, nil)
		}
		if len(ev.Audio) > 0 {
			if err := o.sink.Write(ev.Audio, ev.SampleRate); err != nil {
				o.logger.Warn("Sink write failed", zap.Error(err))
			}
		}

	case repositories.EventAudioDone:
		o.sink.Flush()
		o.bus.Emit(EventAudioStopped, nil)

	case repositories.EventTranscription, repositories.EventTextDone:
		o.bus.Emit(EventTranscript, ev.Text)

	case repositories.EventResponse, repositories.EventTextDelta:
		o.bus.Emit(EventTranscript, ev.Text)

	case repositories.EventToolCall:
		if ev.Call != nil {
			o.pendingCalls = append(o.pendingCalls, *ev.Call)
			o.startNextTool()
		}

	case repositories.EventResponseDone:
		o.completeInteraction()

	case repositories.EventReconnecting:
		o.logger.Info("Backend reconnecting",
			zap.Int("attempt", ev.Attempt),
			zap.Duration("delay", ev.Delay))

	case repositories.EventReconnectionFailed:
		o.fatal(fmt.Errorf("backend reconnection failed"))

	case repositories.EventError:
		o.fatal(ev.Err)
	}
}

// startNextTool dispatches the oldest pending call. Calls within a response
// execute sequentially; the next one starts only after the current result
// has been returned to the backend.
func (o *Orchestrator) startNextTool() {
	if o.executing || len(o.pendingCalls) == 0 {
		return
	}
	call := o.pendingCalls[0]
	o.pendingCalls = o.pendingCalls[1:]
	o.executing = true
	o.setStatus(entities.StatusExecuting)

	go func() {
		started := o.clk.Now()
		result, err := o.executor.Execute(context.Background(), call)
		o.toolDone <- toolOutcome{
			call:    call,
			result:  result,
			err:     err,
			elapsed: o.clk.Now().Sub(started),
		}
	}()
}

func (o *Orchestrator) onToolDone(outcome toolOutcome) {
	result := entities.ToolResult{
		CallID:        outcome.call.CallID,
		ExecutionTime: outcome.elapsed,
	}
	if outcome.err != nil {
		result.Error = outcome.err.Error()
	} else {
		result.Result = outcome.result
	}

	o.bus.Emit(EventFunctionCall, map[string]any{
		"name":       outcome.call.Name,
		"call_id":    outcome.call.CallID,
		"error":      result.Error,
		"elapsed_ms": outcome.elapsed.Milliseconds(),
	})

	if err := o.backend.SendToolResult(result); err != nil {
		o.logger.Warn("Failed to return tool result", zap.Error(err))
	}

	o.executing = false
	o.setStatus(entities.StatusThinking)
	o.startNextTool()
}

// completeInteraction flushes playback, publishes metrics and returns to
// idle, arming the conversational nudge.
func (o *Orchestrator) completeInteraction() {
	o.sink.Flush()

	o.mu.Lock()
	if o.state.Utterance != nil {
		if o.state.Mode == entities.ModePremium {
			o.state.Utterance.State = entities.UtteranceDone
		} else {
			o.state.Utterance.State = entities.UtterancePlayed
		}
	}
	o.state.Utterance = nil
	o.mu.Unlock()

	if o.nudgeCount < o.cfg.MaxNudges {
		o.nudgeCh = o.clk.After(o.cfg.NudgeDelay)
	}

	o.setStatus(entities.StatusIdle)
	o.bus.Emit(EventInteractionComplete, nil)
	o.bus.Emit(EventMetrics, o.ledger.Metrics(o.clk.Now()))
}

// injectText starts a response for an unprompted turn (greeting, idle
// nudge). Runs on the loop.
func (o *Orchestrator) injectText(text string) {
	o.setStatus(entities.StatusThinking)
	if err := o.backend.SendText(text); err != nil {
		o.logger.Warn("Injected turn failed", zap.Error(err))
		o.setStatus(entities.StatusIdle)
	}
}

// onNudge speaks a short follow-up if the session is still idle. Follow-ups
// are capped per idle period; any new user speech resets the counter.
func (o *Orchestrator) onNudge() {
	o.nudgeCh = nil
	if o.status() != entities.StatusIdle || o.nudgeCount >= o.cfg.MaxNudges {
		return
	}
	prompt := followUpPrompts[o.nudgeCount%len(followUpPrompts)]
	o.nudgeCount++
	o.injectText(prompt)
}

// fatal transitions to error, which is left through TriggerReset or a
// stop/start cycle. The orchestrator never raises; failures surface as events.
func (o *Orchestrator) fatal(err error) {
	if err == nil {
		err = fmt.Errorf("unknown backend failure")
	}
	o.logger.Error("Fatal session error", zap.Error(err))
	o.setStatus(entities.StatusError)
	o.bus.Emit(EventErrorName, err.Error())
}

// TriggerReset recovers from the error state back to idle without a full
// stop/start cycle.
func (o *Orchestrator) TriggerReset() {
	if o.status() != entities.StatusError {
		return
	}
	o.mu.Lock()
	o.state.Utterance = nil
	o.mu.Unlock()
	o.setStatus(entities.StatusIdle)
}
