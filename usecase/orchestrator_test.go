package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/domain/repositories"
	"github.com/satriahrh/wicara/internal/budget"
	"github.com/satriahrh/wicara/internal/clockwork"
	"github.com/satriahrh/wicara/internal/functions"
)

type fakeBackend struct {
	mode   entities.Mode
	events chan repositories.BackendEvent

	mu          sync.Mutex
	appended    []entities.AudioFrame
	committed   int
	texts       []string
	results     []entities.ToolResult
	disconnects []bool
	closed      bool
}

func newFakeBackend(mode entities.Mode) *fakeBackend {
	return &fakeBackend{
		mode:   mode,
		events: make(chan repositories.BackendEvent, 64),
	}
}

func (f *fakeBackend) Connect(ctx context.Context) error { return nil }

func (f *fakeBackend) AppendAudio(frame entities.AudioFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, frame)
	return nil
}

func (f *fakeBackend) CommitAudio() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed++
	return nil
}

func (f *fakeBackend) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeBackend) SendToolResult(result entities.ToolResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeBackend) Disconnect(intentional bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, intentional)
	if intentional && !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeBackend) Events() <-chan repositories.BackendEvent { return f.events }
func (f *fakeBackend) Mode() entities.Mode                      { return f.mode }

func (f *fakeBackend) emit(ev repositories.BackendEvent) { f.events <- ev }

func (f *fakeBackend) appendedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

func (f *fakeBackend) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed
}

func (f *fakeBackend) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

func (f *fakeBackend) sentResults() []entities.ToolResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entities.ToolResult, len(f.results))
	copy(out, f.results)
	return out
}

type fakeSink struct {
	mu      sync.Mutex
	writes  int
	flushes int
}

func (s *fakeSink) Write(chunk []byte, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return nil
}

func (s *fakeSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

type harness struct {
	orchestrator *Orchestrator
	router       *AdaptiveRouter
	backends     map[entities.Mode]*fakeBackend
	sink         *fakeSink
	clk          *clockwork.Clock
	advance      func(time.Duration)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithConfig(t, OrchestratorConfig{})
}

func newHarnessWithConfig(t *testing.T, cfg OrchestratorConfig) *harness {
	t.Helper()
	clk, mock := clockwork.NewMock()
	mock.Set(time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)) // inside peak hours

	logger := zap.NewNop()
	ledger := budget.NewLedger(clk, 1.00, 30.00, logger)
	router := NewAdaptiveRouter(ledger, clk, RouterConfig{DefaultMode: entities.ModePremium}, logger)
	executor := functions.NewExecutor(functions.NewCatalog(), functions.ExecutorConfig{}, clk, nil, logger)

	backends := map[entities.Mode]*fakeBackend{
		entities.ModePremium:   newFakeBackend(entities.ModePremium),
		entities.ModeEfficient: newFakeBackend(entities.ModeEfficient),
	}
	factory := func(ctx context.Context, mode entities.Mode) (repositories.ConversationBackend, error) {
		return backends[mode], nil
	}

	sink := &fakeSink{}
	orchestrator := NewOrchestrator(cfg, router, executor, ledger, sink, clk, factory, logger)

	return &harness{
		orchestrator: orchestrator,
		router:       router,
		backends:     backends,
		sink:         sink,
		clk:          clk,
		advance:      func(d time.Duration) { mock.Add(d) },
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func frame() entities.AudioFrame {
	return entities.NewAudioFrame(make([]byte, 640), time.Now())
}

func TestEchoSuppressionWhileSpeaking(t *testing.T) {
	h := newHarness(t)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.orchestrator.Stop()
	backend := h.backends[entities.ModePremium]

	h.orchestrator.HandleFrame(frame())
	waitFor(t, "listening", func() bool {
		return h.orchestrator.State().Status == entities.StatusListening
	})
	if backend.appendedCount() != 1 {
		t.Fatalf("Expected 1 forwarded frame, got %d", backend.appendedCount())
	}

	backend.emit(repositories.BackendEvent{Type: repositories.EventSpeechStopped})
	waitFor(t, "thinking", func() bool {
		return h.orchestrator.State().Status == entities.StatusThinking
	})

	backend.emit(repositories.BackendEvent{Type: repositories.EventAudioChunk, Audio: []byte{1, 2}, SampleRate: 24000})
	waitFor(t, "speaking", func() bool {
		return h.orchestrator.State().Status == entities.StatusSpeaking
	})

	// Frames during speech are discarded, not forwarded.
	for i := 0; i < 5; i++ {
		h.orchestrator.HandleFrame(frame())
	}
	time.Sleep(20 * time.Millisecond)
	if backend.appendedCount() != 1 {
		t.Errorf("Expected echo suppression, backend saw %d frames", backend.appendedCount())
	}

	backend.emit(repositories.BackendEvent{Type: repositories.EventAudioDone})
	backend.emit(repositories.BackendEvent{Type: repositories.EventResponseDone})
	waitFor(t, "idle", func() bool {
		return h.orchestrator.State().Status == entities.StatusIdle
	})
}

func TestToolCallsExecuteSequentially(t *testing.T) {
	h := newHarness(t)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.orchestrator.Stop()
	backend := h.backends[entities.ModePremium]

	h.orchestrator.HandleFrame(frame())
	backend.emit(repositories.BackendEvent{Type: repositories.EventSpeechStopped})
	waitFor(t, "thinking", func() bool {
		return h.orchestrator.State().Status == entities.StatusThinking
	})

	backend.emit(repositories.BackendEvent{Type: repositories.EventToolCall,
		Call: &entities.ToolCall{CallID: "call-a", Name: "get_datetime", Arguments: map[string]any{}}})
	backend.emit(repositories.BackendEvent{Type: repositories.EventToolCall,
		Call: &entities.ToolCall{CallID: "call-b", Name: "get_system_info", Arguments: map[string]any{}}})

	waitFor(t, "both tool results", func() bool { return len(backend.sentResults()) == 2 })

	results := backend.sentResults()
	if results[0].CallID != "call-a" || results[1].CallID != "call-b" {
		t.Errorf("Results out of order: %s then %s", results[0].CallID, results[1].CallID)
	}
	for _, r := range results {
		if r.Error != "" {
			t.Errorf("Expected success for %s, got error %q", r.CallID, r.Error)
		}
	}

	waitFor(t, "thinking after tools", func() bool {
		return h.orchestrator.State().Status == entities.StatusThinking
	})
}

func TestToolErrorReturnedAsPayload(t *testing.T) {
	h := newHarness(t)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.orchestrator.Stop()
	backend := h.backends[entities.ModePremium]

	h.orchestrator.HandleFrame(frame())
	backend.emit(repositories.BackendEvent{Type: repositories.EventSpeechStopped})
	backend.emit(repositories.BackendEvent{Type: repositories.EventToolCall,
		Call: &entities.ToolCall{CallID: "call-x", Name: "read_file", Arguments: map[string]any{"path": "/etc/passwd"}}})

	waitFor(t, "tool result", func() bool { return len(backend.sentResults()) == 1 })
	result := backend.sentResults()[0]
	if result.Error == "" {
		t.Fatal("Expected a typed error payload")
	}

	// The session continues; the failure is not fatal.
	if h.orchestrator.State().Status == entities.StatusError {
		t.Error("Tool failure must not enter the error state")
	}
}

func TestSilenceCommitInEfficientMode(t *testing.T) {
	h := newHarness(t)
	h.router.SetForcedMode(entities.ModeEfficient)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.orchestrator.Stop()
	backend := h.backends[entities.ModeEfficient]

	h.orchestrator.HandleFrame(frame())
	waitFor(t, "frame forwarded", func() bool { return backend.appendedCount() == 1 })

	h.advance(3 * time.Second)
	waitFor(t, "silence commit", func() bool { return backend.committedCount() == 1 })
	if h.orchestrator.State().Status != entities.StatusThinking {
		t.Errorf("Expected thinking after commit, got %s", h.orchestrator.State().Status)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	backend := h.backends[entities.ModePremium]

	h.orchestrator.Stop()
	h.orchestrator.Stop()

	if h.orchestrator.State().Status != entities.StatusIdle {
		t.Errorf("Expected idle after stop, got %s", h.orchestrator.State().Status)
	}
	backend.mu.Lock()
	disconnects := len(backend.disconnects)
	intentional := len(backend.disconnects) > 0 && backend.disconnects[0]
	backend.mu.Unlock()
	if disconnects != 1 {
		t.Errorf("Expected exactly one disconnect, got %d", disconnects)
	}
	if !intentional {
		t.Error("Stop must disconnect intentionally")
	}

	// A stopped orchestrator can start again.
	if err := h.orchestrator.Start(context.Background()); err == nil {
		h.orchestrator.Stop()
	}
}

func TestFatalErrorRequiresReset(t *testing.T) {
	h := newHarness(t)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.orchestrator.Stop()
	backend := h.backends[entities.ModePremium]

	errorsSeen := make(chan any, 1)
	h.orchestrator.On(EventErrorName, func(payload any) { errorsSeen <- payload })

	backend.emit(repositories.BackendEvent{Type: repositories.EventError, Err: fmt.Errorf("transport lost")})
	waitFor(t, "error state", func() bool {
		return h.orchestrator.State().Status == entities.StatusError
	})
	select {
	case <-errorsSeen:
	default:
		t.Error("Expected an error event")
	}

	// Frames are discarded while in error.
	h.orchestrator.HandleFrame(frame())
	time.Sleep(20 * time.Millisecond)
	if backend.appendedCount() != 0 {
		t.Error("Frames must be discarded in the error state")
	}

	h.orchestrator.TriggerReset()
	waitFor(t, "idle after reset", func() bool {
		return h.orchestrator.State().Status == entities.StatusIdle
	})
}

func TestIdleNudgeCappedAtTwo(t *testing.T) {
	h := newHarness(t)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.orchestrator.Stop()
	backend := h.backends[entities.ModePremium]

	completeOneInteraction := func() {
		backend.emit(repositories.BackendEvent{Type: repositories.EventResponseDone})
		waitFor(t, "idle", func() bool {
			return h.orchestrator.State().Status == entities.StatusIdle
		})
	}

	completeOneInteraction()

	for i := 1; i <= 3; i++ {
		h.advance(10 * time.Second)
		if i <= 2 {
			expected := i
			waitFor(t, "nudge", func() bool { return len(backend.sentTexts()) == expected })
			completeOneInteraction()
		}
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(backend.sentTexts()); got != 2 {
		t.Errorf("Expected follow-ups capped at 2, got %d", got)
	}
}

func TestGreetingSpokenThroughLoop(t *testing.T) {
	h := newHarnessWithConfig(t, OrchestratorConfig{Greeting: "Hello, how can I help?"})
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.orchestrator.Stop()
	backend := h.backends[entities.ModePremium]

	waitFor(t, "greeting sent", func() bool { return len(backend.sentTexts()) == 1 })
	if got := backend.sentTexts()[0]; got != "Hello, how can I help?" {
		t.Errorf("Unexpected greeting %q", got)
	}
	waitFor(t, "thinking during greeting", func() bool {
		return h.orchestrator.State().Status == entities.StatusThinking
	})

	// The greeting response completes like any interaction.
	backend.emit(repositories.BackendEvent{Type: repositories.EventResponseDone})
	waitFor(t, "idle after greeting", func() bool {
		return h.orchestrator.State().Status == entities.StatusIdle
	})
}

func TestSimpleHintSwitchesBackend(t *testing.T) {
	h := newHarness(t)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.orchestrator.Stop()

	h.orchestrator.SetInteractionHint(entities.HintSimple)
	h.orchestrator.HandleFrame(frame())

	efficient := h.backends[entities.ModeEfficient]
	waitFor(t, "efficient backend engaged", func() bool { return efficient.appendedCount() == 1 })
	if h.orchestrator.State().Mode != entities.ModeEfficient {
		t.Errorf("Expected efficient mode, got %s", h.orchestrator.State().Mode)
	}

	// The hint is consumed; the premium backend was torn down intentionally.
	premium := h.backends[entities.ModePremium]
	premium.mu.Lock()
	tornDown := len(premium.disconnects) == 1 && premium.disconnects[0]
	premium.mu.Unlock()
	if !tornDown {
		t.Error("Expected the premium backend to be disconnected intentionally")
	}
}

func TestWakeSignalPublished(t *testing.T) {
	h := newHarness(t)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.orchestrator.Stop()

	signals := make(chan any, 1)
	h.orchestrator.On(EventWakeword, func(payload any) { signals <- payload })

	h.orchestrator.Wake(WakeSignal{Keyword: "jarvis", Confidence: 0.92})
	waitFor(t, "wake event", func() bool { return len(signals) == 1 })

	signal := (<-signals).(WakeSignal)
	if signal.Keyword != "jarvis" {
		t.Errorf("Expected keyword jarvis, got %s", signal.Keyword)
	}
}
