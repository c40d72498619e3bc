package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/wicara/adapters/chain"
	"github.com/satriahrh/wicara/adapters/llm"
	mongoadapter "github.com/satriahrh/wicara/adapters/mongo"
	"github.com/satriahrh/wicara/adapters/realtime"
	"github.com/satriahrh/wicara/adapters/stt"
	"github.com/satriahrh/wicara/adapters/tts"
	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/domain/repositories"
	"github.com/satriahrh/wicara/internal/auth"
	"github.com/satriahrh/wicara/internal/bridge"
	"github.com/satriahrh/wicara/internal/budget"
	"github.com/satriahrh/wicara/internal/clockwork"
	"github.com/satriahrh/wicara/internal/functions"
	"github.com/satriahrh/wicara/pkg/config"
	"github.com/satriahrh/wicara/usecase"
)

const systemPrompt = `You are Wicara, a voice assistant that controls the user's computer.
Answer briefly and naturally; you are heard, not read. Use the available
functions for any host action instead of describing manual steps.`

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.LoadFromEnv()
	credentials := config.NewCredentials(cfg)
	clk := clockwork.New()

	ledger := budget.NewLedger(clk, cfg.DailyBudget, cfg.MonthlyBudget, logger)
	restoreLedger(cfg, ledger, logger)

	catalog := functions.NewCatalog()
	executor := functions.NewExecutor(catalog, functions.ExecutorConfig{
		Blocked:             cfg.Blocked,
		RequireConfirmation: cfg.RequireConfirmation,
	}, clk, nil, logger)

	router := usecase.NewAdaptiveRouter(ledger, clk, usecase.RouterConfig{
		DefaultMode:        cfg.DefaultMode,
		BudgetThresholdPct: cfg.BudgetThresholdPct,
		PeakHoursStart:     cfg.PeakHoursStart,
		PeakHoursEnd:       cfg.PeakHoursEnd,
	}, logger)

	factory := backendFactory(cfg, credentials, catalog, ledger, clk, logger)

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorConfig{
		Greeting: "Hello, how can I help?",
	}, router, executor, ledger, &nullSink{logger: logger}, clk, factory, logger)

	issuer, err := auth.NewTokenIssuer(cfg.BridgeSecret, 24*time.Hour)
	if err != nil {
		logger.Fatal("Bridge secret missing", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	bridge.New(e, orchestrator, router, ledger, clk, issuer, cfg.BridgeSecret, logger)

	go func() {
		if err := e.Start("127.0.0.1:" + cfg.BridgePort); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Bridge server failed", zap.Error(err))
		}
	}()

	logger.Info("Agent bridge listening",
		zap.String("port", cfg.BridgePort),
		zap.String("defaultMode", string(cfg.DefaultMode)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	orchestrator.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Bridge forced to shutdown", zap.Error(err))
	}
	logger.Info("Agent exited")
}

// backendFactory builds the backend for a routing decision. Each call creates
// a fresh backend: the efficient chain gets new provider adapters and the
// premium session a new, not yet connected client.
func backendFactory(cfg config.Config, credentials *config.Credentials, catalog *functions.Catalog, ledger *budget.Ledger, clk repositories.Clock, logger *zap.Logger) usecase.BackendFactory {
	return func(ctx context.Context, mode entities.Mode) (repositories.ConversationBackend, error) {
		switch mode {
		case entities.ModePremium:
			key, err := credentials.RealtimeAPIKey()
			if err != nil {
				return nil, err
			}
			return realtime.New(realtime.Config{
				APIKey:       key,
				Voice:        credentials.VoiceName(),
				Instructions: systemPrompt,
			}, catalog.RealtimeTools(), ledger, clk, logger)

		default:
			transcriber, err := stt.NewGoogleSpeechToText(ctx, logger)
			if err != nil {
				return nil, err
			}
			geminiKey, err := credentials.GeminiAPIKey()
			if err != nil {
				return nil, err
			}
			reasoner, err := llmReasoner(ctx, geminiKey, catalog, logger)
			if err != nil {
				return nil, err
			}
			elevenKey, err := credentials.ElevenLabsAPIKey()
			if err != nil {
				return nil, err
			}
			synthesizer, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
				APIKey:  elevenKey,
				VoiceID: credentials.VoiceName(),
				Speed:   cfg.VoiceSpeed,
			}, logger)
			if err != nil {
				return nil, err
			}

			backend := chain.New(transcriber, reasoner, synthesizer, ledger, clk, chain.Config{
				SampleRate: cfg.SampleRate,
				Channels:   cfg.Channels,
			}, logger)
			backend.SetSystemPrompt(systemPrompt)
			return backend, nil
		}
	}
}

func llmReasoner(ctx context.Context, apiKey string, catalog *functions.Catalog, logger *zap.Logger) (repositories.Reasoner, error) {
	return llm.NewGeminiReasoner(ctx, llm.GeminiConfig{
		APIKey:       apiKey,
		SystemPrompt: systemPrompt,
	}, catalog.GenaiDeclarations(), logger)
}

func restoreLedger(cfg config.Config, ledger *budget.Ledger, logger *zap.Logger) {
	if cfg.MongoURI == "" {
		return
	}
	client, err := mongoadapter.NewClient(cfg.MongoURI, logger)
	if err != nil {
		logger.Warn("Ledger snapshot store unavailable", zap.Error(err))
		return
	}
	store := mongoadapter.NewLedgerStore(client.Database("wicara"), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	entries, err := store.Load(ctx)
	if err != nil {
		logger.Warn("Ledger snapshot load failed", zap.Error(err))
		return
	}
	if err := ledger.Replay(entries); err != nil {
		logger.Warn("Ledger replay failed", zap.Error(err))
		return
	}
	logger.Info("Ledger snapshot restored", zap.Int("entries", len(entries)))
}

// nullSink discards playback; the desktop shell owns the real audio device
// and subscribes through the bridge.
type nullSink struct {
	logger *zap.Logger
}

func (s *nullSink) Write(chunk []byte, sampleRate int) error {
	s.logger.Debug("Discarding playback chunk",
		zap.Int("bytes", len(chunk)),
		zap.Int("sampleRate", sampleRate))
	return nil
}

func (s *nullSink) Flush() error { return nil }
