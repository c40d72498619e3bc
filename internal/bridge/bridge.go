package bridge

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/domain/repositories"
	"github.com/satriahrh/wicara/internal/auth"
	"github.com/satriahrh/wicara/internal/budget"
	"github.com/satriahrh/wicara/usecase"
)

const (
	writeWait = 10 * time.Second

	// feedBuffer bounds the per-subscriber event queue.
	feedBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The bridge binds to loopback; the shell is the only client.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// subscribedEvents is the full set forwarded over the event feed.
var subscribedEvents = []string{
	usecase.EventStatus,
	usecase.EventTranscript,
	usecase.EventMetrics,
	usecase.EventAudioPlaying,
	usecase.EventAudioStopped,
	usecase.EventInteractionComplete,
	usecase.EventWakeword,
	usecase.EventErrorName,
	usecase.EventFunctionCall,
}

// TokenRequest asks for a shell session token.
type TokenRequest struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
}

// TokenResponse carries the issued token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SettingsRequest is the narrow mutable surface exposed to the shell.
type SettingsRequest struct {
	ForcedMode *string `json:"forced_mode,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Bridge is the narrow command/event surface between the core and a host
// shell that forbids direct access: agent lifecycle, settings I/O, metrics
// query and the event subscriptions.
type Bridge struct {
	orchestrator *usecase.Orchestrator
	router       *usecase.AdaptiveRouter
	ledger       *budget.Ledger
	clk          repositories.Clock
	issuer       *auth.TokenIssuer
	secret       string
	logger       *zap.Logger
}

// New wires the bridge routes onto an echo instance.
func New(e *echo.Echo, orchestrator *usecase.Orchestrator, router *usecase.AdaptiveRouter, ledger *budget.Ledger, clk repositories.Clock, issuer *auth.TokenIssuer, secret string, logger *zap.Logger) *Bridge {
	b := &Bridge{
		orchestrator: orchestrator,
		router:       router,
		ledger:       ledger,
		clk:          clk,
		issuer:       issuer,
		secret:       secret,
		logger:       logger,
	}

	e.GET("/health", b.health)
	e.POST("/session/token", b.issueToken)

	v1 := e.Group("/api/v1", b.requireToken)
	v1.POST("/agent/start", b.agentStart)
	v1.POST("/agent/stop", b.agentStop)
	v1.GET("/agent/state", b.agentState)
	v1.POST("/agent/reset", b.agentReset)
	v1.GET("/metrics", b.metrics)
	v1.GET("/settings", b.getSettings)
	v1.PUT("/settings", b.putSettings)
	v1.GET("/events", b.events)

	return b
}

func (b *Bridge) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "wicara",
	})
}

func (b *Bridge) issueToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Secret != b.secret || req.ClientID == "" {
		b.logger.Warn("Bridge token request rejected", zap.String("clientID", req.ClientID))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid bridge credentials",
		})
	}

	token, err := b.issuer.Issue(req.ClientID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate session token",
		})
	}
	return c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	})
}

// requireToken validates the Bearer token on every bridge call.
func (b *Bridge) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := ""
		header := c.Request().Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token = header[len("Bearer "):]
		}
		if token == "" {
			token = c.QueryParam("token")
		}
		if token == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "Session token is required",
			})
		}
		if _, err := b.issuer.Validate(token); err != nil {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired session token",
			})
		}
		return next(c)
	}
}

func (b *Bridge) agentStart(c echo.Context) error {
	if err := b.orchestrator.Start(c.Request().Context()); err != nil {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "start_failed",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, b.orchestrator.State())
}

func (b *Bridge) agentStop(c echo.Context) error {
	b.orchestrator.Stop()
	return c.JSON(http.StatusOK, b.orchestrator.State())
}

func (b *Bridge) agentState(c echo.Context) error {
	return c.JSON(http.StatusOK, b.orchestrator.State())
}

func (b *Bridge) agentReset(c echo.Context) error {
	b.orchestrator.TriggerReset()
	return c.JSON(http.StatusOK, b.orchestrator.State())
}

func (b *Bridge) metrics(c echo.Context) error {
	return c.JSON(http.StatusOK, b.ledger.Metrics(b.clk.Now()))
}

func (b *Bridge) getSettings(c echo.Context) error {
	state := b.orchestrator.State()
	return c.JSON(http.StatusOK, map[string]any{
		"mode": state.Mode,
	})
}

func (b *Bridge) putSettings(c echo.Context) error {
	var req SettingsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.ForcedMode != nil {
		switch entities.Mode(*req.ForcedMode) {
		case entities.ModePremium:
			b.router.SetForcedMode(entities.ModePremium)
		case entities.ModeEfficient:
			b.router.SetForcedMode(entities.ModeEfficient)
		default:
			if *req.ForcedMode == "" {
				b.router.ClearForcedMode()
			} else {
				return c.JSON(http.StatusBadRequest, ErrorResponse{
					Error:   "invalid_mode",
					Message: "forced_mode must be premium, efficient or empty",
				})
			}
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "applied"})
}

// feedEnvelope is one event on the feed.
type feedEnvelope struct {
	Event     string `json:"event"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

// events upgrades to a WebSocket and forwards orchestrator events until the
// client goes away.
func (b *Bridge) events(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		b.logger.Error("Event feed upgrade failed", zap.Error(err))
		return err
	}

	// The feed channel is never closed: an in-flight handler may still be
	// publishing while this handler unwinds. It is garbage collected with
	// the subscriber.
	feed := make(chan feedEnvelope, feedBuffer)

	unsubs := make([]func(), 0, len(subscribedEvents))
	for _, name := range subscribedEvents {
		eventName := name
		unsubs = append(unsubs, b.orchestrator.On(eventName, func(payload any) {
			select {
			case feed <- feedEnvelope{
				Event:     eventName,
				Payload:   payload,
				Timestamp: b.clk.Now().Format(time.RFC3339),
			}:
			default:
				// Slow consumer; drop rather than block the loop.
			}
		}))
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
		conn.Close()
	}()

	// Reader goroutine detects client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case envelope := <-feed:
			payload, err := json.Marshal(envelope)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return nil
			}
		}
	}
}
