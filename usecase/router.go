package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/domain/repositories"
	"github.com/satriahrh/wicara/internal/budget"
)

// Latency and cost estimates per mode. These feed telemetry only; they do
// not gate behaviour.
const (
	premiumLatencyMS   = 500
	efficientLatencyMS = 2000
	premiumCostUSD     = 0.12
	efficientCostUSD   = 0.004
)

// RouterConfig parameterizes the decision function.
type RouterConfig struct {
	DefaultMode        entities.Mode
	BudgetThresholdPct float64
	PeakHoursStart     int
	PeakHoursEnd       int
}

// AdaptiveRouter chooses a backend per interaction from live budget usage,
// time of day and the caller's interaction hint.
type AdaptiveRouter struct {
	ledger *budget.Ledger
	clk    repositories.Clock
	cfg    RouterConfig
	logger *zap.Logger

	mu     sync.Mutex
	forced *entities.Mode
}

// NewAdaptiveRouter applies config defaults and returns a router.
func NewAdaptiveRouter(ledger *budget.Ledger, clk repositories.Clock, cfg RouterConfig, logger *zap.Logger) *AdaptiveRouter {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = entities.ModePremium
	}
	if cfg.BudgetThresholdPct == 0 {
		cfg.BudgetThresholdPct = 50
	}
	if cfg.PeakHoursStart == 0 && cfg.PeakHoursEnd == 0 {
		cfg.PeakHoursStart = 9
		cfg.PeakHoursEnd = 17
	}
	return &AdaptiveRouter{ledger: ledger, clk: clk, cfg: cfg, logger: logger}
}

// SetForcedMode pins the routing decision until ClearForcedMode.
func (r *AdaptiveRouter) SetForcedMode(mode entities.Mode) {
	r.mu.Lock()
	r.forced = &mode
	r.mu.Unlock()
	r.logger.Info("Routing mode forced", zap.String("mode", string(mode)))
}

// ClearForcedMode returns routing to automatic behaviour.
func (r *AdaptiveRouter) ClearForcedMode() {
	r.mu.Lock()
	r.forced = nil
	r.mu.Unlock()
	r.logger.Info("Routing mode cleared")
}

// Route evaluates the decision function for the next interaction. Rules are
// checked in order: forced mode, budget threshold, peak hours, interaction
// hint, configured default.
func (r *AdaptiveRouter) Route(hint entities.InteractionHint) entities.RoutingDecision {
	r.mu.Lock()
	forced := r.forced
	r.mu.Unlock()

	if forced != nil {
		return decision(*forced, entities.ReasonUserPreference)
	}

	now := r.clk.Now()
	if r.ledger.DailyUsagePct(now) >= r.cfg.BudgetThresholdPct {
		return decision(entities.ModeEfficient, entities.ReasonCostLimit)
	}

	hour := r.clk.HourOfDay()
	if hour < r.cfg.PeakHoursStart || hour >= r.cfg.PeakHoursEnd {
		return decision(entities.ModeEfficient, entities.ReasonTimeOfDay)
	}

	if hint == entities.HintSimple {
		return decision(entities.ModeEfficient, entities.ReasonInteractionType)
	}

	return decision(r.cfg.DefaultMode, entities.ReasonDefault)
}

func decision(mode entities.Mode, reason entities.RoutingReason) entities.RoutingDecision {
	d := entities.RoutingDecision{Mode: mode, Reason: reason}
	if mode == entities.ModePremium {
		d.EstimatedCost = premiumCostUSD
		d.EstimatedLatency = premiumLatencyMS
	} else {
		d.EstimatedCost = efficientCostUSD
		d.EstimatedLatency = efficientLatencyMS
	}
	return d
}
