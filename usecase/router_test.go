package usecase

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/internal/budget"
	"github.com/satriahrh/wicara/internal/clockwork"
)

func newTestRouter(t *testing.T) (*AdaptiveRouter, *budget.Ledger, func(hour int)) {
	t.Helper()
	clk, mock := clockwork.NewMock()
	setHour := func(hour int) {
		mock.Set(time.Date(2025, 6, 2, hour, 30, 0, 0, time.UTC))
	}
	setHour(12) // inside peak by default

	ledger := budget.NewLedger(clk, 1.00, 30.00, zap.NewNop())
	router := NewAdaptiveRouter(ledger, clk, RouterConfig{
		DefaultMode:        entities.ModePremium,
		BudgetThresholdPct: 50,
		PeakHoursStart:     9,
		PeakHoursEnd:       17,
	}, zap.NewNop())
	return router, ledger, setHour
}

func TestRoutingByBudget(t *testing.T) {
	router, ledger, _ := newTestRouter(t)

	// $0.60 spent today against a $1.00 budget with a 50% threshold.
	ledger.Record(entities.ModeEfficient, entities.StageSynthesize, budget.Units{Characters: 40000})

	decision := router.Route(entities.HintNone)
	if decision.Mode != entities.ModeEfficient {
		t.Errorf("Expected efficient mode, got %s", decision.Mode)
	}
	if decision.Reason != entities.ReasonCostLimit {
		t.Errorf("Expected cost_limit reason, got %s", decision.Reason)
	}
}

func TestRoutingAtExactThreshold(t *testing.T) {
	router, ledger, _ := newTestRouter(t)

	// Exactly 50% usage must trip the limit (>= not >): five million input
	// tokens at $0.10 per million is $0.50 of the $1.00 budget.
	ledger.Record(entities.ModeEfficient, entities.StageReason, budget.Units{InputTokens: 5000000})
	pct := ledger.DailyUsagePct(time.Date(2025, 6, 2, 12, 30, 0, 0, time.UTC))
	if pct != 50 {
		t.Fatalf("Test setup broken: %f%% is not exactly the threshold", pct)
	}

	decision := router.Route(entities.HintNone)
	if decision.Reason != entities.ReasonCostLimit {
		t.Errorf("Expected cost_limit at exact threshold, got %s", decision.Reason)
	}
}

func TestRoutingByHour(t *testing.T) {
	router, _, setHour := newTestRouter(t)

	setHour(8)
	decision := router.Route(entities.HintNone)
	if decision.Mode != entities.ModeEfficient || decision.Reason != entities.ReasonTimeOfDay {
		t.Errorf("Expected efficient/time_of_day at hour 8, got %s/%s", decision.Mode, decision.Reason)
	}

	setHour(17)
	decision = router.Route(entities.HintNone)
	if decision.Reason != entities.ReasonTimeOfDay {
		t.Errorf("Peak window is half-open; hour 17 should be off-peak, got %s", decision.Reason)
	}

	setHour(12)
	decision = router.Route(entities.HintNone)
	if decision.Mode != entities.ModePremium || decision.Reason != entities.ReasonDefault {
		t.Errorf("Expected premium/default at hour 12, got %s/%s", decision.Mode, decision.Reason)
	}
}

func TestRoutingByInteractionHint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	decision := router.Route(entities.HintSimple)
	if decision.Mode != entities.ModeEfficient || decision.Reason != entities.ReasonInteractionType {
		t.Errorf("Expected efficient/interaction_type, got %s/%s", decision.Mode, decision.Reason)
	}
}

func TestForcedModeOverridesEverything(t *testing.T) {
	router, ledger, setHour := newTestRouter(t)

	// Both the budget and the clock point at efficient.
	ledger.Record(entities.ModeEfficient, entities.StageSynthesize, budget.Units{Characters: 60000})
	setHour(3)

	router.SetForcedMode(entities.ModePremium)
	decision := router.Route(entities.HintSimple)
	if decision.Mode != entities.ModePremium || decision.Reason != entities.ReasonUserPreference {
		t.Errorf("Expected forced premium/user_preference, got %s/%s", decision.Mode, decision.Reason)
	}

	// Clearing returns routing to automatic behaviour.
	router.ClearForcedMode()
	decision = router.Route(entities.HintNone)
	if decision.Reason == entities.ReasonUserPreference {
		t.Error("Expected automatic routing after clear")
	}
	if decision.Mode != entities.ModeEfficient {
		t.Errorf("Expected efficient mode from budget rule, got %s", decision.Mode)
	}
}

func TestDecisionEstimates(t *testing.T) {
	router, _, _ := newTestRouter(t)

	premium := router.Route(entities.HintNone)
	if premium.EstimatedLatency != 500 || premium.EstimatedCost != 0.12 {
		t.Errorf("Unexpected premium estimates: %+v", premium)
	}

	router.SetForcedMode(entities.ModeEfficient)
	efficient := router.Route(entities.HintNone)
	if efficient.EstimatedLatency != 2000 || efficient.EstimatedCost != 0.004 {
		t.Errorf("Unexpected efficient estimates: %+v", efficient)
	}
}
