package budget

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/internal/clockwork"
)

func newTestLedger(daily, monthly float64) (*Ledger, *clockwork.Clock, func(time.Duration)) {
	clk, mock := clockwork.NewMock()
	mock.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ledger := NewLedger(clk, daily, monthly, zap.NewNop())
	return ledger, clk, func(d time.Duration) { mock.Add(d) }
}

func TestTotalEqualsSumOfStageCosts(t *testing.T) {
	ledger, clk, _ := newTestLedger(1.00, 30.00)

	var sum float64
	sum += ledger.Record(entities.ModeEfficient, entities.StageTranscribe, Units{Minutes: 0.5})
	sum += ledger.Record(entities.ModeEfficient, entities.StageReason, Units{InputTokens: 1200, OutputTokens: 300})
	sum += ledger.Record(entities.ModeEfficient, entities.StageSynthesize, Units{Characters: 180})
	sum += ledger.Record(entities.ModePremium, entities.StageRealtime, Units{AudioInSeconds: 4, AudioOutSeconds: 10})

	metrics := ledger.Metrics(clk.Now())
	if math.Abs(metrics.Total-sum) > 1e-12 {
		t.Errorf("Expected total %f to equal sum of stage costs %f", metrics.Total, sum)
	}
	if metrics.Count != 4 {
		t.Errorf("Expected 4 entries, got %d", metrics.Count)
	}
	if math.Abs(metrics.Avg-sum/4) > 1e-12 {
		t.Errorf("Expected avg %f, got %f", sum/4, metrics.Avg)
	}
}

func TestRollingWindows(t *testing.T) {
	ledger, clk, advance := newTestLedger(1.00, 30.00)

	ledger.Record(entities.ModeEfficient, entities.StageSynthesize, Units{Characters: 10000}) // $0.15
	advance(25 * time.Hour)
	ledger.Record(entities.ModeEfficient, entities.StageSynthesize, Units{Characters: 10000})

	metrics := ledger.Metrics(clk.Now())
	if math.Abs(metrics.Today-0.15) > 1e-9 {
		t.Errorf("Expected only the recent entry in today, got %f", metrics.Today)
	}
	if math.Abs(metrics.Month-0.30) > 1e-9 {
		t.Errorf("Expected both entries in month, got %f", metrics.Month)
	}
	if math.Abs(metrics.Total-0.30) > 1e-9 {
		t.Errorf("Expected total 0.30, got %f", metrics.Total)
	}

	advance(31 * 24 * time.Hour)
	metrics = ledger.Metrics(clk.Now())
	if metrics.Month != 0 {
		t.Errorf("Expected empty month window after 31 days, got %f", metrics.Month)
	}
	if math.Abs(metrics.Total-0.30) > 1e-9 {
		t.Errorf("Total must never decrease, got %f", metrics.Total)
	}
}

func TestDailyUsagePctAndBudgetChecks(t *testing.T) {
	ledger, clk, _ := newTestLedger(1.00, 30.00)

	// $0.60 of synthesis today.
	ledger.Record(entities.ModeEfficient, entities.StageSynthesize, Units{Characters: 40000})

	pct := ledger.DailyUsagePct(clk.Now())
	if math.Abs(pct-60) > 1e-9 {
		t.Errorf("Expected 60%% usage, got %f", pct)
	}
	if ledger.ExceededDaily(clk.Now()) {
		t.Error("Daily budget should not be exceeded at $0.60")
	}

	ledger.Record(entities.ModeEfficient, entities.StageSynthesize, Units{Characters: 30000})
	if !ledger.ExceededDaily(clk.Now()) {
		t.Error("Daily budget should trip once spend reaches $1.05")
	}
}

func TestDailyRemainingNeverNegative(t *testing.T) {
	ledger, clk, _ := newTestLedger(0.10, 30.00)
	ledger.Record(entities.ModeEfficient, entities.StageSynthesize, Units{Characters: 40000})

	metrics := ledger.Metrics(clk.Now())
	if metrics.DailyRemaining != 0 {
		t.Errorf("Expected clamped remaining 0, got %f", metrics.DailyRemaining)
	}
}

func TestReplayPreservesTimestampOrder(t *testing.T) {
	ledger, clk, _ := newTestLedger(1.00, 30.00)

	base := clk.Now()
	entries := []entities.CostEntry{
		{Timestamp: base.Add(2 * time.Hour), Stage: entities.StageReason, Amount: 0.02},
		{Timestamp: base, Stage: entities.StageTranscribe, Amount: 0.01},
		{Timestamp: base.Add(time.Hour), Stage: entities.StageSynthesize, Amount: 0.03},
	}
	if err := ledger.Replay(entries); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	got := ledger.Entries()
	if len(got) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("Entries out of timestamp order at %d", i)
		}
	}

	if err := ledger.Replay(entries); err == nil {
		t.Error("Replay into a non-empty ledger should fail")
	}
}

func TestTrimRetention(t *testing.T) {
	ledger, clk, advance := newTestLedger(1.00, 30.00)

	ledger.Record(entities.ModeEfficient, entities.StageReason, Units{InputTokens: 1000})
	advance(31 * 24 * time.Hour)
	ledger.Record(entities.ModeEfficient, entities.StageReason, Units{InputTokens: 1000})

	dropped := ledger.Trim(clk.Now())
	if dropped != 1 {
		t.Errorf("Expected 1 dropped entry, got %d", dropped)
	}
	if len(ledger.Entries()) != 1 {
		t.Errorf("Expected 1 kept entry, got %d", len(ledger.Entries()))
	}
}
