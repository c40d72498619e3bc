package budget

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/domain/repositories"
)

// Price table. Amounts are dollars per unit and are constants of the ledger,
// not runtime configuration.
const (
	realtimeAudioInPerSecond  = 0.0010 // streaming audio input
	realtimeAudioOutPerSecond = 0.0040 // streaming audio output
	realtimeTextInPerToken    = 0.000005
	realtimeTextOutPerToken   = 0.000020
	transcribePerMinute       = 0.006
	reasonInPerMillionTokens  = 0.10
	reasonOutPerMillionTokens = 0.40
	synthesizePer1kChars      = 0.015
)

// DefaultRetention is how long entries are kept before Trim drops them.
const DefaultRetention = 30 * 24 * time.Hour

// Units carries the measured quantities for one recorded stage. Only the
// fields relevant to the stage are read.
type Units struct {
	AudioInSeconds  float64
	AudioOutSeconds float64
	TextInTokens    int
	TextOutTokens   int
	Minutes         float64
	InputTokens     int
	OutputTokens    int
	Characters      int
}

// Ledger is the append-only record of per-stage costs. Writes come from the
// backends as stages and responses complete; metrics consumers may read
// concurrently.
type Ledger struct {
	mu            sync.RWMutex
	entries       []entities.CostEntry
	clk           repositories.Clock
	dailyBudget   float64
	monthlyBudget float64
	logger        *zap.Logger
}

// NewLedger creates an empty ledger with the given budgets.
func NewLedger(clk repositories.Clock, dailyBudget, monthlyBudget float64, logger *zap.Logger) *Ledger {
	return &Ledger{
		clk:           clk,
		dailyBudget:   dailyBudget,
		monthlyBudget: monthlyBudget,
		logger:        logger,
	}
}

// Record computes the cost of one stage from its units, appends the entry and
// returns the computed amount.
func (l *Ledger) Record(mode entities.Mode, stage entities.CostStage, units Units) float64 {
	var amount float64
	entry := entities.CostEntry{
		Timestamp: l.clk.Now(),
		Mode:      mode,
		Stage:     stage,
	}

	switch stage {
	case entities.StageRealtime:
		amount = units.AudioInSeconds*realtimeAudioInPerSecond +
			units.AudioOutSeconds*realtimeAudioOutPerSecond +
			float64(units.TextInTokens)*realtimeTextInPerToken +
			float64(units.TextOutTokens)*realtimeTextOutPerToken
		entry.AudioSeconds = units.AudioInSeconds + units.AudioOutSeconds
		entry.Tokens = units.TextInTokens + units.TextOutTokens
	case entities.StageTranscribe:
		amount = units.Minutes * transcribePerMinute
		entry.AudioSeconds = units.Minutes * 60
	case entities.StageReason:
		amount = float64(units.InputTokens)/1e6*reasonInPerMillionTokens +
			float64(units.OutputTokens)/1e6*reasonOutPerMillionTokens
		entry.Tokens = units.InputTokens + units.OutputTokens
	case entities.StageSynthesize:
		amount = float64(units.Characters) / 1000 * synthesizePer1kChars
	}

	entry.Amount = amount

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.logger.Debug("Cost recorded",
		zap.String("stage", string(stage)),
		zap.String("mode", string(mode)),
		zap.Float64("amount", amount))

	return amount
}

// sumSince totals entries newer than cutoff. Caller holds at least a read lock.
func (l *Ledger) sumSince(cutoff time.Time) float64 {
	var total float64
	for _, e := range l.entries {
		if e.Timestamp.After(cutoff) {
			total += e.Amount
		}
	}
	return total
}

// Metrics returns the aggregate snapshot at the given instant. The daily and
// monthly windows are rolling scans over now-24h and now-30d.
func (l *Ledger) Metrics(now time.Time) entities.MetricsSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total float64
	for _, e := range l.entries {
		total += e.Amount
	}

	today := l.sumSince(now.Add(-24 * time.Hour))
	month := l.sumSince(now.Add(-30 * 24 * time.Hour))

	snapshot := entities.MetricsSnapshot{
		Total:          total,
		Today:          today,
		Month:          month,
		Count:          len(l.entries),
		DailyRemaining: l.dailyBudget - today,
	}
	if snapshot.Count > 0 {
		snapshot.Avg = total / float64(snapshot.Count)
	}
	if snapshot.DailyRemaining < 0 {
		snapshot.DailyRemaining = 0
	}
	return snapshot
}

// DailyUsagePct returns today's spend as a percentage of the daily budget.
func (l *Ledger) DailyUsagePct(now time.Time) float64 {
	if l.dailyBudget <= 0 {
		return 100
	}
	l.mu.RLock()
	today := l.sumSince(now.Add(-24 * time.Hour))
	l.mu.RUnlock()
	return today / l.dailyBudget * 100
}

// ExceededDaily reports whether the rolling 24h spend has reached the budget.
func (l *Ledger) ExceededDaily(now time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sumSince(now.Add(-24*time.Hour)) >= l.dailyBudget
}

// ExceededMonthly reports whether the rolling 30d spend has reached the budget.
func (l *Ledger) ExceededMonthly(now time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sumSince(now.Add(-30*24*time.Hour)) >= l.monthlyBudget
}

// Entries returns a copy of the recorded entries in append order.
func (l *Ledger) Entries() []entities.CostEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]entities.CostEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Replay loads a persisted snapshot into an empty ledger. Entries are sorted
// by timestamp so total cost stays monotonically non-decreasing.
func (l *Ledger) Replay(entries []entities.CostEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) > 0 {
		return fmt.Errorf("replay requires an empty ledger, have %d entries", len(l.entries))
	}
	replayed := make([]entities.CostEntry, len(entries))
	copy(replayed, entries)
	sort.SliceStable(replayed, func(i, j int) bool {
		return replayed[i].Timestamp.Before(replayed[j].Timestamp)
	})
	l.entries = replayed
	return nil
}

// Trim drops entries older than the retention window ending at now.
func (l *Ledger) Trim(now time.Time) int {
	cutoff := now.Add(-DefaultRetention)
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	dropped := 0
	for _, e := range l.entries {
		if e.Timestamp.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return dropped
}
