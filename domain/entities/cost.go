package entities

import (
	"time"
)

// CostStage identifies which processing stage produced a charge.
type CostStage string

const (
	StageRealtime   CostStage = "realtime"
	StageTranscribe CostStage = "transcribe"
	StageReason     CostStage = "reason"
	StageSynthesize CostStage = "synthesize"
)

// CostEntry is a single appended charge. Entries are never mutated or
// deleted except by explicit retention trim.
type CostEntry struct {
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
	Mode         Mode      `json:"mode" bson:"mode"`
	Stage        CostStage `json:"stage" bson:"stage"`
	Amount       float64   `json:"amount" bson:"amount"`
	Tokens       int       `json:"tokens,omitempty" bson:"tokens,omitempty"`
	AudioSeconds float64   `json:"audio_seconds,omitempty" bson:"audio_seconds,omitempty"`
}

// MetricsSnapshot summarizes ledger state for telemetry consumers.
type MetricsSnapshot struct {
	Total          float64 `json:"total"`
	Today          float64 `json:"today"`
	Month          float64 `json:"month"`
	Count          int     `json:"count"`
	Avg            float64 `json:"avg"`
	DailyRemaining float64 `json:"daily_remaining"`
}
