package entities

// Mode selects one of the two conversation backends.
type Mode string

const (
	ModePremium   Mode = "premium"
	ModeEfficient Mode = "efficient"
)

// RoutingReason labels why a routing decision picked its mode.
type RoutingReason string

const (
	ReasonUserPreference  RoutingReason = "user_preference"
	ReasonCostLimit       RoutingReason = "cost_limit"
	ReasonTimeOfDay       RoutingReason = "time_of_day"
	ReasonInteractionType RoutingReason = "interaction_type"
	ReasonDefault         RoutingReason = "default"
)

// InteractionHint is an optional caller-supplied hint about the upcoming
// interaction. HintSimple routes short factual exchanges to the cheap chain.
type InteractionHint string

const (
	HintNone    InteractionHint = ""
	HintSimple  InteractionHint = "simple"
	HintComplex InteractionHint = "complex"
)

// RoutingDecision is the per-interaction backend choice. It is ephemeral and
// recomputed at every utterance boundary.
type RoutingDecision struct {
	Mode             Mode          `json:"mode"`
	Reason           RoutingReason `json:"reason"`
	EstimatedCost    float64       `json:"estimated_cost"`
	EstimatedLatency int           `json:"estimated_latency_ms"`
}
