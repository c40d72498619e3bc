package repositories

import (
	"context"

	"github.com/satriahrh/wicara/domain/entities"
)

// TokenUsage reports prompt and completion token counts for one reply.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Reply is the reasoner's answer to one turn: a textual assistant message,
// one or more tool calls, or both.
type Reply struct {
	Text  string
	Calls []entities.ToolCall
	Usage TokenUsage
}

// Reasoner abstracts the chat model used by the efficient backend. The
// caller owns the rolling history window and passes the active context.
type Reasoner interface {
	Reply(ctx context.Context, history []entities.Message) (Reply, error)
}
