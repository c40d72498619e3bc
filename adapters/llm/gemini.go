package llm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/wicara/domain/entities"
	"github.com/satriahrh/wicara/domain/repositories"
)

const (
	defaultModel       = "gemini-2.0-flash"
	defaultTemperature = float32(0.7)
)

// GeminiConfig configures the reasoning adapter.
type GeminiConfig struct {
	APIKey       string
	Model        string
	Temperature  float32
	SystemPrompt string
}

// GeminiReasoner implements Reasoner with Gemini function calling. The tool
// declarations come from the function catalog at construction time.
type GeminiReasoner struct {
	client       *genai.Client
	model        string
	temperature  float32
	systemPrompt string
	tools        []*genai.Tool
	logger       *zap.Logger
}

var _ repositories.Reasoner = (*GeminiReasoner)(nil)

// NewGeminiReasoner creates the client and pins the tool declarations.
func NewGeminiReasoner(ctx context.Context, cfg GeminiConfig, declarations []*genai.FunctionDeclaration, logger *zap.Logger) (*GeminiReasoner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	var tools []*genai.Tool
	if len(declarations) > 0 {
		tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	return &GeminiReasoner{
		client:       client,
		model:        model,
		temperature:  temperature,
		systemPrompt: cfg.SystemPrompt,
		tools:        tools,
		logger:       logger,
	}, nil
}

// Reply submits the active context and returns the assistant text, any tool
// calls and the token usage for cost accounting.
func (g *GeminiReasoner) Reply(ctx context.Context, history []entities.Message) (repositories.Reply, error) {
	contents := convertHistory(history)
	if len(contents) == 0 {
		return repositories.Reply{}, fmt.Errorf("empty conversation context")
	}

	temperature := g.temperature
	config := &genai.GenerateContentConfig{
		Temperature: &temperature,
		Tools:       g.tools,
	}
	if g.systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(g.systemPrompt, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return repositories.Reply{}, fmt.Errorf("generate content failed: %w", err)
	}

	reply := repositories.Reply{}
	if resp.UsageMetadata != nil {
		reply.Usage = repositories.TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				reply.Text += part.Text
			}
			if part.FunctionCall != nil {
				reply.Calls = append(reply.Calls, entities.ToolCall{
					CallID:    uuid.NewString(),
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
		break // only the first candidate is used
	}

	g.logger.Debug("Reasoning reply",
		zap.Int("toolCalls", len(reply.Calls)),
		zap.Int("inputTokens", reply.Usage.InputTokens),
		zap.Int("outputTokens", reply.Usage.OutputTokens))

	return reply, nil
}

// convertHistory maps domain messages to the Gemini content format. Tool
// results travel as function responses on the user role.
func convertHistory(history []entities.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case entities.RoleSystem:
			// System text is carried via SystemInstruction, not history.
			continue
		case entities.RoleAssistant:
			parts := []*genai.Part{}
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			if msg.ToolCall != nil {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: msg.ToolCall.Name,
					Args: msg.ToolCall.Arguments,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case entities.RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			response := map[string]any{}
			if msg.ToolResult.Error != "" {
				response["error"] = msg.ToolResult.Error
			} else {
				for k, v := range msg.ToolResult.Result {
					response[k] = v
				}
			}
			name := msg.Content // carries the function name for the response
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{
				{FunctionResponse: &genai.FunctionResponse{Name: name, Response: response}},
			}, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents
}
