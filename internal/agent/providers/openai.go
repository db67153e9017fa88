package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vela-systems/agentrt/pkg/models"
)

// OpenAIProvider implements Provider against the Chat Completions API.
// Grounded on the teacher's internal/agent/providers.OpenAIProvider:
// message/tool conversion follows the same per-role mapping, simplified
// to a single non-streaming call (Stream: false) per Dispatcher iteration.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider constructs a provider from an API key and default model.
func NewOpenAIProvider(apiKey, defaultModel string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if defaultModel == "" {
		defaultModel = openai.GPT4o
	}
	return &OpenAIProvider{
		client:       openai.NewClient(apiKey),
		defaultModel: defaultModel,
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, model, system string, messages []models.ChatMessage, tools []ToolDef) (*Completion, error) {
	modelName := p.model(model)

	oaiMessages := convertMessagesOpenAI(messages, system)

	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: oaiMessages,
	}
	if len(tools) > 0 {
		req.Tools = convertToolsOpenAI(tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if cle, ok := parseContextLengthExceededOpenAI(err); ok {
			return nil, cle
		}
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choice list")
	}

	choice := resp.Choices[0]
	completion := &Completion{
		Text:  choice.Message.Content,
		Model: modelName,
		Usage: TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}

	return completion, nil
}

func convertMessagesOpenAI(messages []models.ChatMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)

		default:
			if len(msg.ToolResults) > 0 {
				for _, tr := range msg.ToolResults {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    tr.Content,
						ToolCallID: tr.ToolCallID,
					})
				}
				continue
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	return result
}

func convertToolsOpenAI(tools []ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if len(t.Schema) > 0 {
			if err := json.Unmarshal(t.Schema, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

// parseContextLengthExceededOpenAI recognizes OpenAI's context_length_exceeded
// error code and converts it to ContextLengthExceededError.
func parseContextLengthExceededOpenAI(err error) (*ContextLengthExceededError, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == "context_length_exceeded" {
			return &ContextLengthExceededError{}, true
		}
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "context_length_exceeded") || strings.Contains(lower, "maximum context length") {
		return &ContextLengthExceededError{}, true
	}
	return nil, false
}
