package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vela-systems/agentrt/pkg/models"
)

// AnthropicConfig configures an AnthropicProvider. Only APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int64
}

// AnthropicProvider implements Provider against the Anthropic Messages API.
// Grounded on the teacher's internal/agent/providers.AnthropicProvider:
// message/tool conversion follows the same shape, simplified to a single
// non-streaming call per Dispatcher iteration.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int64
}

// NewAnthropicProvider constructs a provider from config.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
		maxTokens:    config.MaxTokens,
	}, nil
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, model, system string, messages []models.ChatMessage, tools []ToolDef) (*Completion, error) {
	modelName := p.model(model)

	msgParams, err := convertMessagesAnthropic(messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	toolParams, err := convertToolsAnthropic(tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: p.maxTokens,
		Messages:  msgParams,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if cle, ok := parseContextLengthExceeded(err); ok {
			return nil, cle
		}
		return nil, fmt.Errorf("anthropic: request failed: %w", err)
	}

	completion := &Completion{
		Model: modelName,
		Usage: TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			input, _ := json.Marshal(variant.Input)
			completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: input,
			})
		}
	}
	completion.Text = text.String()

	return completion, nil
}

func convertMessagesAnthropic(messages []models.ChatMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertToolsAnthropic(tools []ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Schema) > 0 {
			if err := json.Unmarshal(t.Schema, &schema); err != nil {
				return nil, fmt.Errorf("invalid schema for tool %s: %w", t.Name, err)
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

var contextLengthPattern = regexp.MustCompile(`(\d+)\s*tokens? (?:>|exceeds?) (?:context limit of )?(\d+)`)

// parseContextLengthExceeded recognizes Anthropic's invalid_request_error
// for an over-length prompt and converts it to ContextLengthExceededError.
func parseContextLengthExceeded(err error) (*ContextLengthExceededError, bool) {
	msg := err.Error()
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, "too long") && !strings.Contains(lower, "context") {
		return nil, false
	}
	if !strings.Contains(lower, "prompt") && !strings.Contains(lower, "token") {
		return nil, false
	}
	if m := contextLengthPattern.FindStringSubmatch(msg); len(m) == 3 {
		used, _ := strconv.Atoi(m[1])
		limit, _ := strconv.Atoi(m[2])
		return &ContextLengthExceededError{Used: used, Limit: limit}, true
	}
	return &ContextLengthExceededError{}, true
}
