// Package routines exposes RoutineEngine management as an agent tool.
package routines

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vela-systems/agentrt/internal/agent"
	routinecore "github.com/vela-systems/agentrt/internal/routines"
	"github.com/vela-systems/agentrt/pkg/models"
)

// Tool exposes routine registration and inspection.
type Tool struct {
	engine *routinecore.Engine
}

// NewTool creates a routine management tool.
func NewTool(engine *routinecore.Engine) *Tool {
	return &Tool{engine: engine}
}

func (t *Tool) Name() string { return "routine" }

func (t *Tool) Description() string {
	return "Manage recurring or event-driven routines (list/get/register/enable/disable/delete)."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Action: list, get, register, enable, disable, delete.",
			},
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Routine id for get/enable/disable/delete actions.",
			},
			"user_id": map[string]interface{}{
				"type":        "string",
				"description": "Owning user id, required for list and register.",
			},
			"routine": map[string]interface{}{
				"type":        "object",
				"description": "Routine definition for register action.",
			},
		},
		"required": []string{"action"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.engine == nil {
		return toolError("routine engine unavailable"), nil
	}
	var input struct {
		Action string          `json:"action"`
		ID     string          `json:"id"`
		UserID string          `json:"user_id"`
		Routine models.Routine `json:"routine"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	action := strings.ToLower(strings.TrimSpace(input.Action))
	if action == "" {
		return toolError("action is required"), nil
	}

	switch action {
	case "list":
		if input.UserID == "" {
			return toolError("user_id is required"), nil
		}
		list, err := t.engine.ListByUser(ctx, input.UserID)
		if err != nil {
			return toolError(fmt.Sprintf("list routines: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{"routines": list}), nil
	case "get":
		if input.ID == "" {
			return toolError("id is required"), nil
		}
		r, err := t.engine.Get(ctx, input.ID)
		if err != nil {
			return toolError(fmt.Sprintf("get routine: %v", err)), nil
		}
		if r == nil {
			return toolError("routine not found"), nil
		}
		return jsonResult(r), nil
	case "register":
		if input.Routine.UserID == "" {
			return toolError("routine.user_id is required"), nil
		}
		r := input.Routine
		r.Enabled = true
		if err := t.engine.Register(ctx, &r); err != nil {
			return toolError(fmt.Sprintf("register routine: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{"status": "registered", "routine": r}), nil
	case "enable":
		if input.ID == "" {
			return toolError("id is required"), nil
		}
		if err := t.engine.Enable(ctx, input.ID); err != nil {
			return toolError(fmt.Sprintf("enable routine: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{"status": "enabled", "id": input.ID}), nil
	case "disable":
		if input.ID == "" {
			return toolError("id is required"), nil
		}
		if err := t.engine.Disable(ctx, input.ID); err != nil {
			return toolError(fmt.Sprintf("disable routine: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{"status": "disabled", "id": input.ID}), nil
	case "delete":
		if input.ID == "" {
			return toolError("id is required"), nil
		}
		if err := t.engine.Delete(ctx, input.ID); err != nil {
			return toolError(fmt.Sprintf("delete routine: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{"status": "deleted", "id": input.ID}), nil
	default:
		return toolError("unsupported action"), nil
	}
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

func jsonResult(payload any) *agent.ToolResult {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(encoded)}
}
