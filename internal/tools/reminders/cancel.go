package reminders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vela-systems/agentrt/internal/agent"
	"github.com/vela-systems/agentrt/internal/routines"
)

// CancelTool cancels a reminder by ID.
type CancelTool struct {
	engine *routines.Engine
}

// NewCancelTool creates a new reminder cancel tool.
func NewCancelTool(engine *routines.Engine) *CancelTool {
	return &CancelTool{engine: engine}
}

func (t *CancelTool) Name() string { return "reminder_cancel" }

func (t *CancelTool) Description() string {
	return "Cancel a reminder by its ID"
}

func (t *CancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"reminder_id": {
				"type": "string",
				"description": "The ID of the reminder to cancel"
			}
		},
		"required": ["reminder_id"]
	}`)
}

// CancelInput is the input for the reminder cancel tool.
type CancelInput struct {
	ReminderID string `json:"reminder_id"`
}

// Execute cancels a reminder.
func (t *CancelTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.engine == nil {
		return &agent.ToolResult{Content: "routine engine unavailable", IsError: true}, nil
	}

	var input CancelInput
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}

	if input.ReminderID == "" {
		return &agent.ToolResult{Content: "reminder_id is required", IsError: true}, nil
	}

	routine, err := t.engine.Get(ctx, input.ReminderID)
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	if routine == nil {
		return &agent.ToolResult{Content: "reminder not found", IsError: true}, nil
	}
	if !isReminder(routine) {
		return &agent.ToolResult{Content: "not a reminder", IsError: true}, nil
	}
	if !routine.Enabled {
		return &agent.ToolResult{Content: "reminder already cancelled"}, nil
	}

	if err := t.engine.Disable(ctx, input.ReminderID); err != nil {
		return nil, fmt.Errorf("cancel reminder: %w", err)
	}

	return &agent.ToolResult{
		Content: fmt.Sprintf("Reminder cancelled: %s\nMessage was: %s", routine.Name, routine.Action.Prompt),
	}, nil
}
