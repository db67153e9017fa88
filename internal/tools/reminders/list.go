package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vela-systems/agentrt/internal/agent"
	"github.com/vela-systems/agentrt/internal/routines"
	"github.com/vela-systems/agentrt/pkg/models"
)

// ListTool lists reminders for a given user.
type ListTool struct {
	engine *routines.Engine
}

// NewListTool creates a new reminder list tool.
func NewListTool(engine *routines.Engine) *ListTool {
	return &ListTool{engine: engine}
}

func (t *ListTool) Name() string { return "reminder_list" }

func (t *ListTool) Description() string {
	return "List a user's active reminders"
}

func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"user_id": {
				"type": "string",
				"description": "Owning user id"
			},
			"include_completed": {
				"type": "boolean",
				"description": "Include fired/disabled reminders (default false)"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of reminders to return (default 20)"
			}
		},
		"required": ["user_id"]
	}`)
}

// ListInput is the input for the reminder list tool.
type ListInput struct {
	UserID           string `json:"user_id"`
	IncludeCompleted bool   `json:"include_completed"`
	Limit            int    `json:"limit"`
}

// Execute lists reminders.
func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.engine == nil {
		return &agent.ToolResult{Content: "routine engine unavailable", IsError: true}, nil
	}

	var input ListInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	if input.UserID == "" {
		return &agent.ToolResult{Content: "user_id is required", IsError: true}, nil
	}
	if input.Limit <= 0 {
		input.Limit = 20
	}

	all, err := t.engine.ListByUser(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}

	var reminders []*models.Routine
	for _, r := range all {
		if !isReminder(r) {
			continue
		}
		if !input.IncludeCompleted && !r.Enabled {
			continue
		}
		reminders = append(reminders, r)
		if len(reminders) >= input.Limit {
			break
		}
	}

	if len(reminders) == 0 {
		return &agent.ToolResult{Content: "No active reminders found."}, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d reminder(s):\n\n", len(reminders)))

	for i, r := range reminders {
		sb.WriteString(fmt.Sprintf("%d. **%s**\n", i+1, r.Name))
		sb.WriteString(fmt.Sprintf("   ID: %s\n", r.ID))
		sb.WriteString(fmt.Sprintf("   Message: %s\n", r.Action.Prompt))

		if r.NextFireAt != nil {
			duration := time.Until(*r.NextFireAt)
			if duration > 0 {
				sb.WriteString(fmt.Sprintf("   Fires: %s (in %s)\n", r.NextFireAt.Format("Mon Jan 2 3:04 PM"), formatDuration(duration)))
			} else {
				sb.WriteString(fmt.Sprintf("   Fires: %s\n", r.NextFireAt.Format("Mon Jan 2 3:04 PM")))
			}
		}

		status := "active"
		if !r.Enabled {
			status = "fired"
		}
		sb.WriteString(fmt.Sprintf("   Status: %s\n", status))
		sb.WriteString("\n")
	}

	return &agent.ToolResult{Content: sb.String()}, nil
}

// isReminder distinguishes a one-shot reminder routine from a general
// recurring routine: a Cron trigger with no expression and a Lightweight
// action, per the encoding SetTool uses.
func isReminder(r *models.Routine) bool {
	return r.Trigger.Kind == models.TriggerCron && r.Trigger.CronExpr == "" && r.Action.Kind == models.ActionLightweight
}
