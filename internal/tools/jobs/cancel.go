package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vela-systems/agentrt/internal/agent"
	"github.com/vela-systems/agentrt/internal/jobs"
	"github.com/vela-systems/agentrt/pkg/models"
)

// CancelTool allows cancelling a running job.
type CancelTool struct {
	scheduler *jobs.Scheduler
}

// NewCancelTool returns a job cancel tool.
func NewCancelTool(scheduler *jobs.Scheduler) *CancelTool {
	return &CancelTool{scheduler: scheduler}
}

func (t *CancelTool) Name() string { return "job_cancel" }

func (t *CancelTool) Description() string {
	return "Cancel a pending or in-progress job by job_id"
}

func (t *CancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"job_id":{"type":"string","description":"The ID of the job to cancel"}},"required":["job_id"]}`)
}

func (t *CancelTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.scheduler == nil {
		return &agent.ToolResult{Content: "job scheduler unavailable", IsError: true}, nil
	}
	var input struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, err
	}
	if input.JobID == "" {
		return nil, fmt.Errorf("job_id is required")
	}

	job, err := t.scheduler.Get(ctx, input.JobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &agent.ToolResult{Content: "job not found", IsError: true}, nil
	}
	if job.State != models.JobPending && job.State != models.JobInProgress && job.State != models.JobStuck {
		return &agent.ToolResult{
			Content: fmt.Sprintf("job cannot be cancelled (state: %s)", job.State),
			IsError: true,
		}, nil
	}

	if err := t.scheduler.Cancel(ctx, input.JobID); err != nil {
		return nil, err
	}

	return &agent.ToolResult{
		Content: fmt.Sprintf("Job %s cancelled successfully", input.JobID),
	}, nil
}

// ListTool lists a user's jobs with optional state filtering.
type ListTool struct {
	scheduler *jobs.Scheduler
}

// NewListTool returns a job list tool.
func NewListTool(scheduler *jobs.Scheduler) *ListTool {
	return &ListTool{scheduler: scheduler}
}

func (t *ListTool) Name() string { return "job_list" }

func (t *ListTool) Description() string {
	return "List a user's recent jobs with optional state filtering"
}

func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"user_id":{"type":"string","description":"Owning user id"},"limit":{"type":"integer","description":"Max number of jobs to return (default 10)","default":10},"state":{"type":"string","description":"Filter by state: pending, in_progress, completed, failed, stuck, cancelled"}},"required":["user_id"]}`)
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.scheduler == nil {
		return &agent.ToolResult{Content: "job scheduler unavailable", IsError: true}, nil
	}
	var input struct {
		UserID string `json:"user_id"`
		Limit  int    `json:"limit"`
		State  string `json:"state"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return nil, err
	}
	if input.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if input.Limit <= 0 {
		input.Limit = 10
	}

	jobList, err := t.scheduler.ListByUser(ctx, input.UserID, input.Limit, 0)
	if err != nil {
		return nil, err
	}

	if input.State != "" {
		filtered := make([]*models.Job, 0)
		target := models.JobState(input.State)
		for _, j := range jobList {
			if j.State == target {
				filtered = append(filtered, j)
			}
		}
		jobList = filtered
	}

	if len(jobList) == 0 {
		return &agent.ToolResult{Content: "no jobs found"}, nil
	}

	payload, err := json.Marshal(jobList)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}
