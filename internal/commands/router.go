// Package commands implements the slash-command router of spec §6: a
// small set of system commands that bypass thread-state checks entirely,
// operating directly on Sessions, Jobs, and Routines instead of going
// through the Dispatcher's agentic loop.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/vela-systems/agentrt/internal/jobs"
	"github.com/vela-systems/agentrt/internal/routines"
	"github.com/vela-systems/agentrt/internal/sessionmgr"
	"github.com/vela-systems/agentrt/pkg/models"
)

// Router dispatches recognized slash-commands. It holds per-user
// preferences (model, reasoning level) that have no home on Session or
// Thread — these are CLI-surface state, not conversation state.
type Router struct {
	Sessions *sessionmgr.Manager
	Jobs     *jobs.Scheduler
	Routines *routines.Engine

	mu          sync.Mutex
	model       map[string]string
	reasoning   map[string]string
}

// New constructs a Router over the given collaborators. Jobs and Routines
// may be nil; the commands that need them report "unavailable" instead
// of panicking.
func New(sessions *sessionmgr.Manager, jobScheduler *jobs.Scheduler, routineEngine *routines.Engine) *Router {
	return &Router{
		Sessions:  sessions,
		Jobs:      jobScheduler,
		Routines:  routineEngine,
		model:     make(map[string]string),
		reasoning: make(map[string]string),
	}
}

// IsCommand reports whether line looks like a slash-command.
func IsCommand(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "/")
}

// Handle dispatches line for userID, returning the command's text
// response. ok is false when line is not a recognized command, signaling
// the caller should fall through to the normal Dispatcher path.
func (r *Router) Handle(ctx context.Context, userID, line string) (response string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", false
	}
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "/help":
		return r.help(), true
	case "/status":
		return r.status(ctx, userID, args), true
	case "/cancel":
		return r.cancel(ctx, args), true
	case "/list":
		return r.list(ctx, userID), true
	case "/model":
		return r.modelCmd(userID, args), true
	case "/heartbeat":
		return r.heartbeat(ctx, userID), true
	case "/summarize":
		return r.summarize(ctx, userID), true
	case "/suggest":
		return r.suggest(ctx, userID), true
	case "/reasoning":
		return r.reasoningCmd(userID, args), true
	default:
		return fmt.Sprintf("unknown command %q, try /help", name), true
	}
}

func (r *Router) help() string {
	return strings.Join([]string{
		"/help                 show this message",
		"/status [id]          show a job's status, or the session summary if no id",
		"/cancel <id>          cancel a running or pending job",
		"/list                 list this user's jobs",
		"/model [name]         show or set the preferred model",
		"/heartbeat            touch session activity, reply ok",
		"/summarize            summarize the active thread's history",
		"/suggest              suggest a next action",
		"/reasoning [N|all]    show or set the reasoning verbosity",
	}, "\n")
}

func (r *Router) status(ctx context.Context, userID string, args []string) string {
	if len(args) > 0 {
		if r.Jobs == nil {
			return "jobs are unavailable"
		}
		job, err := r.Jobs.Get(ctx, args[0])
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		if job == nil {
			return fmt.Sprintf("no such job: %s", args[0])
		}
		return formatJob(job)
	}
	if r.Sessions == nil {
		return "no active session"
	}
	session := r.Sessions.GetOrCreateSession(ctx, userID)
	return fmt.Sprintf("session %s: %d thread(s), last activity %s",
		session.ID, len(session.Threads), session.LastActivity.Format("2006-01-02T15:04:05Z07:00"))
}

func (r *Router) cancel(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "usage: /cancel <id>"
	}
	if r.Jobs == nil {
		return "jobs are unavailable"
	}
	if err := r.Jobs.Cancel(ctx, args[0]); err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return fmt.Sprintf("job %s cancelled", args[0])
}

func (r *Router) list(ctx context.Context, userID string) string {
	if r.Jobs == nil {
		return "jobs are unavailable"
	}
	list, err := r.Jobs.ListByUser(ctx, userID, 50, 0)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	if len(list) == 0 {
		return "no jobs"
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	var b strings.Builder
	for _, job := range list {
		fmt.Fprintf(&b, "%s  %-10s  %s\n", job.ID, job.State, job.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) modelCmd(userID string, args []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(args) == 0 {
		if m, ok := r.model[userID]; ok {
			return fmt.Sprintf("model: %s", m)
		}
		return "model: (default)"
	}
	r.model[userID] = args[0]
	return fmt.Sprintf("model set to %s", args[0])
}

func (r *Router) heartbeat(ctx context.Context, userID string) string {
	if r.Sessions == nil {
		return "ok"
	}
	r.Sessions.GetOrCreateSession(ctx, userID)
	return "ok"
}

func (r *Router) summarize(ctx context.Context, userID string) string {
	if r.Sessions == nil {
		return "no active session to summarize"
	}
	session := r.Sessions.GetOrCreateSession(ctx, userID)
	thread := activeThread(session)
	if thread == nil || len(thread.Turns) == 0 {
		return "nothing to summarize yet"
	}
	last := thread.Turns[len(thread.Turns)-1]
	return fmt.Sprintf("%d turn(s) so far; most recent: %q", len(thread.Turns), truncate(last.UserInput, 120))
}

func (r *Router) suggest(ctx context.Context, userID string) string {
	if r.Sessions == nil {
		return "no active session"
	}
	session := r.Sessions.GetOrCreateSession(ctx, userID)
	thread := activeThread(session)
	if thread == nil || len(thread.Turns) == 0 {
		return "start by describing what you'd like done"
	}
	switch thread.State {
	case models.ThreadAwaitingApproval:
		return "a tool is waiting on your approval"
	case models.ThreadAuthMode:
		return "an extension is waiting for credentials"
	default:
		return "continue the conversation, or /status to check running jobs"
	}
}

func (r *Router) reasoningCmd(userID string, args []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(args) == 0 {
		if v, ok := r.reasoning[userID]; ok {
			return fmt.Sprintf("reasoning: %s", v)
		}
		return "reasoning: (default)"
	}
	level := args[0]
	if level != "all" {
		if _, err := strconv.Atoi(level); err != nil {
			return "usage: /reasoning [N|all]"
		}
	}
	r.reasoning[userID] = level
	return fmt.Sprintf("reasoning set to %s", level)
}

func activeThread(session *models.Session) *models.Thread {
	if session == nil {
		return nil
	}
	if session.ActiveThreadID != "" {
		if t, ok := session.Threads[session.ActiveThreadID]; ok {
			return t
		}
	}
	return nil
}

func formatJob(job *models.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "job %s: %s\n", job.ID, job.State)
	fmt.Fprintf(&b, "  title: %s\n", job.Title)
	if job.Description != "" {
		fmt.Fprintf(&b, "  description: %s\n", job.Description)
	}
	fmt.Fprintf(&b, "  cost: %.4f / %.4f\n", job.CostSpent, job.CostBudget)
	fmt.Fprintf(&b, "  repair attempts: %d\n", job.RepairAttempts)
	if job.Error != "" {
		fmt.Fprintf(&b, "  error: %s\n", job.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
