package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vela-systems/agentrt/internal/agent"
	"github.com/vela-systems/agentrt/internal/agent/providers"
	"github.com/vela-systems/agentrt/internal/commands"
	"github.com/vela-systems/agentrt/internal/config"
	"github.com/vela-systems/agentrt/internal/jobs"
	"github.com/vela-systems/agentrt/internal/routines"
	"github.com/vela-systems/agentrt/internal/sandbox"
	"github.com/vela-systems/agentrt/internal/sessionmgr"
	"github.com/vela-systems/agentrt/internal/storage"
	jobtools "github.com/vela-systems/agentrt/internal/tools/jobs"
	remindertools "github.com/vela-systems/agentrt/internal/tools/reminders"
	routinetools "github.com/vela-systems/agentrt/internal/tools/routines"
	"github.com/vela-systems/agentrt/internal/webhook"
	"github.com/vela-systems/agentrt/pkg/models"
)

// buildServeCmd creates the "serve" command: the long-running process
// that hosts the Dispatcher, JobScheduler, RoutineEngine, and
// WebhookRouter against a shared SQLite-backed Storage.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentrt server",
		Long: `Start the agentrt server: loads configuration, opens the SQLite store,
starts the job scheduler and routine engine, and serves the webhook
surface over HTTP until SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = defaultConfigPath()
			}
			return runServe(cmd.Context(), configPath, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address for the webhook surface")

	return cmd
}

// logNotifier satisfies routines.Notifier by logging, for deployments
// that haven't wired a concrete channel transport yet.
type logNotifier struct {
	log *slog.Logger
}

func (n logNotifier) Notify(ctx context.Context, channel, message string) error {
	n.log.Info("routine notification", "channel", channel, "message", message)
	return nil
}

// dispatcherRunner adapts a Dispatcher + SessionManager into a
// jobs.Runner: every job gets its own Thread in its owner's Session
// (channel "job", keyed by the job ID), seeded with its
// description as the first user turn, and driven through one Dispatcher
// call. This is the "JobScheduler is a peer entry point that creates
// threads and feeds the same Dispatcher" wiring of spec §2.
type dispatcherRunner struct {
	dispatcher *agent.Dispatcher
	sessions   *sessionmgr.Manager
	provider   string
	model      string
}

func (r *dispatcherRunner) Run(ctx context.Context, job *models.Job) error {
	session, threadID := r.sessions.ResolveThread(ctx, job.UserID, "job", &job.ID)
	thread := session.Threads[threadID]

	turn := &models.Turn{Number: len(thread.Turns), UserInput: job.Description, StartedAt: time.Now()}
	req := &agent.Request{
		Session:  session,
		Thread:   thread,
		Turn:     turn,
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: job.Description, CreatedAt: time.Now()}},
		Provider: r.provider,
		Model:    r.model,
		System:   fmt.Sprintf("You are executing job %q on behalf of its owner. Title: %s", job.ID, job.Title),
	}

	outcome, err := r.dispatcher.Run(ctx, req, nil)
	if err != nil {
		return err
	}
	if outcome.Approval != nil {
		return fmt.Errorf("job %s suspended on approval; approval-gated jobs are not yet resumable from the scheduler", job.ID)
	}
	turn.FinalResponse = outcome.Response.Text
	turn.CompletedAt = time.Now()
	thread.Turns = append(thread.Turns, turn)
	return nil
}

func runServe(ctx context.Context, configPath, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := slog.Default()

	db, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	jobStore := storage.NewJobStore(db)
	routineStore := storage.NewRoutineStore(db)

	providerRegistry := providers.NewRegistry()
	for name, pc := range cfg.LLM.Providers {
		switch name {
		case "anthropic":
			p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return fmt.Errorf("configure anthropic provider: %w", err)
			}
			providerRegistry.Register(p)
		case "openai":
			p, err := providers.NewOpenAIProvider(pc.APIKey, pc.DefaultModel)
			if err != nil {
				return fmt.Errorf("configure openai provider: %w", err)
			}
			providerRegistry.Register(p)
		}
	}
	if cfg.LLM.DefaultProvider != "" {
		providerRegistry.SetDefault(cfg.LLM.DefaultProvider)
	}

	toolRegistry := agent.NewToolRegistry()
	dispatcher := agent.NewDispatcher(providerRegistry, toolRegistry)
	dispatcher.Config = agent.Config{
		MaxToolIterations: cfg.Dispatcher.MaxToolIterations,
	}

	sessions := sessionmgr.New(log)

	runner := &dispatcherRunner{
		dispatcher: dispatcher,
		sessions:   sessions,
		provider:   cfg.LLM.DefaultProvider,
	}
	scheduler := jobs.NewScheduler(jobStore, runner.Run, jobs.SchedulerConfig{
		WorkersPerUser:    cfg.Scheduler.WorkersPerUser,
		StuckThreshold:    cfg.Scheduler.StuckThreshold,
		SweepInterval:     cfg.Scheduler.SweepInterval,
		MaxRepairAttempts: cfg.Scheduler.MaxRepairAttempts,
	}, log)

	routineEngine := routines.New(routineStore, scheduler, logNotifier{log: log}, routines.Config{
		PollInterval: cfg.Routine.PollInterval,
	}, log)

	if err := toolRegistry.Register(agent.Registration{
		Tool: jobtools.NewStatusTool(scheduler), Approval: agent.ApprovalNever,
	}); err != nil {
		return fmt.Errorf("register job status tool: %w", err)
	}
	if err := toolRegistry.Register(agent.Registration{
		Tool: jobtools.NewCancelTool(scheduler), Approval: agent.ApprovalNever,
	}); err != nil {
		return fmt.Errorf("register job cancel tool: %w", err)
	}
	if err := toolRegistry.Register(agent.Registration{
		Tool: jobtools.NewListTool(scheduler), Approval: agent.ApprovalNever,
	}); err != nil {
		return fmt.Errorf("register job list tool: %w", err)
	}
	if err := toolRegistry.Register(agent.Registration{
		Tool: remindertools.NewSetTool(routineEngine), Approval: agent.ApprovalNever,
	}); err != nil {
		return fmt.Errorf("register reminder set tool: %w", err)
	}
	if err := toolRegistry.Register(agent.Registration{
		Tool: remindertools.NewListTool(routineEngine), Approval: agent.ApprovalNever,
	}); err != nil {
		return fmt.Errorf("register reminder list tool: %w", err)
	}
	if err := toolRegistry.Register(agent.Registration{
		Tool: remindertools.NewCancelTool(routineEngine), Approval: agent.ApprovalNever,
	}); err != nil {
		return fmt.Errorf("register reminder cancel tool: %w", err)
	}
	if err := toolRegistry.Register(agent.Registration{
		Tool: routinetools.NewTool(routineEngine), Approval: agent.ApprovalNever,
	}); err != nil {
		return fmt.Errorf("register routine tool: %w", err)
	}

	sbx := sandbox.NewCapabilitySandbox(ctx,
		sandbox.WithMemoryLimitBytes(uint32(cfg.WasmSandbox.DefaultMemoryLimitMB)*1024*1024),
		sandbox.WithTimeout(time.Duration(cfg.WasmSandbox.DefaultTimeoutSeconds)*time.Second),
		sandbox.WithFuelCeiling(cfg.WasmSandbox.FuelCeiling),
	)
	webhookRouter := webhook.New(sbx, cfg.Webhook)

	cmdRouter := commands.New(sessions, scheduler, routineEngine)
	go runCommandREPL(ctx, cmdRouter, log)

	scheduler.StartSweep(ctx)
	routineEngine.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/hooks/", webhookRouter)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: addr, Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("agentrt listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", "error", err)
	}
	scheduler.Stop()
	routineEngine.Stop()
	return nil
}

// operatorUserID scopes the serve process's own stdin console to a fixed
// user, distinct from any channel-originated session.
const operatorUserID = "operator"

// runCommandREPL reads slash-commands from stdin until ctx is done,
// giving an operator console onto the spec §6 CLI surface without
// requiring a channel adapter.
func runCommandREPL(ctx context.Context, router *commands.Router, log *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		if ctx.Err() != nil {
			return
		}
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		if !commands.IsCommand(line) {
			continue
		}
		resp, _ := router.Handle(ctx, operatorUserID, line)
		fmt.Println(resp)
		log.Debug("command handled", "line", line)
	}
}
