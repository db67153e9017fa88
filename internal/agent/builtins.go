package agent

import (
	"github.com/vela-systems/agentrt/internal/tools/facts"
	"github.com/vela-systems/agentrt/internal/tools/files"
	"github.com/vela-systems/agentrt/internal/tools/memorysearch"
	"github.com/vela-systems/agentrt/internal/tools/websearch"
	"github.com/vela-systems/agentrt/pkg/models"
)

// BuiltinConfig bundles the workspace-scoped settings the self-contained
// built-in tools need to construct. Tools whose dependencies come from a
// component not yet wired up (CapabilitySandbox, JobScheduler,
// RoutineEngine, WebhookRouter, Storage, SessionManager) are registered by
// their owning component's wiring code instead — see the per-package notes
// in DESIGN.md.
type BuiltinConfig struct {
	Workspace    string
	WebSearch    websearch.Config
	WebFetch     websearch.FetchConfig
	MemorySearch memorysearch.Config
}

// RegisterBuiltins registers the built-in tools that need nothing beyond a
// workspace path and static config — no running CapabilitySandbox, job
// store, or session store required. write, edit and apply_patch are
// registered with ApprovalAlways, the rest with ApprovalUnlessAutoApproved;
// websearch and webfetch require TrustVerified, the rest TrustSystem.
func RegisterBuiltins(reg *ToolRegistry, cfg BuiltinConfig) error {
	fileCfg := files.Config{Workspace: cfg.Workspace}

	entries := []Registration{
		{Tool: files.NewReadTool(fileCfg), Approval: ApprovalUnlessAutoApproved, MinTrust: models.TrustSystem, Domain: "builtin"},
		{Tool: files.NewWriteTool(fileCfg), Approval: ApprovalAlways, MinTrust: models.TrustSystem, Domain: "builtin"},
		{Tool: files.NewEditTool(fileCfg), Approval: ApprovalAlways, MinTrust: models.TrustSystem, Domain: "builtin"},
		{Tool: files.NewApplyPatchTool(fileCfg), Approval: ApprovalAlways, MinTrust: models.TrustSystem, Domain: "builtin"},
		{Tool: facts.NewExtractTool(10), Approval: ApprovalUnlessAutoApproved, MinTrust: models.TrustSystem, Domain: "builtin"},
		{Tool: websearch.NewWebSearchTool(&cfg.WebSearch), Approval: ApprovalUnlessAutoApproved, MinTrust: models.TrustVerified, Domain: "builtin"},
		{Tool: websearch.NewWebFetchTool(&cfg.WebFetch), Approval: ApprovalUnlessAutoApproved, MinTrust: models.TrustVerified, Domain: "builtin"},
		{Tool: memorysearch.NewMemorySearchTool(&cfg.MemorySearch), Approval: ApprovalUnlessAutoApproved, MinTrust: models.TrustSystem, Domain: "builtin"},
	}

	for _, e := range entries {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}
