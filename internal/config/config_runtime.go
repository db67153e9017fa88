package config

import "time"

// StorageConfig configures the SQLite-backed persistence layer (spec §6).
type StorageConfig struct {
	// DSN is the modernc.org/sqlite data source, e.g. "file:agentrt.db".
	DSN string `yaml:"dsn"`

	// BusyTimeoutMS is the SQLITE_BUSY retry window in milliseconds, applied
	// via the DSN's _pragma=busy_timeout(...) parameter.
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`

	// MaxOpenConns bounds the connection pool. SQLite under WAL tolerates
	// one writer at a time; keep this small.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MigrationsTable is the name of the tracking table for applied migrations.
	MigrationsTable string `yaml:"migrations_table"`
}

// WasmSandboxConfig configures CapabilitySandbox defaults (spec §4.3).
// Distinct from ToolsConfig.Sandbox, which governs the container-based
// code-execution tool; this governs the WASM host runtime.
type WasmSandboxConfig struct {
	DefaultMemoryLimitMB  int    `yaml:"default_memory_limit_mb"`
	DefaultTimeoutSeconds int    `yaml:"default_timeout_seconds"`
	FuelCeiling           uint64 `yaml:"fuel_ceiling"`

	// WasmTrustPolicy selects which trust levels may load without manual
	// review: "system_only", "system_and_verified", or "all".
	WasmTrustPolicy string `yaml:"wasm_trust_policy"`
}

// DispatcherConfig bounds the agentic loop (spec §4.1).
type DispatcherConfig struct {
	MaxToolIterations  int           `yaml:"max_tool_iterations"`
	DefaultToolTimeout time.Duration `yaml:"default_tool_timeout"`
}

// SchedulerConfig configures JobScheduler (spec §4.6).
type SchedulerConfig struct {
	WorkersPerUser    int           `yaml:"workers_per_user"`
	StuckThreshold    time.Duration `yaml:"stuck_threshold"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	MaxRepairAttempts int           `yaml:"max_repair_attempts"`
}

// RoutineConfig configures RoutineEngine (spec §4.6).
type RoutineConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// WebhookConfig configures WebhookRouter (spec §4.7).
type WebhookConfig struct {
	DefaultSecretHeader      string        `yaml:"default_secret_header"`
	SignatureStalenessWindow time.Duration `yaml:"signature_staleness_window"`
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.DSN == "" {
		cfg.DSN = "file:agentrt.db"
	}
	if cfg.BusyTimeoutMS == 0 {
		cfg.BusyTimeoutMS = 5000
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 1
	}
	if cfg.MigrationsTable == "" {
		cfg.MigrationsTable = "schema_migrations"
	}
}

func applyWasmSandboxDefaults(cfg *WasmSandboxConfig) {
	if cfg.DefaultMemoryLimitMB == 0 {
		cfg.DefaultMemoryLimitMB = 10
	}
	if cfg.DefaultTimeoutSeconds == 0 {
		cfg.DefaultTimeoutSeconds = 30
	}
	if cfg.FuelCeiling == 0 {
		cfg.FuelCeiling = 50_000_000
	}
	if cfg.WasmTrustPolicy == "" {
		cfg.WasmTrustPolicy = "system_and_verified"
	}
}

func applyDispatcherDefaults(cfg *DispatcherConfig) {
	if cfg.MaxToolIterations == 0 {
		cfg.MaxToolIterations = 50
	}
	if cfg.DefaultToolTimeout == 0 {
		cfg.DefaultToolTimeout = 30 * time.Second
	}
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.WorkersPerUser == 0 {
		cfg.WorkersPerUser = 2
	}
	if cfg.StuckThreshold == 0 {
		cfg.StuckThreshold = 5 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.MaxRepairAttempts == 0 {
		cfg.MaxRepairAttempts = 3
	}
}

func applyRoutineDefaults(cfg *RoutineConfig) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 15 * time.Second
	}
}

func applyWebhookDefaults(cfg *WebhookConfig) {
	if cfg.DefaultSecretHeader == "" {
		cfg.DefaultSecretHeader = "X-Webhook-Secret"
	}
	if cfg.SignatureStalenessWindow == 0 {
		cfg.SignatureStalenessWindow = 5 * time.Minute
	}
}
