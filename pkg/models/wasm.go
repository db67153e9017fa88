package models

import "time"

// TrustLevel is the provenance tier of a tool or active Skill. The
// Dispatcher's trust-attenuation rule (spec §4.1 step 4) filters tools
// whose minimum required trust exceeds the lowest-trust active Skill.
type TrustLevel int

const (
	TrustSystem TrustLevel = iota
	TrustVerified
	TrustUser
)

// WasmToolStatus is the lifecycle state of a StoredWasmTool.
type WasmToolStatus string

const (
	WasmToolActive     WasmToolStatus = "active"
	WasmToolDisabled   WasmToolStatus = "disabled"
	WasmToolQuarantined WasmToolStatus = "quarantined"
)

// StoredWasmTool is a WASM-backed tool persisted in Storage: the compiled
// binary plus its declared schema and trust/status bookkeeping.
type StoredWasmTool struct {
	Name        string          `json:"name"`
	Binary      []byte          `json:"binary"`
	Hash        string          `json:"hash"` // BLAKE3-32 of Binary
	Schema      []byte          `json:"schema"`
	Trust       TrustLevel      `json:"trust"`
	Status      WasmToolStatus  `json:"status"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SkillRef is the opaque reference to an active Skill the Dispatcher
// attenuates tool visibility against. Skill manifest parsing is out of
// scope (§1); the Dispatcher only reads Trust off whatever the caller
// attaches to the Thread.
type SkillRef struct {
	Name  string     `json:"name"`
	Trust TrustLevel `json:"trust"`
}
