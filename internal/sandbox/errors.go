package sandbox

import "errors"

// Sentinel errors for CapabilitySandbox.Invoke, matching spec §4.3's
// named failure modes.
var (
	// ErrResourceExhausted is returned when fuel (host-function crossing
	// budget) or the wall-clock timeout is exceeded.
	ErrResourceExhausted = errors.New("sandbox: resource exhausted")

	// ErrMemoryLimit is returned when a guest module attempts to grow its
	// linear memory past the configured limit.
	ErrMemoryLimit = errors.New("sandbox: memory limit exceeded")

	// ErrIntegrityCheckFailed is returned when a stored WASM binary's
	// recomputed BLAKE3 hash does not match its recorded hash.
	ErrIntegrityCheckFailed = errors.New("sandbox: integrity check failed")

	// ErrCapabilityDenied is returned when a host function is called
	// without the capability that would permit it.
	ErrCapabilityDenied = errors.New("sandbox: capability denied")

	// ErrSSRFBlocked is returned when an HTTP or WebSocket capability call
	// targets a blocked host or private IP range.
	ErrSSRFBlocked = errors.New("sandbox: blocked by SSRF protection")
)
