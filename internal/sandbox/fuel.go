package sandbox

import "sync/atomic"

// FuelMeter enforces a per-invocation ceiling on host-function crossings.
// wazero's public API exposes no Wasmtime-style fuel metering, so the
// "fuel" half of spec §4.3's resource budget is approximated here by
// counting every host_* call a guest makes and tripping once a configured
// ceiling is hit; context.WithTimeout (see sandbox.go) covers the
// wall-clock half, including infinite loops that never cross the host
// boundary at all.
type FuelMeter struct {
	ceiling uint64
	spent   atomic.Uint64
}

// NewFuelMeter returns a meter that traps once ceiling host-function
// crossings have been spent. A ceiling of 0 disables the check.
func NewFuelMeter(ceiling uint64) *FuelMeter {
	return &FuelMeter{ceiling: ceiling}
}

// Spend charges n units of fuel and reports whether the ceiling was
// reached as a result.
func (f *FuelMeter) Spend(n uint64) (exhausted bool) {
	if f.ceiling == 0 {
		return false
	}
	return f.spent.Add(n) >= f.ceiling
}

// Spent returns the cumulative fuel charged so far.
func (f *FuelMeter) Spent() uint64 {
	return f.spent.Load()
}
