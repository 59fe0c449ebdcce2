// Package cpu implements the fluid.Device contract in pure Go.
//
// The device executes the same twelve kernels the GPU drivers run,
// ported float32-for-float32 from the bundled WGSL sources, and spreads
// each dispatch over a worker pool in row bands. It mirrors the GPU
// drivers' resource model: a fifteen-slot vec4 parameter block
// addressed by uniform name, and eight storage binding slots.
//
// Dispatches run to completion before Dispatch returns, which makes
// the in-order execution contract trivial. Unlike the GPU drivers,
// which bind a placeholder buffer to unused slots, this device rejects
// a dispatch whose kernel needs an unbound or undersized slot; the
// error names the slot.
//
// The package registers itself with the backend registry under the
// name "cpu". It is the fallback of last resort in priority order and
// the only driver guaranteed to open on any machine, which also makes
// it the reference implementation for end-to-end tests.
package cpu
