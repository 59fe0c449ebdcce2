// Package wgpu implements the fluid.Device contract on gogpu/wgpu, the
// pure Go WebGPU implementation. It drives the simulation kernels as WGSL
// compute shaders through the wgpu HAL, which supports Vulkan today.
//
// # Resource Model
//
// The backend maps the scheduler's resource model onto WebGPU as follows:
//
//   - Uniforms share a single 240-byte uniform buffer. Every kernel sees
//     the same Params block at binding 0; a uniform handle is a byte
//     offset into that block, and WriteUniform is a 16-byte buffer write.
//   - Fields are storage buffers at bindings 1-8, one binding per
//     scheduler slot (binding = slot + 1). All eight bindings live in one
//     shared bind group layout, so rebinding a slot only changes which
//     buffer the next dispatch's bind group references.
//   - Kernels are compute pipelines compiled from embedded WGSL sources,
//     all built against the shared pipeline layout.
//
// Every storage binding is declared read_write. The access mode passed to
// BindBuffer is recorded for diagnostics; the kernels themselves never
// store through their input slots.
//
// # Synchronization
//
// Each Dispatch encodes one compute pass, submits it, and blocks on a
// fence until the GPU finishes. Dispatches therefore execute strictly in
// call order, which is the ordering contract fluid.Simulator depends on.
//
// # Device Sharing
//
// New opens a dedicated GPU device. Applications that already hold a
// gogpu device can share it instead: NewFromContext accepts a
// gpucontext.DeviceProvider, and NewFromProvider accepts any value
// exposing HalDevice()/HalQueue(). Shared devices are not destroyed on
// Close.
//
// # Basic Usage
//
//	dev, err := wgpu.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	sim, err := fluid.New(dev, 512, 512)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sim.Close()
//
// # Related Packages
//
//   - github.com/gogpu/fluid: the dispatch scheduler driving this backend
//   - github.com/gogpu/wgpu: Pure Go WebGPU implementation
//
// # References
//
//   - W3C WebGPU Specification: https://www.w3.org/TR/webgpu/
//   - gogpu/wgpu: https://github.com/gogpu/wgpu
package wgpu
