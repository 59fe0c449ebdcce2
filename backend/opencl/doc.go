// Package opencl implements the fluid.Device contract on OpenCL 1.2 via
// github.com/jgillich/go-opencl. It is the fallback backend for machines
// without a working Vulkan stack.
//
// The backend is compiled only with the opencl build tag:
//
//	go build -tags opencl ./...
//
// Without the tag a stub is compiled instead whose New always fails, so
// callers can probe for OpenCL support at runtime and fall back to
// another backend.
//
// # Resource Model
//
// All twelve kernels live in one OpenCL program built at device
// creation. Uniforms are slots of a single 240-byte float4[15] buffer
// passed as the first argument of every kernel; uniform handles are
// indices into that buffer, and writes are buffer updates. Field buffers
// follow in each kernel's argument list in slot order, resolved from the
// slot table at dispatch time.
//
// # Synchronization
//
// The device uses a single in-order command queue. Enqueued kernels
// execute in submission order, which satisfies the ordering contract of
// fluid.Device without blocking after every dispatch. ReadField issues a
// blocking read, so it also acts as a full pipeline flush.
package opencl
