// Package backend provides a pluggable compute-device registry.
//
// Driver packages register themselves via init() functions and are
// selected at runtime, so a binary only carries the drivers it imports:
//
//	import (
//		_ "github.com/gogpu/fluid/backend/cpu"
//		_ "github.com/gogpu/fluid/backend/wgpu"
//	)
//
// Use Default to open the best available device, or Open to request a
// specific driver by name:
//
//	dev, err := backend.Open(backend.BackendWGPU)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
//	sim, err := fluid.New(dev, 512, 512)
//
// Available drivers:
//
//   - "wgpu": WebGPU compute via the gogpu/wgpu HAL
//   - "opencl": OpenCL compute, functional in -tags opencl builds
//   - "cpu": pure-Go reference implementation (always available)
package backend
