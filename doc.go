// Package fluid provides a GPU compute scheduler for 2D stable-fluids
// simulation.
//
// # Overview
//
// fluid sequences the compute-kernel dispatches of an Eulerian grid solver:
// semi-Lagrangian advection, vorticity confinement, viscous diffusion,
// and a pressure projection that keeps the velocity field divergence-free.
// The package owns the simulation state machine (double-buffered fields,
// parameter validation, per-tick dispatch order) and delegates all GPU work
// to an injected [Device] implementation.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/fluid"
//	    "github.com/gogpu/fluid/backend/wgpu"
//	)
//
//	dev, _ := wgpu.New()
//	sim, _ := fluid.New(dev, 512, 512)
//	defer sim.Close()
//
//	sim.AddVelocity(fluid.V2(256, 256), fluid.V2(0, -40), 24)
//	sim.Update(1.0 / 60.0)
//
// # Architecture
//
// The library is organized into:
//   - Public API: Simulator, Device, BufferPair, Stage, Vec2
//   - Backends: wgpu (WebGPU via gogpu/wgpu), opencl (build-tagged),
//     cpu (pure Go reference)
//   - Demo driver: cmd/fluidsim
//
// A [Device] abstracts uniform upload, storage buffer allocation, slot
// binding, and kernel dispatch. Each backend implements the same twelve
// kernels from its own sources; the Simulator never touches a graphics API.
//
// # Coordinate System
//
// The simulation grid uses standard compute-shader coordinates:
//   - Cell (0,0) at top-left
//   - X increases right
//   - Y increases down
//   - Positions and radii are in grid cells
//
// # Concurrency
//
// A Simulator is NOT safe for concurrent use. Drive it from a single
// goroutine, typically the owner of the render loop. SetLogger and Logger
// are safe to call from any goroutine.
package fluid

// Version information
const (
	// Version is the current version of the library
	Version = "0.2.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 2

	// VersionPatch is the patch version
	VersionPatch = 0
)
