package fluid

import (
	"errors"
	"fmt"
)

// Common backend contract errors. Device implementations return these (or
// wrap them) so the scheduler and callers can test conditions with errors.Is.
var (
	// ErrUnknownUniform is returned by CreateUniform for a name the backend
	// does not recognize.
	ErrUnknownUniform = errors.New("fluid: unknown uniform name")

	// ErrUnknownKernel is returned by LoadKernel for a stage the backend
	// has no kernel source for.
	ErrUnknownKernel = errors.New("fluid: unknown kernel stage")

	// ErrInvalidSlot is returned by BindBuffer when the slot is out of range.
	ErrInvalidSlot = errors.New("fluid: invalid buffer slot")

	// ErrDeviceClosed is returned by backend operations after the device
	// has been closed.
	ErrDeviceClosed = errors.New("fluid: device is closed")
)

// Uniform is an opaque handle to a shader uniform created by a Device.
// The scheduler never inspects it; it only passes it back to the Device.
type Uniform any

// Field is an opaque handle to a grid-sized storage buffer created by a
// Device. One Field holds one value per simulation cell.
type Field any

// Kernel is an opaque handle to a loaded compute kernel.
type Kernel any

// Slot identifies one of the fixed buffer binding points shared by all
// simulation kernels. Every kernel source declares its buffers against
// these slots, so the scheduler can retarget a dispatch by rebinding a
// slot rather than recompiling anything.
type Slot int

const (
	// SlotVelocityIn is the velocity field read by the current dispatch.
	SlotVelocityIn Slot = iota

	// SlotVelocityOut is the velocity field written by the current dispatch.
	SlotVelocityOut

	// SlotPressureIn is the pressure field read by the current dispatch.
	SlotPressureIn

	// SlotPressureOut is the pressure field written by the current dispatch.
	SlotPressureOut

	// SlotDivergence holds the divergence of the advected velocity field.
	SlotDivergence

	// SlotVorticity holds the curl magnitude used by vorticity confinement.
	SlotVorticity

	// SlotObstacles holds per-cell obstacle occupancy and flags.
	SlotObstacles

	// SlotGeneric is a transient binding point. ClearBuffer dispatches run
	// against whatever field is currently bound here.
	SlotGeneric

	// SlotCount is the total number of binding slots.
	SlotCount
)

// String returns the slot name as it appears in kernel sources.
func (s Slot) String() string {
	switch s {
	case SlotVelocityIn:
		return "velocity_in"
	case SlotVelocityOut:
		return "velocity_out"
	case SlotPressureIn:
		return "pressure_in"
	case SlotPressureOut:
		return "pressure_out"
	case SlotDivergence:
		return "divergence"
	case SlotVorticity:
		return "vorticity"
	case SlotObstacles:
		return "obstacles"
	case SlotGeneric:
		return "generic"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Access declares how kernels use a bound buffer.
type Access int

const (
	// AccessRead binds a buffer for kernel reads.
	AccessRead Access = iota

	// AccessWrite binds a buffer for kernel writes.
	AccessWrite
)

// String returns the string representation of Access.
func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return fmt.Sprintf("Unknown(%d)", int(a))
	}
}

// Layout describes the per-cell element of a Field.
type Layout int

const (
	// LayoutScalar stores one float32 per cell (pressure, divergence,
	// vorticity).
	LayoutScalar Layout = iota

	// LayoutVector2 stores two float32 per cell (velocity, obstacles).
	LayoutVector2
)

// String returns the string representation of Layout.
func (l Layout) String() string {
	switch l {
	case LayoutScalar:
		return "scalar"
	case LayoutVector2:
		return "vector2"
	default:
		return fmt.Sprintf("Unknown(%d)", int(l))
	}
}

// Components returns the number of float32 components per cell.
func (l Layout) Components() int {
	if l == LayoutVector2 {
		return 2
	}
	return 1
}

// Device is the compute capability a Simulator runs on. Implementations
// wrap a GPU API (see backend/wgpu and backend/opencl); tests substitute
// an in-memory fake.
//
// The Simulator relies on two contracts beyond the method signatures:
//
//   - Dispatches execute in submission order with respect to each other.
//     A kernel reading a buffer observes every write dispatched before it.
//   - BindBuffer takes effect for all subsequent dispatches until the slot
//     is bound again.
//
// Devices are driven from a single goroutine; implementations may lock
// internally where their underlying API requires it.
type Device interface {
	// CreateUniform allocates the named shader uniform. All uniforms are
	// one vec4 (four float32) wide regardless of how many components the
	// kernels consume.
	CreateUniform(name string) (Uniform, error)

	// WriteUniform uploads a new value for the uniform.
	WriteUniform(u Uniform, value Vec4) error

	// DestroyUniform releases the uniform.
	DestroyUniform(u Uniform) error

	// CreateBuffer allocates a zero-initialized storage buffer of cells
	// elements with the given per-cell layout.
	CreateBuffer(cells int, layout Layout) (Field, error)

	// DestroyBuffer releases the buffer.
	DestroyBuffer(f Field) error

	// BindBuffer attaches the field to a binding slot for subsequent
	// dispatches. Rebinding a slot replaces the previous attachment.
	BindBuffer(slot Slot, f Field, access Access) error

	// LoadKernel compiles and loads the compute kernel for a stage.
	LoadKernel(stage Stage) (Kernel, error)

	// DestroyKernel releases the kernel.
	DestroyKernel(k Kernel) error

	// Dispatch executes the kernel over a gx*gy*gz grid of workgroups
	// against the currently bound slots and uniform values.
	Dispatch(k Kernel, gx, gy, gz uint32) error
}
