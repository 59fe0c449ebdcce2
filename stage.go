package fluid

import "fmt"

// Stage identifies one of the twelve compute kernels of the solver.
// Backends load one kernel per stage at construction; the Simulator
// dispatches them in a fixed order each tick (see [Simulator.Update]).
type Stage int

const (
	// StageAddVelocity splats an impulse into the velocity field around a
	// point, with linear falloff over the impulse radius.
	StageAddVelocity Stage = iota

	// StageInitBoundaries marks the domain border as static obstacle cells.
	// It runs first every tick because the obstacle field is cleared at the
	// end of the previous tick.
	StageInitBoundaries

	// StageAdvectVelocity performs semi-Lagrangian self-advection of the
	// velocity field with dissipation.
	StageAdvectVelocity

	// StageCalcVorticity computes the curl of the velocity field.
	StageCalcVorticity

	// StageApplyVorticity applies vorticity confinement, reinjecting
	// small-scale rotational motion lost to numerical diffusion.
	StageApplyVorticity

	// StageViscosity performs one Jacobi iteration of viscous diffusion.
	StageViscosity

	// StageDivergence computes the divergence of the advected velocity
	// field, the right-hand side of the pressure equation.
	StageDivergence

	// StagePoisson performs one Jacobi iteration of the pressure Poisson
	// solve.
	StagePoisson

	// StageSubtractGradient subtracts the pressure gradient from the
	// velocity field, making it divergence-free.
	StageSubtractGradient

	// StageAddCircleObstacle rasterizes a circular obstacle into the
	// obstacle field.
	StageAddCircleObstacle

	// StageAddTriangleObstacle rasterizes a triangular obstacle into the
	// obstacle field.
	StageAddTriangleObstacle

	// StageClearBuffer zeroes whatever field is bound to SlotGeneric.
	StageClearBuffer

	// StageCount is the total number of kernel stages.
	StageCount
)

// String returns the kernel name of the stage, matching the shader source
// file names used by backends.
func (s Stage) String() string {
	switch s {
	case StageAddVelocity:
		return "add_velocity"
	case StageInitBoundaries:
		return "init_boundaries"
	case StageAdvectVelocity:
		return "advect_velocity"
	case StageCalcVorticity:
		return "calc_vorticity"
	case StageApplyVorticity:
		return "apply_vorticity"
	case StageViscosity:
		return "viscosity"
	case StageDivergence:
		return "divergence"
	case StagePoisson:
		return "poisson"
	case StageSubtractGradient:
		return "subtract_gradient"
	case StageAddCircleObstacle:
		return "add_circle_obstacle"
	case StageAddTriangleObstacle:
		return "add_triangle_obstacle"
	case StageClearBuffer:
		return "clear_buffer"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}
