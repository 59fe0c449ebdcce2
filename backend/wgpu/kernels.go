package wgpu

import (
	_ "embed"
	"fmt"

	"github.com/gogpu/fluid"
)

// WGSL compute kernels. Each file declares the shared Params uniform
// block at binding 0 and the subset of storage bindings (1-8) it uses.

//go:embed shaders/add_velocity.wgsl
var addVelocityWGSL string

//go:embed shaders/init_boundaries.wgsl
var initBoundariesWGSL string

//go:embed shaders/advect_velocity.wgsl
var advectVelocityWGSL string

//go:embed shaders/calc_vorticity.wgsl
var calcVorticityWGSL string

//go:embed shaders/apply_vorticity.wgsl
var applyVorticityWGSL string

//go:embed shaders/viscosity.wgsl
var viscosityWGSL string

//go:embed shaders/divergence.wgsl
var divergenceWGSL string

//go:embed shaders/poisson.wgsl
var poissonWGSL string

//go:embed shaders/subtract_gradient.wgsl
var subtractGradientWGSL string

//go:embed shaders/add_circle_obstacle.wgsl
var addCircleObstacleWGSL string

//go:embed shaders/add_triangle_obstacle.wgsl
var addTriangleObstacleWGSL string

//go:embed shaders/clear_buffer.wgsl
var clearBufferWGSL string

// kernelSource returns the WGSL source for a simulation stage.
func kernelSource(stage fluid.Stage) (string, error) {
	switch stage {
	case fluid.StageAddVelocity:
		return addVelocityWGSL, nil
	case fluid.StageInitBoundaries:
		return initBoundariesWGSL, nil
	case fluid.StageAdvectVelocity:
		return advectVelocityWGSL, nil
	case fluid.StageCalcVorticity:
		return calcVorticityWGSL, nil
	case fluid.StageApplyVorticity:
		return applyVorticityWGSL, nil
	case fluid.StageViscosity:
		return viscosityWGSL, nil
	case fluid.StageDivergence:
		return divergenceWGSL, nil
	case fluid.StagePoisson:
		return poissonWGSL, nil
	case fluid.StageSubtractGradient:
		return subtractGradientWGSL, nil
	case fluid.StageAddCircleObstacle:
		return addCircleObstacleWGSL, nil
	case fluid.StageAddTriangleObstacle:
		return addTriangleObstacleWGSL, nil
	case fluid.StageClearBuffer:
		return clearBufferWGSL, nil
	default:
		return "", fmt.Errorf("%w: %v", fluid.ErrUnknownKernel, stage)
	}
}
