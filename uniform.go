package fluid

import "fmt"

// uniform indexes the shader uniforms shared by all kernels. The Simulator
// creates every uniform at construction and addresses them by this index;
// backends identify them by name (see name).
type uniform int

const (
	// uniformSize carries the grid dimensions (width, height). Written
	// once at construction.
	uniformSize uniform = iota

	// uniformPosition carries the centre of an impulse or circle obstacle.
	uniformPosition

	// uniformRadius carries the radius of an impulse or circle obstacle.
	uniformRadius

	// uniformValue is reserved for kernels that take a generic payload.
	// No scheduler operation writes it today; it exists so the uniform
	// block layout matches the kernel sources.
	uniformValue

	// uniformStatic flags an obstacle as static (1) or dynamic (0).
	uniformStatic

	// uniformP1 is the first vertex of a triangle obstacle.
	uniformP1

	// uniformP2 is the second vertex of a triangle obstacle.
	uniformP2

	// uniformP3 is the third vertex of a triangle obstacle.
	uniformP3

	// uniformElapsedTime is the tick time step in seconds.
	uniformElapsedTime

	// uniformSpeed is the advection speed in cells per second.
	uniformSpeed

	// uniformDissipation is the advection dissipation factor.
	uniformDissipation

	// uniformVelocity carries the velocity of an impulse.
	uniformVelocity

	// uniformVorticityScale is the vorticity confinement strength.
	uniformVorticityScale

	// uniformAlpha is the Jacobi centre coefficient, 1/viscosity.
	uniformAlpha

	// uniformRBeta is the Jacobi stencil reciprocal, 1/(4+alpha).
	uniformRBeta

	// uniformCount is the total number of shader uniforms.
	uniformCount
)

// name returns the uniform name as declared in kernel sources.
func (u uniform) name() string {
	switch u {
	case uniformSize:
		return "size"
	case uniformPosition:
		return "position"
	case uniformRadius:
		return "radius"
	case uniformValue:
		return "value"
	case uniformStatic:
		return "static"
	case uniformP1:
		return "p1"
	case uniformP2:
		return "p2"
	case uniformP3:
		return "p3"
	case uniformElapsedTime:
		return "elapsed_time"
	case uniformSpeed:
		return "speed"
	case uniformDissipation:
		return "dissipation"
	case uniformVelocity:
		return "velocity"
	case uniformVorticityScale:
		return "vorticity_scale"
	case uniformAlpha:
		return "alpha"
	case uniformRBeta:
		return "r_beta"
	default:
		return fmt.Sprintf("Unknown(%d)", int(u))
	}
}

// scalarV4 packs a scalar into the x component of a uniform payload.
func scalarV4(x float32) Vec4 {
	return Vec4{x, 0, 0, 0}
}

// vec2V4 packs a Vec2 into the x and y components of a uniform payload.
func vec2V4(v Vec2) Vec4 {
	return Vec4{v.X, v.Y, 0, 0}
}

// flagV4 packs a boolean flag as 1.0 or 0.0 in the x component.
func flagV4(b bool) Vec4 {
	if b {
		return Vec4{1, 0, 0, 0}
	}
	return Vec4{0, 0, 0, 0}
}
