package fluid

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter is the target for errors.Is on any parameter
// validation failure. The concrete error is always an
// [*InvalidParameterError] carrying the parameter name and constraint.
var ErrInvalidParameter = errors.New("fluid: invalid parameter")

// InvalidParameterError reports a rejected parameter value. The stored
// parameter keeps its previous value when a setter returns this error.
type InvalidParameterError struct {
	// Name is the parameter name ("speed", "iterations", ...).
	Name string

	// Constraint describes the accepted range ("> 0", ">= 0").
	Constraint string

	// Value is the rejected value.
	Value float64
}

// Error implements the error interface.
func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("fluid: invalid parameter %s = %v, want %s", e.Name, e.Value, e.Constraint)
}

// Unwrap makes errors.Is(err, ErrInvalidParameter) hold for every
// InvalidParameterError.
func (e *InvalidParameterError) Unwrap() error {
	return ErrInvalidParameter
}

// Default simulation parameters.
const (
	// DefaultSpeed is the default advection speed in cells per second.
	DefaultSpeed = 500.0

	// DefaultIterations is the default Jacobi iteration count for the
	// viscous diffusion and pressure solves.
	DefaultIterations = 50

	// DefaultDissipation is the default advection dissipation factor.
	// 1.0 preserves the advected quantity exactly.
	DefaultDissipation = 1.0

	// DefaultVorticity is the default vorticity confinement strength.
	// 0 disables confinement (the kernel still runs, scaling by zero).
	DefaultVorticity = 0.0

	// DefaultViscosity is the default kinematic viscosity.
	DefaultViscosity = 0.1
)

// Speed returns the advection speed in cells per second.
func (s *Simulator) Speed() float32 { return s.speed }

// SetSpeed sets the advection speed. The value must be positive.
func (s *Simulator) SetSpeed(v float32) error {
	if !(v > 0) {
		return &InvalidParameterError{Name: "speed", Constraint: "> 0", Value: float64(v)}
	}
	s.speed = v
	return nil
}

// Iterations returns the Jacobi iteration count shared by the viscous
// diffusion and pressure solves.
func (s *Simulator) Iterations() int { return s.iterations }

// SetIterations sets the Jacobi iteration count. The value must be
// positive. Higher counts converge further at a linear dispatch cost:
// every tick issues two dispatches per iteration.
func (s *Simulator) SetIterations(n int) error {
	if n <= 0 {
		return &InvalidParameterError{Name: "iterations", Constraint: "> 0", Value: float64(n)}
	}
	s.iterations = n
	return nil
}

// Dissipation returns the advection dissipation factor.
func (s *Simulator) Dissipation() float32 { return s.dissipation }

// SetDissipation sets the advection dissipation factor. The value must be
// positive; values below 1.0 fade the velocity field each tick.
func (s *Simulator) SetDissipation(v float32) error {
	if !(v > 0) {
		return &InvalidParameterError{Name: "dissipation", Constraint: "> 0", Value: float64(v)}
	}
	s.dissipation = v
	return nil
}

// Vorticity returns the vorticity confinement strength.
func (s *Simulator) Vorticity() float32 { return s.vorticity }

// SetVorticity sets the vorticity confinement strength. The value must be
// non-negative; zero disables the effect.
func (s *Simulator) SetVorticity(v float32) error {
	if !(v >= 0) {
		return &InvalidParameterError{Name: "vorticity", Constraint: ">= 0", Value: float64(v)}
	}
	s.vorticity = v
	return nil
}

// Viscosity returns the kinematic viscosity.
func (s *Simulator) Viscosity() float32 { return s.viscosity }

// SetViscosity sets the kinematic viscosity. The value must be positive:
// the Jacobi centre coefficient is its reciprocal.
func (s *Simulator) SetViscosity(v float32) error {
	if !(v > 0) {
		return &InvalidParameterError{Name: "viscosity", Constraint: "> 0", Value: float64(v)}
	}
	s.viscosity = v
	return nil
}

// jacobiCoefficients derives the per-tick Jacobi stencil coefficients for
// the viscous diffusion solve from the viscosity:
//
//	alpha = 1 / viscosity
//	rBeta = 1 / (4 + alpha)
//
// alpha weights the centre sample and rBeta is the reciprocal of the
// stencil normalization (four neighbors plus the weighted centre). Both
// are uploaded every tick so viscosity changes between ticks take effect
// without touching the kernels.
func jacobiCoefficients(viscosity float32) (alpha, rBeta float32) {
	alpha = 1 / viscosity
	rBeta = 1 / (4 + alpha)
	return alpha, rBeta
}
