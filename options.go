package fluid

// Option configures a Simulator during creation.
//
// Example:
//
//	// Defaults (50 Jacobi iterations, viscosity 0.1)
//	sim, err := fluid.New(dev, 512, 512)
//
//	// A cheaper, swirlier configuration
//	sim, err := fluid.New(dev, 512, 512,
//	    fluid.WithIterations(20),
//	    fluid.WithVorticity(0.8),
//	)
//
// Option values pass through the same validation as the corresponding
// setters; an out-of-range value fails New with an *InvalidParameterError.
type Option func(*simOptions)

// simOptions holds optional configuration for Simulator creation.
type simOptions struct {
	speed       float32
	iterations  int
	dissipation float32
	vorticity   float32
	viscosity   float32
	tileSize    int
	simulate    bool
}

// defaultOptions returns the default simulation options.
func defaultOptions() simOptions {
	return simOptions{
		speed:       DefaultSpeed,
		iterations:  DefaultIterations,
		dissipation: DefaultDissipation,
		vorticity:   DefaultVorticity,
		viscosity:   DefaultViscosity,
		tileSize:    DefaultTileSize,
		simulate:    true,
	}
}

// WithSpeed sets the initial advection speed in cells per second.
func WithSpeed(v float32) Option {
	return func(o *simOptions) {
		o.speed = v
	}
}

// WithIterations sets the initial Jacobi iteration count for the viscous
// diffusion and pressure solves.
func WithIterations(n int) Option {
	return func(o *simOptions) {
		o.iterations = n
	}
}

// WithDissipation sets the initial advection dissipation factor.
func WithDissipation(v float32) Option {
	return func(o *simOptions) {
		o.dissipation = v
	}
}

// WithVorticity sets the initial vorticity confinement strength.
func WithVorticity(v float32) Option {
	return func(o *simOptions) {
		o.vorticity = v
	}
}

// WithViscosity sets the initial kinematic viscosity.
func WithViscosity(v float32) Option {
	return func(o *simOptions) {
		o.viscosity = v
	}
}

// WithTileSize sets the kernel workgroup tile edge in cells. It must match
// the workgroup size the backend's kernels were compiled with; only change
// it together with a backend that uses a different tile.
func WithTileSize(t int) Option {
	return func(o *simOptions) {
		o.tileSize = t
	}
}

// WithSimulate sets the initial state of the Simulate flag. A simulator
// created with WithSimulate(false) accepts impulses and obstacles but
// skips Update ticks until the flag is raised.
func WithSimulate(on bool) Option {
	return func(o *simOptions) {
		o.simulate = on
	}
}
