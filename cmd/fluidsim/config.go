package main

import (
	"fmt"

	"gopkg.in/gcfg.v1"

	"github.com/gogpu/fluid"
)

const ExampleConfigFile = `[Simulation]

#######################
# Optional Parameters #
#######################

# Grid resolution in cells.
Width  = 512
Height = 512

# Jacobi iteration count shared by the viscous diffusion and pressure
# solves. Higher is more accurate and strictly more dispatches per tick.
Iterations = 50

# Advection speed multiplier in cells per second.
Speed = 500.0

# Velocity retained per advection step. 1.0 keeps the field forever;
# values slightly below 1.0 make the fluid calm down over time.
Dissipation = 1.0

# Vorticity confinement strength. 0 disables the effect.
Vorticity = 0.0

# Kinematic viscosity. Must stay positive.
Viscosity = 0.1

# Workgroup tile edge. Must match the tile size the backend kernels were
# compiled with; leave it alone unless you ship your own kernels.
TileSize = 16

# Number of ticks to run before writing the heatmap.
Ticks = 240

# Simulated seconds per tick.
TimeStep = 0.016`

// SimulationConfig mirrors the [Simulation] section of the config file.
type SimulationConfig struct {
	Width, Height int
	Iterations    int
	Speed         float64
	Dissipation   float64
	Vorticity     float64
	Viscosity     float64
	TileSize      int
	Ticks         int
	TimeStep      float64
}

// SimulationWrapper exists so gcfg can map the [Simulation] section onto
// the config struct.
type SimulationWrapper struct {
	Simulation SimulationConfig
}

// DefaultSimulationWrapper returns a wrapper preloaded with the solver
// defaults, so a config file only needs to name what it changes.
func DefaultSimulationWrapper() *SimulationWrapper {
	con := SimulationConfig{
		Width:       512,
		Height:      512,
		Iterations:  fluid.DefaultIterations,
		Speed:       float64(fluid.DefaultSpeed),
		Dissipation: float64(fluid.DefaultDissipation),
		Vorticity:   float64(fluid.DefaultVorticity),
		Viscosity:   float64(fluid.DefaultViscosity),
		TileSize:    fluid.DefaultTileSize,
		Ticks:       240,
		TimeStep:    0.016,
	}
	return &SimulationWrapper{con}
}

func (con *SimulationConfig) ValidGrid() bool     { return con.Width > 0 && con.Height > 0 }
func (con *SimulationConfig) ValidTicks() bool    { return con.Ticks > 0 }
func (con *SimulationConfig) ValidTimeStep() bool { return con.TimeStep > 0 }

// ReadConfig loads a gcfg config file over the defaults and validates
// the driver-level fields. Solver parameters are validated by fluid.New,
// which reports the offending parameter by name.
func ReadConfig(fname string) (*SimulationConfig, error) {
	wrap := DefaultSimulationWrapper()
	if err := gcfg.ReadFileInto(wrap, fname); err != nil {
		return nil, err
	}
	con := &wrap.Simulation

	switch {
	case !con.ValidGrid():
		return nil, fmt.Errorf("%s: Width and Height must be positive, got %dx%d",
			fname, con.Width, con.Height)
	case !con.ValidTicks():
		return nil, fmt.Errorf("%s: Ticks must be positive, got %d", fname, con.Ticks)
	case !con.ValidTimeStep():
		return nil, fmt.Errorf("%s: TimeStep must be positive, got %g", fname, con.TimeStep)
	}
	return con, nil
}

// Options converts the solver fields to fluid.New options.
func (con *SimulationConfig) Options() []fluid.Option {
	return []fluid.Option{
		fluid.WithIterations(con.Iterations),
		fluid.WithSpeed(float32(con.Speed)),
		fluid.WithDissipation(float32(con.Dissipation)),
		fluid.WithVorticity(float32(con.Vorticity)),
		fluid.WithViscosity(float32(con.Viscosity)),
		fluid.WithTileSize(con.TileSize),
	}
}
