package fluid

import (
	"errors"
	"fmt"
)

// Simulator errors.
var (
	// ErrSimulatorClosed is returned when operations are attempted on a
	// closed simulator.
	ErrSimulatorClosed = errors.New("fluid: simulator is closed")

	// ErrNilDevice is returned when New is passed a nil Device.
	ErrNilDevice = errors.New("fluid: nil device")

	// ErrInvalidGridSize is returned when width or height is not positive.
	ErrInvalidGridSize = errors.New("fluid: invalid grid size")
)

// DefaultTileSize is the workgroup tile edge, in cells, that all bundled
// backend kernels are compiled with. A dispatch covers the grid with
// ceil(width/tile) x ceil(height/tile) workgroups.
const DefaultTileSize = 16

// Stats reports cumulative scheduler activity.
type Stats struct {
	// Ticks is the number of completed Update calls (skipped ticks with
	// Simulate false do not count).
	Ticks uint64

	// Dispatches is the total number of kernel dispatches issued,
	// including those from AddVelocity and the obstacle operations.
	Dispatches uint64
}

// fieldSet holds the grid fields of one simulation. velocityA/velocityB
// and pressureA/pressureB are the raw double-buffer halves, addressed by
// identity only during teardown; all pipeline access goes through the
// velocity and pressure pairs.
type fieldSet struct {
	velocityA, velocityB Field
	pressureA, pressureB Field
	divergence           Field
	vorticity            Field
	obstacles            Field

	velocity *BufferPair
	pressure *BufferPair
}

// Simulator sequences the compute-kernel dispatches of a 2D stable-fluids
// solver on an injected [Device]. It owns the double-buffered velocity and
// pressure fields, the single-buffered divergence, vorticity and obstacle
// fields, the shader uniforms, and one loaded kernel per [Stage].
//
// Each tick ([Simulator.Update]) runs the classic splitting scheme:
// advection, vorticity confinement, viscous diffusion, then a pressure
// projection that restores a divergence-free velocity field. The dispatch
// order is fixed; tunables only change uniform values and iteration
// counts.
//
// Simulator is NOT safe for concurrent use.
type Simulator struct {
	// Simulate gates Update. When false, Update returns immediately
	// without touching the device; impulses and obstacles still apply.
	// Toggle it between ticks only.
	Simulate bool

	dev Device

	width    int
	height   int
	tileSize int
	groupsX  uint32
	groupsY  uint32

	speed       float32
	iterations  int
	dissipation float32
	vorticity   float32
	viscosity   float32

	uniforms [uniformCount]Uniform
	kernels  [StageCount]Kernel
	fields   fieldSet

	ticks      uint64
	dispatches uint64

	closed bool
}

// New creates a Simulator for a width x height grid on the given device.
// It allocates every uniform, kernel and field up front: construction is
// the only allocation point, and a failure releases everything acquired
// so far before returning.
func New(dev Device, width, height int, opts ...Option) (*Simulator, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidGridSize, width, height)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.tileSize <= 0 {
		return nil, &InvalidParameterError{Name: "tile_size", Constraint: "> 0", Value: float64(o.tileSize)}
	}

	s := &Simulator{
		Simulate: o.simulate,
		dev:      dev,
		width:    width,
		height:   height,
		tileSize: o.tileSize,
		groupsX:  workgroups(width, o.tileSize),
		groupsY:  workgroups(height, o.tileSize),
	}

	// Route option values through the setters so both paths share one
	// validation.
	if err := s.SetSpeed(o.speed); err != nil {
		return nil, err
	}
	if err := s.SetIterations(o.iterations); err != nil {
		return nil, err
	}
	if err := s.SetDissipation(o.dissipation); err != nil {
		return nil, err
	}
	if err := s.SetVorticity(o.vorticity); err != nil {
		return nil, err
	}
	if err := s.SetViscosity(o.viscosity); err != nil {
		return nil, err
	}

	if err := s.createResources(); err != nil {
		_ = s.release()
		return nil, err
	}

	slogger().Info("fluid: simulator created",
		"grid", fmt.Sprintf("%dx%d", width, height),
		"workgroups", fmt.Sprintf("%dx%d", s.groupsX, s.groupsY),
		"iterations", s.iterations)
	return s, nil
}

// workgroups returns the number of workgroups covering cells with the
// given tile edge. This performs ceiling division:
//
//	workgroups = (cells + tile - 1) / tile
func workgroups(cells, tile int) uint32 {
	return uint32((cells + tile - 1) / tile)
}

// createResources acquires every device resource the simulator needs:
// uniforms, kernels, fields, the initial uniform values and the initial
// slot bindings. On failure the caller releases partial acquisitions via
// release.
func (s *Simulator) createResources() error {
	for u := uniform(0); u < uniformCount; u++ {
		h, err := s.dev.CreateUniform(u.name())
		if err != nil {
			return fmt.Errorf("create uniform %s: %w", u.name(), err)
		}
		s.uniforms[u] = h
	}

	for st := Stage(0); st < StageCount; st++ {
		k, err := s.dev.LoadKernel(st)
		if err != nil {
			return fmt.Errorf("load kernel %s: %w", st, err)
		}
		s.kernels[st] = k
	}

	cells := s.width * s.height
	specs := []struct {
		target *Field
		name   string
		layout Layout
	}{
		{&s.fields.velocityA, "velocity_a", LayoutVector2},
		{&s.fields.velocityB, "velocity_b", LayoutVector2},
		{&s.fields.pressureA, "pressure_a", LayoutScalar},
		{&s.fields.pressureB, "pressure_b", LayoutScalar},
		{&s.fields.divergence, "divergence", LayoutScalar},
		{&s.fields.vorticity, "vorticity", LayoutScalar},
		{&s.fields.obstacles, "obstacles", LayoutVector2},
	}
	for _, sp := range specs {
		f, err := s.dev.CreateBuffer(cells, sp.layout)
		if err != nil {
			return fmt.Errorf("create %s buffer: %w", sp.name, err)
		}
		*sp.target = f
	}
	s.fields.velocity = NewBufferPair(s.fields.velocityA, s.fields.velocityB)
	s.fields.pressure = NewBufferPair(s.fields.pressureA, s.fields.pressureB)

	// The grid dimensions never change, so the size uniform is written
	// exactly once.
	if err := s.writeUniform(uniformSize, Vec4{float32(s.width), float32(s.height), 0, 0}); err != nil {
		return err
	}

	return s.bindInitial()
}

// bindInitial wires every field to its home slot. The double-buffered
// pairs start with their A halves on the read side.
func (s *Simulator) bindInitial() error {
	binds := []struct {
		slot   Slot
		field  Field
		access Access
	}{
		{SlotVelocityIn, s.fields.velocity.Current(), AccessRead},
		{SlotVelocityOut, s.fields.velocity.Next(), AccessWrite},
		{SlotPressureIn, s.fields.pressure.Current(), AccessRead},
		{SlotPressureOut, s.fields.pressure.Next(), AccessWrite},
		{SlotDivergence, s.fields.divergence, AccessWrite},
		{SlotVorticity, s.fields.vorticity, AccessWrite},
		{SlotObstacles, s.fields.obstacles, AccessWrite},
	}
	for _, b := range binds {
		if err := s.dev.BindBuffer(b.slot, b.field, b.access); err != nil {
			return fmt.Errorf("bind %s: %w", b.slot, err)
		}
	}
	return nil
}

// Width returns the grid width in cells.
func (s *Simulator) Width() int { return s.width }

// Height returns the grid height in cells.
func (s *Simulator) Height() int { return s.height }

// Size returns width and height as a convenience.
func (s *Simulator) Size() (width, height int) {
	return s.width, s.height
}

// TileSize returns the workgroup tile edge in cells.
func (s *Simulator) TileSize() int { return s.tileSize }

// Workgroups returns the dispatch grid: the number of workgroups along
// each axis for a full-grid kernel.
func (s *Simulator) Workgroups() (x, y uint32) {
	return s.groupsX, s.groupsY
}

// Stats returns cumulative scheduler counters.
func (s *Simulator) Stats() Stats {
	return Stats{Ticks: s.ticks, Dispatches: s.dispatches}
}

// VelocityField returns the device handle of the velocity half the next
// tick will read. Rendering and readback layers hand it to their backend;
// the handle stays owned by the Simulator and is valid until the next
// Update or Close. Returns nil after Close.
func (s *Simulator) VelocityField() Field {
	if s.closed {
		return nil
	}
	return s.fields.velocity.Current()
}

// PressureField returns the device handle of the pressure half the next
// tick will read, under the same ownership rules as VelocityField.
func (s *Simulator) PressureField() Field {
	if s.closed {
		return nil
	}
	return s.fields.pressure.Current()
}

// AddVelocity splats a velocity impulse into the field: cells within
// radius of pos gain a fraction of vel, falling off linearly with
// distance. The result lands in the write half of the velocity pair, so
// the pair is flipped before returning.
func (s *Simulator) AddVelocity(pos, vel Vec2, radius float32) error {
	if s.closed {
		return ErrSimulatorClosed
	}
	if err := s.writeUniform(uniformPosition, vec2V4(pos)); err != nil {
		return err
	}
	if err := s.writeUniform(uniformVelocity, vec2V4(vel)); err != nil {
		return err
	}
	if err := s.writeUniform(uniformRadius, scalarV4(radius)); err != nil {
		return err
	}
	if err := s.dispatch(StageAddVelocity); err != nil {
		return err
	}
	return s.flipVelocity()
}

// AddCircleObstacle rasterizes a circular obstacle of the given radius
// around pos. Obstacles are transient: the field accumulates every
// obstacle added since the last tick and Update clears it at the end, so
// persistent obstacles must be re-added every tick.
func (s *Simulator) AddCircleObstacle(pos Vec2, radius float32, static bool) error {
	if s.closed {
		return ErrSimulatorClosed
	}
	if err := s.writeUniform(uniformPosition, vec2V4(pos)); err != nil {
		return err
	}
	if err := s.writeUniform(uniformRadius, scalarV4(radius)); err != nil {
		return err
	}
	if err := s.writeUniform(uniformStatic, flagV4(static)); err != nil {
		return err
	}
	// Obstacles are single-buffered: no flip.
	return s.dispatch(StageAddCircleObstacle)
}

// AddTriangleObstacle rasterizes a triangular obstacle with vertices p1,
// p2, p3. The same transience rules as AddCircleObstacle apply.
func (s *Simulator) AddTriangleObstacle(p1, p2, p3 Vec2, static bool) error {
	if s.closed {
		return ErrSimulatorClosed
	}
	if err := s.writeUniform(uniformP1, vec2V4(p1)); err != nil {
		return err
	}
	if err := s.writeUniform(uniformP2, vec2V4(p2)); err != nil {
		return err
	}
	if err := s.writeUniform(uniformP3, vec2V4(p3)); err != nil {
		return err
	}
	if err := s.writeUniform(uniformStatic, flagV4(static)); err != nil {
		return err
	}
	return s.dispatch(StageAddTriangleObstacle)
}

// Update advances the simulation by dt seconds.
//
// The dispatch sequence is fixed:
//
//	 1. init_boundaries     -- re-mark the domain border as obstacles
//	 2. advect_velocity     -- semi-Lagrangian self-advection     (flip velocity)
//	 3. calc_vorticity      -- curl of the velocity field
//	 4. apply_vorticity     -- vorticity confinement              (flip velocity)
//	 5. viscosity           -- N Jacobi iterations                (flip velocity each)
//	 6. divergence          -- right-hand side of the projection
//	 7. clear_buffer        -- zero the pressure read half
//	 8. poisson             -- N Jacobi iterations                (flip pressure each)
//	 9. subtract_gradient   -- project out the divergent part     (flip velocity)
//	10. clear_buffer        -- zero the obstacle field
//
// With N = Iterations() this issues exactly 8 + 2N dispatches. When
// Simulate is false, Update is a no-op and issues none.
func (s *Simulator) Update(dt float32) error {
	if s.closed {
		return ErrSimulatorClosed
	}
	if !s.Simulate {
		return nil
	}

	if err := s.uploadTickParams(dt); err != nil {
		return err
	}

	// The previous tick cleared the obstacle field; restore the border
	// before anything samples it.
	if err := s.dispatch(StageInitBoundaries); err != nil {
		return err
	}

	if err := s.dispatch(StageAdvectVelocity); err != nil {
		return err
	}
	if err := s.flipVelocity(); err != nil {
		return err
	}

	if err := s.dispatch(StageCalcVorticity); err != nil {
		return err
	}
	if err := s.dispatch(StageApplyVorticity); err != nil {
		return err
	}
	if err := s.flipVelocity(); err != nil {
		return err
	}

	// The setter keeps viscosity positive, so the guard is always taken
	// today; it stays so an inviscid mode only has to relax the setter.
	if s.viscosity > 0 {
		for i := 0; i < s.iterations; i++ {
			if err := s.dispatch(StageViscosity); err != nil {
				return err
			}
			if err := s.flipVelocity(); err != nil {
				return err
			}
		}
	}

	if err := s.dispatch(StageDivergence); err != nil {
		return err
	}

	// The Poisson solve iterates from a zero initial guess: clear the
	// read half of the pressure pair before the first iteration.
	if err := s.clearField(s.fields.pressure.Current(), SlotPressureIn, AccessRead); err != nil {
		return err
	}
	for i := 0; i < s.iterations; i++ {
		if err := s.dispatch(StagePoisson); err != nil {
			return err
		}
		if err := s.flipPressure(); err != nil {
			return err
		}
	}

	if err := s.dispatch(StageSubtractGradient); err != nil {
		return err
	}
	if err := s.flipVelocity(); err != nil {
		return err
	}

	// Obstacles are transient: drop everything added before this tick so
	// hosts can re-add moving obstacles at their new positions.
	if err := s.clearField(s.fields.obstacles, SlotObstacles, AccessWrite); err != nil {
		return err
	}

	s.ticks++
	return nil
}

// uploadTickParams writes the per-tick uniforms: the time step, the
// current tunables, and the Jacobi coefficients derived from viscosity.
func (s *Simulator) uploadTickParams(dt float32) error {
	alpha, rBeta := jacobiCoefficients(s.viscosity)
	writes := []struct {
		u uniform
		v Vec4
	}{
		{uniformElapsedTime, scalarV4(dt)},
		{uniformSpeed, scalarV4(s.speed)},
		{uniformDissipation, scalarV4(s.dissipation)},
		{uniformVorticityScale, scalarV4(s.vorticity)},
		{uniformAlpha, scalarV4(alpha)},
		{uniformRBeta, scalarV4(rBeta)},
	}
	for _, w := range writes {
		if err := s.writeUniform(w.u, w.v); err != nil {
			return err
		}
	}
	return nil
}

// writeUniform uploads one uniform value with error context.
func (s *Simulator) writeUniform(u uniform, v Vec4) error {
	if err := s.dev.WriteUniform(s.uniforms[u], v); err != nil {
		return fmt.Errorf("write uniform %s: %w", u.name(), err)
	}
	return nil
}

// dispatch runs one full-grid kernel dispatch.
func (s *Simulator) dispatch(st Stage) error {
	if err := s.dev.Dispatch(s.kernels[st], s.groupsX, s.groupsY, 1); err != nil {
		return fmt.Errorf("dispatch %s: %w", st, err)
	}
	s.dispatches++
	slogger().Debug("fluid: dispatched stage",
		"stage", st.String(),
		"workgroups_x", s.groupsX,
		"workgroups_y", s.groupsY)
	return nil
}

// flipVelocity transposes the velocity pair and rebinds both slots.
// The rebind happens immediately: no dispatch may run between a swap and
// the rebinding of its slots.
func (s *Simulator) flipVelocity() error {
	read, write := s.fields.velocity.Swap()
	if err := s.dev.BindBuffer(SlotVelocityIn, read, AccessRead); err != nil {
		return fmt.Errorf("rebind %s: %w", SlotVelocityIn, err)
	}
	if err := s.dev.BindBuffer(SlotVelocityOut, write, AccessWrite); err != nil {
		return fmt.Errorf("rebind %s: %w", SlotVelocityOut, err)
	}
	return nil
}

// flipPressure transposes the pressure pair and rebinds both slots.
func (s *Simulator) flipPressure() error {
	read, write := s.fields.pressure.Swap()
	if err := s.dev.BindBuffer(SlotPressureIn, read, AccessRead); err != nil {
		return fmt.Errorf("rebind %s: %w", SlotPressureIn, err)
	}
	if err := s.dev.BindBuffer(SlotPressureOut, write, AccessWrite); err != nil {
		return fmt.Errorf("rebind %s: %w", SlotPressureOut, err)
	}
	return nil
}

// clearField zeroes a field through the generic slot: the field is bound
// to SlotGeneric for a ClearBuffer dispatch, then rebound to its home
// slot with its home access.
func (s *Simulator) clearField(f Field, home Slot, access Access) error {
	if err := s.dev.BindBuffer(SlotGeneric, f, AccessWrite); err != nil {
		return fmt.Errorf("bind %s for clear: %w", SlotGeneric, err)
	}
	if err := s.dispatch(StageClearBuffer); err != nil {
		return err
	}
	if err := s.dev.BindBuffer(home, f, access); err != nil {
		return fmt.Errorf("rebind %s after clear: %w", home, err)
	}
	return nil
}

// Close releases every device resource held by the simulator, in order:
// uniforms, then fields, then kernels. Close is idempotent. Releases are
// best-effort: a failure is logged, teardown continues, and the first
// error is returned.
func (s *Simulator) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.release()
}

// release destroys whatever resources are currently held, tolerating
// partially constructed state. Uniforms go first, then fields, then
// kernels.
func (s *Simulator) release() error {
	var first error
	fail := func(what string, err error) {
		if err == nil {
			return
		}
		slogger().Warn("fluid: release failed", "resource", what, "error", err)
		if first == nil {
			first = err
		}
	}

	for u := uniform(0); u < uniformCount; u++ {
		if s.uniforms[u] != nil {
			fail(u.name(), s.dev.DestroyUniform(s.uniforms[u]))
			s.uniforms[u] = nil
		}
	}

	fields := []struct {
		name string
		f    *Field
	}{
		{"velocity_a", &s.fields.velocityA},
		{"velocity_b", &s.fields.velocityB},
		{"pressure_a", &s.fields.pressureA},
		{"pressure_b", &s.fields.pressureB},
		{"divergence", &s.fields.divergence},
		{"vorticity", &s.fields.vorticity},
		{"obstacles", &s.fields.obstacles},
	}
	for _, fe := range fields {
		if *fe.f != nil {
			fail(fe.name, s.dev.DestroyBuffer(*fe.f))
			*fe.f = nil
		}
	}
	s.fields.velocity = nil
	s.fields.pressure = nil

	for st := Stage(0); st < StageCount; st++ {
		if s.kernels[st] != nil {
			fail(st.String(), s.dev.DestroyKernel(s.kernels[st]))
			s.kernels[st] = nil
		}
	}

	return first
}
