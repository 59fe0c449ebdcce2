package cpu

import (
	"math"
	"testing"

	"github.com/gogpu/fluid"
)

// rig wires a device with every simulation field created and bound for a
// w x h grid, so single kernels can be dispatched in isolation.
type rig struct {
	t      *testing.T
	d      *Device
	w, h   int
	fields [fluid.SlotCount]*storageBuffer
}

func newRig(t *testing.T, w, h int) *rig {
	t.Helper()
	r := &rig{t: t, d: newTestDevice(t), w: w, h: h}
	r.set("size", fluid.Vec4{float32(w), float32(h), 0, 0})

	layouts := []struct {
		slot   fluid.Slot
		layout fluid.Layout
	}{
		{fluid.SlotVelocityIn, fluid.LayoutVector2},
		{fluid.SlotVelocityOut, fluid.LayoutVector2},
		{fluid.SlotPressureIn, fluid.LayoutScalar},
		{fluid.SlotPressureOut, fluid.LayoutScalar},
		{fluid.SlotDivergence, fluid.LayoutScalar},
		{fluid.SlotVorticity, fluid.LayoutScalar},
		{fluid.SlotObstacles, fluid.LayoutVector2},
	}
	for _, l := range layouts {
		f, err := r.d.CreateBuffer(w*h, l.layout)
		if err != nil {
			t.Fatalf("CreateBuffer(%v) error = %v", l.slot, err)
		}
		if err := r.d.BindBuffer(l.slot, f, fluid.AccessWrite); err != nil {
			t.Fatalf("BindBuffer(%v) error = %v", l.slot, err)
		}
		r.fields[l.slot] = f.(*storageBuffer)
	}
	return r
}

func (r *rig) set(name string, v fluid.Vec4) {
	r.t.Helper()
	u, err := r.d.CreateUniform(name)
	if err != nil {
		r.t.Fatalf("CreateUniform(%s) error = %v", name, err)
	}
	if err := r.d.WriteUniform(u, v); err != nil {
		r.t.Fatalf("WriteUniform(%s) error = %v", name, err)
	}
}

func (r *rig) run(stage fluid.Stage) {
	r.t.Helper()
	k, err := r.d.LoadKernel(stage)
	if err != nil {
		r.t.Fatalf("LoadKernel(%v) error = %v", stage, err)
	}
	gx := uint32((r.w + workgroupSize - 1) / workgroupSize)
	gy := uint32((r.h + workgroupSize - 1) / workgroupSize)
	if err := r.d.Dispatch(k, gx, gy, 1); err != nil {
		r.t.Fatalf("Dispatch(%v) error = %v", stage, err)
	}
}

// fill2 seeds a vector2 field from a per-cell function.
func (r *rig) fill2(slot fluid.Slot, fn func(x, y int) (float32, float32)) {
	data := r.fields[slot].data
	for y := 0; y < r.h; y++ {
		for x := 0; x < r.w; x++ {
			vx, vy := fn(x, y)
			i := (y*r.w + x) * 2
			data[i], data[i+1] = vx, vy
		}
	}
}

// fill1 seeds a scalar field from a per-cell function.
func (r *rig) fill1(slot fluid.Slot, fn func(x, y int) float32) {
	data := r.fields[slot].data
	for y := 0; y < r.h; y++ {
		for x := 0; x < r.w; x++ {
			data[y*r.w+x] = fn(x, y)
		}
	}
}

func (r *rig) vec2At(slot fluid.Slot, x, y int) (float32, float32) {
	i := (y*r.w + x) * 2
	data := r.fields[slot].data
	return data[i], data[i+1]
}

func (r *rig) scalarAt(slot fluid.Slot, x, y int) float32 {
	return r.fields[slot].data[y*r.w+x]
}

func (r *rig) checkVec2(slot fluid.Slot, x, y int, wantX, wantY float32) {
	r.t.Helper()
	gx, gy := r.vec2At(slot, x, y)
	if !approx(gx, wantX) || !approx(gy, wantY) {
		r.t.Errorf("cell (%d,%d) = (%g,%g), want (%g,%g)", x, y, gx, gy, wantX, wantY)
	}
}

func (r *rig) checkScalar(slot fluid.Slot, x, y int, want float32) {
	r.t.Helper()
	got := r.scalarAt(slot, x, y)
	if !approx(got, want) {
		r.t.Errorf("cell (%d,%d) = %g, want %g", x, y, got, want)
	}
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

func TestAddVelocity_LinearFalloff(t *testing.T) {
	r := newRig(t, 4, 4)
	r.set("position", fluid.Vec4{1, 1, 0, 0})
	r.set("velocity", fluid.Vec4{10, 0, 0, 0})
	r.set("radius", fluid.Vec4{2, 0, 0, 0})
	r.fill2(fluid.SlotVelocityIn, func(x, y int) (float32, float32) { return 1, 0 })

	r.run(fluid.StageAddVelocity)

	r.checkVec2(fluid.SlotVelocityOut, 1, 1, 11, 0) // dist 0, full impulse
	r.checkVec2(fluid.SlotVelocityOut, 1, 2, 6, 0)  // dist 1, half impulse
	r.checkVec2(fluid.SlotVelocityOut, 3, 3, 1, 0)  // dist > radius, untouched
}

func TestInitBoundaries_BorderOnly(t *testing.T) {
	r := newRig(t, 4, 4)
	r.fill2(fluid.SlotObstacles, func(x, y int) (float32, float32) { return 7, 7 })

	r.run(fluid.StageInitBoundaries)

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			border := x == 0 || y == 0 || x == 3 || y == 3
			if border {
				r.checkVec2(fluid.SlotObstacles, x, y, 1, 1)
			} else {
				r.checkVec2(fluid.SlotObstacles, x, y, 7, 7)
			}
		}
	}
}

func TestAdvect_ConstantField(t *testing.T) {
	r := newRig(t, 4, 4)
	r.set("elapsed_time", fluid.Vec4{1, 0, 0, 0})
	r.set("speed", fluid.Vec4{1, 0, 0, 0})
	r.set("dissipation", fluid.Vec4{1, 0, 0, 0})
	r.fill2(fluid.SlotVelocityIn, func(x, y int) (float32, float32) { return 1, 0 })

	// A constant field samples itself everywhere it looks back.
	r.run(fluid.StageAdvectVelocity)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			r.checkVec2(fluid.SlotVelocityOut, x, y, 1, 0)
		}
	}

	r.set("dissipation", fluid.Vec4{0.5, 0, 0, 0})
	r.run(fluid.StageAdvectVelocity)
	r.checkVec2(fluid.SlotVelocityOut, 2, 2, 0.5, 0)

	// Obstacle cells carry no velocity at all.
	r.fill2(fluid.SlotObstacles, func(x, y int) (float32, float32) {
		if x == 2 && y == 2 {
			return 1, 0
		}
		return 0, 0
	})
	r.run(fluid.StageAdvectVelocity)
	r.checkVec2(fluid.SlotVelocityOut, 2, 2, 0, 0)
	r.checkVec2(fluid.SlotVelocityOut, 1, 1, 0.5, 0)
}

func TestCalcVorticity_ShearFlow(t *testing.T) {
	r := newRig(t, 4, 4)
	// v = (0, x) has constant curl dv_y/dx - dv_x/dy = 1.
	r.fill2(fluid.SlotVelocityIn, func(x, y int) (float32, float32) { return 0, float32(x) })

	r.run(fluid.StageCalcVorticity)

	r.checkScalar(fluid.SlotVorticity, 1, 1, 1)
	r.checkScalar(fluid.SlotVorticity, 2, 2, 1)
	// Clamped one-sided difference at the domain edge.
	r.checkScalar(fluid.SlotVorticity, 0, 0, 0.5)
	r.checkScalar(fluid.SlotVorticity, 3, 1, 0.5)
}

func TestApplyVorticity_ConfinementForce(t *testing.T) {
	r := newRig(t, 4, 4)
	r.set("vorticity_scale", fluid.Vec4{2, 0, 0, 0})
	r.set("elapsed_time", fluid.Vec4{0.5, 0, 0, 0})
	r.fill1(fluid.SlotVorticity, func(x, y int) float32 { return float32(x) })

	r.run(fluid.StageApplyVorticity)

	// grad |w| = (1, 0), n = (1, 0), force = scale*(0, -1)*w.
	r.checkVec2(fluid.SlotVelocityOut, 1, 1, 0, -1)
	r.checkVec2(fluid.SlotVelocityOut, 2, 2, 0, -2)
}

func TestViscosity_JacobiStep(t *testing.T) {
	r := newRig(t, 4, 4)
	// alpha/rBeta chosen so a uniform field is the Jacobi fixed point.
	r.set("alpha", fluid.Vec4{10, 0, 0, 0})
	r.set("r_beta", fluid.Vec4{1.0 / 14.0, 0, 0, 0})
	r.fill2(fluid.SlotVelocityIn, func(x, y int) (float32, float32) { return 14, 0 })

	r.run(fluid.StageViscosity)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			r.checkVec2(fluid.SlotVelocityOut, x, y, 14, 0)
		}
	}

	// An obstacle zeroes its own cell and contributes nothing to
	// neighbor sums.
	r.fill2(fluid.SlotObstacles, func(x, y int) (float32, float32) {
		if x == 1 && y == 1 {
			return 1, 0
		}
		return 0, 0
	})
	r.run(fluid.StageViscosity)
	r.checkVec2(fluid.SlotVelocityOut, 1, 1, 0, 0)
	r.checkVec2(fluid.SlotVelocityOut, 2, 1, 13, 0) // (14*3 + 10*14) / 14
}

func TestDivergence_LinearField(t *testing.T) {
	r := newRig(t, 4, 4)
	// v = (x, y) has divergence 2 away from the clamped edges.
	r.fill2(fluid.SlotVelocityIn, func(x, y int) (float32, float32) {
		return float32(x), float32(y)
	})

	r.run(fluid.StageDivergence)

	r.checkScalar(fluid.SlotDivergence, 1, 1, 2)
	r.checkScalar(fluid.SlotDivergence, 2, 2, 2)
	r.checkScalar(fluid.SlotDivergence, 0, 0, 1)
}

func TestPoisson_JacobiStep(t *testing.T) {
	r := newRig(t, 4, 4)
	r.fill1(fluid.SlotPressureIn, func(x, y int) float32 { return 8 })
	r.fill1(fluid.SlotDivergence, func(x, y int) float32 {
		if x == 1 && y == 1 {
			return 4
		}
		return 0
	})

	r.run(fluid.StagePoisson)

	// (sum of neighbors - divergence) / 4
	r.checkScalar(fluid.SlotPressureOut, 1, 1, 7)
	r.checkScalar(fluid.SlotPressureOut, 2, 2, 8)
	r.checkScalar(fluid.SlotPressureOut, 0, 0, 8)
}

func TestSubtractGradient_LinearPressure(t *testing.T) {
	r := newRig(t, 4, 4)
	r.fill1(fluid.SlotPressureIn, func(x, y int) float32 { return float32(x) })
	r.fill2(fluid.SlotVelocityIn, func(x, y int) (float32, float32) { return 5, 5 })

	r.run(fluid.StageSubtractGradient)

	r.checkVec2(fluid.SlotVelocityOut, 1, 1, 4, 5)
	r.checkVec2(fluid.SlotVelocityOut, 0, 1, 4.5, 5) // clamped left neighbor

	// Obstacle neighbors mirror the center pressure, halving the
	// gradient next to them, and obstacle cells themselves go to zero.
	r.fill2(fluid.SlotObstacles, func(x, y int) (float32, float32) {
		if x == 2 && y == 1 {
			return 1, 0
		}
		return 0, 0
	})
	r.run(fluid.StageSubtractGradient)
	r.checkVec2(fluid.SlotVelocityOut, 2, 1, 0, 0)
	r.checkVec2(fluid.SlotVelocityOut, 1, 1, 4.5, 5)
}

func TestAddCircleObstacle_Stamp(t *testing.T) {
	r := newRig(t, 4, 4)
	r.set("position", fluid.Vec4{1, 1, 0, 0})
	r.set("radius", fluid.Vec4{1, 0, 0, 0})
	r.set("static", fluid.Vec4{1, 0, 0, 0})

	r.run(fluid.StageAddCircleObstacle)

	inside := map[[2]int]bool{
		{1, 1}: true, {0, 1}: true, {2, 1}: true, {1, 0}: true, {1, 2}: true,
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if inside[[2]int{x, y}] {
				r.checkVec2(fluid.SlotObstacles, x, y, 1, 1)
			} else {
				r.checkVec2(fluid.SlotObstacles, x, y, 0, 0)
			}
		}
	}

	// A dynamic stamp leaves the static flag clear.
	r.set("static", fluid.Vec4{0, 0, 0, 0})
	r.run(fluid.StageAddCircleObstacle)
	r.checkVec2(fluid.SlotObstacles, 1, 1, 1, 0)
}

func TestAddTriangleObstacle_WindingAgnostic(t *testing.T) {
	stamp := func(p1, p2, p3 fluid.Vec2) []float32 {
		r := newRig(t, 4, 4)
		r.set("p1", fluid.Vec4{p1.X, p1.Y, 0, 0})
		r.set("p2", fluid.Vec4{p2.X, p2.Y, 0, 0})
		r.set("p3", fluid.Vec4{p3.X, p3.Y, 0, 0})
		r.set("static", fluid.Vec4{1, 0, 0, 0})
		r.run(fluid.StageAddTriangleObstacle)
		out := make([]float32, len(r.fields[fluid.SlotObstacles].data))
		copy(out, r.fields[fluid.SlotObstacles].data)
		return out
	}

	a, b, c := fluid.V2(0, 0), fluid.V2(3, 0), fluid.V2(0, 3)
	ccw := stamp(a, b, c)
	cw := stamp(a, c, b)
	for i := range ccw {
		if ccw[i] != cw[i] {
			t.Fatalf("windings disagree at element %d: %g vs %g", i, ccw[i], cw[i])
		}
	}

	at := func(x, y int) float32 { return ccw[(y*4+x)*2] }
	if at(1, 1) != 1 {
		t.Error("interior cell (1,1) not stamped")
	}
	if at(1, 2) != 1 {
		t.Error("hypotenuse cell (1,2) not stamped")
	}
	if at(3, 0) != 1 {
		t.Error("vertex cell (3,0) not stamped")
	}
	if at(2, 2) != 0 {
		t.Error("outside cell (2,2) stamped")
	}
}

func TestClearBuffer_Layouts(t *testing.T) {
	tests := []struct {
		name   string
		layout fluid.Layout
	}{
		{"scalar", fluid.LayoutScalar},
		{"vector2", fluid.LayoutVector2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, 4, 4)
			f, err := r.d.CreateBuffer(16, tt.layout)
			if err != nil {
				t.Fatalf("CreateBuffer() error = %v", err)
			}
			if err := r.d.BindBuffer(fluid.SlotGeneric, f, fluid.AccessWrite); err != nil {
				t.Fatalf("BindBuffer() error = %v", err)
			}
			sb := f.(*storageBuffer)
			for i := range sb.data {
				sb.data[i] = 7
			}

			r.run(fluid.StageClearBuffer)

			for i, v := range sb.data {
				if v != 0 {
					t.Fatalf("element %d = %g after clear, want 0", i, v)
				}
			}
		})
	}
}

func TestDispatch_PartialBands(t *testing.T) {
	// A grid that is not a multiple of the workgroup size exercises the
	// clamped tail of the dispatch domain and uneven row bands.
	const w, h = 33, 17
	r := newRig(t, w, h)

	r.run(fluid.StageInitBoundaries)

	stamped := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ox, _ := r.vec2At(fluid.SlotObstacles, x, y)
			border := x == 0 || y == 0 || x == w-1 || y == h-1
			if border && ox != 1 {
				t.Fatalf("border cell (%d,%d) not stamped", x, y)
			}
			if !border && ox != 0 {
				t.Fatalf("interior cell (%d,%d) stamped", x, y)
			}
			if ox == 1 {
				stamped++
			}
		}
	}
	if want := 2*w + 2*h - 4; stamped != want {
		t.Errorf("stamped %d border cells, want %d", stamped, want)
	}
}
