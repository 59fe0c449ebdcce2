package cpu

import (
	"math"
	"testing"

	"github.com/gogpu/fluid"
)

func readVelocity(t *testing.T, d *Device, sim *fluid.Simulator) []float32 {
	t.Helper()
	data, err := d.ReadField(sim.VelocityField())
	if err != nil {
		t.Fatalf("ReadField() error = %v", err)
	}
	return data
}

func velocityAt(data []float32, w, x, y int) (float32, float32) {
	i := (y*w + x) * 2
	return data[i], data[i+1]
}

func fieldEnergy(data []float32) float64 {
	var e float64
	for _, v := range data {
		e += float64(v) * float64(v)
	}
	return e
}

// TestSimulatorPipeline drives the full dispatch sequence end to end and
// checks the qualitative physics: impulses land, obstacle cells carry no
// velocity, walls are no-slip, and dissipation drains energy over time.
func TestSimulatorPipeline(t *testing.T) {
	const w, h = 32, 32
	d := newTestDevice(t)
	sim, err := fluid.New(d, w, h,
		fluid.WithIterations(10),
		fluid.WithSpeed(1),
		fluid.WithDissipation(0.9),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() {
		if err := sim.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	if err := sim.AddVelocity(fluid.V2(16, 16), fluid.V2(0, 30), 6); err != nil {
		t.Fatalf("AddVelocity() error = %v", err)
	}
	vel := readVelocity(t, d, sim)
	if vx, vy := velocityAt(vel, w, 16, 16); vx != 0 || vy != 30 {
		t.Fatalf("splat center = (%g,%g), want (0,30)", vx, vy)
	}

	if err := sim.AddCircleObstacle(fluid.V2(8, 8), 3, false); err != nil {
		t.Fatalf("AddCircleObstacle() error = %v", err)
	}
	if err := sim.AddTriangleObstacle(fluid.V2(24, 2), fluid.V2(30, 2), fluid.V2(27, 8), false); err != nil {
		t.Fatalf("AddTriangleObstacle() error = %v", err)
	}

	if err := sim.Update(0.016); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	vel = readVelocity(t, d, sim)

	if vx, vy := velocityAt(vel, w, 8, 8); vx != 0 || vy != 0 {
		t.Errorf("circle obstacle cell velocity = (%g,%g), want zero", vx, vy)
	}
	if vx, vy := velocityAt(vel, w, 27, 4); vx != 0 || vy != 0 {
		t.Errorf("triangle obstacle cell velocity = (%g,%g), want zero", vx, vy)
	}
	for i := 0; i < w; i++ {
		for _, cell := range [][2]int{{i, 0}, {i, h - 1}, {0, i}, {w - 1, i}} {
			if vx, vy := velocityAt(vel, w, cell[0], cell[1]); vx != 0 || vy != 0 {
				t.Fatalf("border cell (%d,%d) velocity = (%g,%g), want zero", cell[0], cell[1], vx, vy)
			}
		}
	}

	e1 := fieldEnergy(vel)
	if e1 <= 0 {
		t.Fatal("velocity field empty after one tick")
	}

	for i := 0; i < 4; i++ {
		if err := sim.Update(0.016); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	vel = readVelocity(t, d, sim)
	for i, v := range vel {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("element %d = %g after five ticks", i, v)
		}
	}
	e5 := fieldEnergy(vel)
	if e5 <= 0 {
		t.Error("velocity field died out after five ticks")
	}
	if e5 >= e1 {
		t.Errorf("energy after five ticks = %g, want below %g", e5, e1)
	}

	st := sim.Stats()
	if st.Ticks != 5 {
		t.Errorf("Stats().Ticks = %d, want 5", st.Ticks)
	}
	// Three one-shot dispatches plus five ticks of 8 + 2*iterations.
	if want := uint64(3 + 5*28); st.Dispatches != want {
		t.Errorf("Stats().Dispatches = %d, want %d", st.Dispatches, want)
	}
}

// TestSimulatorPipeline_Deterministic runs the same tick sequence on two
// devices; row-band parallelism must not change results.
func TestSimulatorPipeline_Deterministic(t *testing.T) {
	run := func() []float32 {
		d := newTestDevice(t)
		sim, err := fluid.New(d, 24, 24, fluid.WithIterations(8), fluid.WithSpeed(1), fluid.WithVorticity(0.5))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer func() { _ = sim.Close() }()

		if err := sim.AddVelocity(fluid.V2(12, 18), fluid.V2(5, -20), 4); err != nil {
			t.Fatalf("AddVelocity() error = %v", err)
		}
		for i := 0; i < 3; i++ {
			if err := sim.AddCircleObstacle(fluid.V2(12, 6), 2, false); err != nil {
				t.Fatalf("AddCircleObstacle() error = %v", err)
			}
			if err := sim.Update(0.02); err != nil {
				t.Fatalf("Update() error = %v", err)
			}
		}
		return readVelocity(t, d, sim)
	}

	a := run()
	b := run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("runs diverge at element %d: %g vs %g", i, a[i], b[i])
		}
	}
}
