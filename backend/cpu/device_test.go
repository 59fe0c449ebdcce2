package cpu

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/fluid"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestDevice_Name(t *testing.T) {
	d := newTestDevice(t)
	if !strings.HasPrefix(d.Name(), "cpu") {
		t.Errorf("Name() = %q, want a cpu description", d.Name())
	}
}

func TestDevice_CreateUniform(t *testing.T) {
	d := newTestDevice(t)

	u, err := d.CreateUniform("alpha")
	if err != nil {
		t.Fatalf("CreateUniform(alpha) error = %v", err)
	}
	h, ok := u.(*uniformHandle)
	if !ok {
		t.Fatalf("CreateUniform() returned %T, want *uniformHandle", u)
	}
	if h.index != pAlpha {
		t.Errorf("alpha index = %d, want %d", h.index, pAlpha)
	}

	if _, err := d.CreateUniform("warp_factor"); !errors.Is(err, fluid.ErrUnknownUniform) {
		t.Errorf("CreateUniform(warp_factor) error = %v, want ErrUnknownUniform", err)
	}
}

func TestDevice_WriteUniform(t *testing.T) {
	d := newTestDevice(t)

	u, err := d.CreateUniform("speed")
	if err != nil {
		t.Fatalf("CreateUniform() error = %v", err)
	}
	want := fluid.Vec4{250, 0, 0, 0}
	if err := d.WriteUniform(u, want); err != nil {
		t.Fatalf("WriteUniform() error = %v", err)
	}
	if d.params[pSpeed] != want {
		t.Errorf("params[speed] = %v, want %v", d.params[pSpeed], want)
	}

	if err := d.WriteUniform("bogus", want); err == nil {
		t.Error("WriteUniform(foreign) returned nil, want error")
	}
}

func TestDevice_CreateBuffer(t *testing.T) {
	d := newTestDevice(t)

	tests := []struct {
		name       string
		cells      int
		layout     fluid.Layout
		wantFloats int
	}{
		{"scalar", 16, fluid.LayoutScalar, 16},
		{"vector2", 16, fluid.LayoutVector2, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := d.CreateBuffer(tt.cells, tt.layout)
			if err != nil {
				t.Fatalf("CreateBuffer() error = %v", err)
			}
			sb := f.(*storageBuffer)
			if len(sb.data) != tt.wantFloats {
				t.Errorf("len(data) = %d, want %d", len(sb.data), tt.wantFloats)
			}
		})
	}

	if _, err := d.CreateBuffer(0, fluid.LayoutScalar); err == nil {
		t.Error("CreateBuffer(0) returned nil, want error")
	}
}

func TestDevice_BindBuffer(t *testing.T) {
	d := newTestDevice(t)

	f, err := d.CreateBuffer(16, fluid.LayoutVector2)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if err := d.BindBuffer(fluid.SlotVelocityIn, f, fluid.AccessRead); err != nil {
		t.Fatalf("BindBuffer() error = %v", err)
	}
	if d.slots[fluid.SlotVelocityIn] != f.(*storageBuffer) {
		t.Error("BindBuffer() did not record the field")
	}

	if err := d.BindBuffer(fluid.SlotCount, f, fluid.AccessRead); !errors.Is(err, fluid.ErrInvalidSlot) {
		t.Errorf("BindBuffer(SlotCount) error = %v, want ErrInvalidSlot", err)
	}
	if err := d.BindBuffer(fluid.SlotVelocityIn, "bogus", fluid.AccessRead); err == nil {
		t.Error("BindBuffer(foreign field) returned nil, want error")
	}
}

func TestDevice_DestroyBuffer_ClearsSlots(t *testing.T) {
	d := newTestDevice(t)

	f, err := d.CreateBuffer(16, fluid.LayoutScalar)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if err := d.BindBuffer(fluid.SlotPressureIn, f, fluid.AccessRead); err != nil {
		t.Fatalf("BindBuffer() error = %v", err)
	}
	if err := d.BindBuffer(fluid.SlotGeneric, f, fluid.AccessWrite); err != nil {
		t.Fatalf("BindBuffer() error = %v", err)
	}

	if err := d.DestroyBuffer(f); err != nil {
		t.Fatalf("DestroyBuffer() error = %v", err)
	}
	if d.slots[fluid.SlotPressureIn] != nil || d.slots[fluid.SlotGeneric] != nil {
		t.Error("DestroyBuffer() left a slot pointing at the destroyed field")
	}
}

func TestDevice_LoadKernel(t *testing.T) {
	d := newTestDevice(t)

	for stage := fluid.Stage(0); stage < fluid.StageCount; stage++ {
		if _, err := d.LoadKernel(stage); err != nil {
			t.Errorf("LoadKernel(%v) error = %v", stage, err)
		}
	}
	if _, err := d.LoadKernel(fluid.StageCount); !errors.Is(err, fluid.ErrUnknownKernel) {
		t.Errorf("LoadKernel(StageCount) error = %v, want ErrUnknownKernel", err)
	}
}

func TestDevice_DispatchSkipsEmptyGrid(t *testing.T) {
	d := newTestDevice(t)

	k, err := d.LoadKernel(fluid.StageAddVelocity)
	if err != nil {
		t.Fatalf("LoadKernel() error = %v", err)
	}
	if err := d.Dispatch(k, 0, 1, 1); err != nil {
		t.Errorf("Dispatch(0,1,1) error = %v, want nil", err)
	}
}

func TestDevice_DispatchUnboundSlot(t *testing.T) {
	d := newTestDevice(t)

	size, err := d.CreateUniform("size")
	if err != nil {
		t.Fatalf("CreateUniform() error = %v", err)
	}
	if err := d.WriteUniform(size, fluid.Vec4{4, 4, 0, 0}); err != nil {
		t.Fatalf("WriteUniform() error = %v", err)
	}
	k, err := d.LoadKernel(fluid.StageInitBoundaries)
	if err != nil {
		t.Fatalf("LoadKernel() error = %v", err)
	}

	err = d.Dispatch(k, 1, 1, 1)
	if err == nil {
		t.Fatal("Dispatch() with unbound obstacles returned nil, want error")
	}
	if !strings.Contains(err.Error(), "not bound") {
		t.Errorf("Dispatch() error = %v, want it to name the unbound slot", err)
	}
}

func TestDevice_DispatchUndersizedBuffer(t *testing.T) {
	d := newTestDevice(t)

	size, err := d.CreateUniform("size")
	if err != nil {
		t.Fatalf("CreateUniform() error = %v", err)
	}
	if err := d.WriteUniform(size, fluid.Vec4{8, 8, 0, 0}); err != nil {
		t.Fatalf("WriteUniform() error = %v", err)
	}
	// 16 cells cannot carry an 8x8 obstacle field.
	f, err := d.CreateBuffer(16, fluid.LayoutVector2)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if err := d.BindBuffer(fluid.SlotObstacles, f, fluid.AccessWrite); err != nil {
		t.Fatalf("BindBuffer() error = %v", err)
	}
	k, err := d.LoadKernel(fluid.StageInitBoundaries)
	if err != nil {
		t.Fatalf("LoadKernel() error = %v", err)
	}

	if err := d.Dispatch(k, 1, 1, 1); err == nil {
		t.Error("Dispatch() with undersized buffer returned nil, want error")
	}
}

func TestDevice_ReadFieldCopies(t *testing.T) {
	d := newTestDevice(t)

	f, err := d.CreateBuffer(4, fluid.LayoutScalar)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	sb := f.(*storageBuffer)
	copy(sb.data, []float32{1, 2, 3, 4})

	got, err := d.ReadField(f)
	if err != nil {
		t.Fatalf("ReadField() error = %v", err)
	}
	got[0] = 99
	if sb.data[0] != 1 {
		t.Error("ReadField() returned the backing slice, want a copy")
	}
}

func TestDevice_ClosedOperations(t *testing.T) {
	d, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	d.Close()
	d.Close() // idempotent

	ops := []struct {
		name string
		call func() error
	}{
		{"CreateUniform", func() error { _, err := d.CreateUniform("size"); return err }},
		{"WriteUniform", func() error { return d.WriteUniform(&uniformHandle{}, fluid.Vec4{}) }},
		{"CreateBuffer", func() error { _, err := d.CreateBuffer(4, fluid.LayoutScalar); return err }},
		{"DestroyBuffer", func() error { return d.DestroyBuffer(&storageBuffer{}) }},
		{"BindBuffer", func() error { return d.BindBuffer(fluid.SlotGeneric, &storageBuffer{}, fluid.AccessWrite) }},
		{"LoadKernel", func() error { _, err := d.LoadKernel(fluid.StageAddVelocity); return err }},
		{"DestroyKernel", func() error { return d.DestroyKernel(&kernelHandle{}) }},
		{"Dispatch", func() error { return d.Dispatch(&kernelHandle{}, 1, 1, 1) }},
		{"ReadField", func() error { _, err := d.ReadField(&storageBuffer{}); return err }},
	}
	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			if err := op.call(); !errors.Is(err, fluid.ErrDeviceClosed) {
				t.Errorf("%s on closed device error = %v, want ErrDeviceClosed", op.name, err)
			}
		})
	}
}
