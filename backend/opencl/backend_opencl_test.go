//go:build opencl

package opencl

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/fluid"
)

// blockOrder is the uniform layout of the params buffer, matching the
// P_* defines in programSource.
var blockOrder = []string{
	"size", "position", "radius", "value", "static",
	"p1", "p2", "p3",
	"elapsed_time", "speed", "dissipation", "velocity",
	"vorticity_scale", "alpha", "r_beta",
}

func TestParamIndex(t *testing.T) {
	if len(paramIndex) != len(blockOrder) {
		t.Fatalf("paramIndex has %d entries, want %d", len(paramIndex), len(blockOrder))
	}
	for i, name := range blockOrder {
		idx, ok := paramIndex[name]
		if !ok {
			t.Errorf("paramIndex missing %q", name)
			continue
		}
		if idx != i {
			t.Errorf("paramIndex[%q] = %d, want %d", name, idx, i)
		}
	}
	if want := len(blockOrder) * paramSlotBytes; paramBlockBytes != want {
		t.Errorf("paramBlockBytes = %d, want %d", paramBlockBytes, want)
	}
}

func TestKernelArgs(t *testing.T) {
	for stage := fluid.Stage(0); stage < fluid.StageCount; stage++ {
		t.Run(stage.String(), func(t *testing.T) {
			slots, ok := kernelArgs[stage]
			if !ok {
				t.Fatalf("kernelArgs missing stage %v", stage)
			}
			if len(slots) == 0 {
				t.Errorf("%v binds no slots", stage)
			}
			for _, s := range slots {
				if s < 0 || s >= fluid.SlotCount {
					t.Errorf("%v binds invalid slot %d", stage, int(s))
				}
			}
			if !strings.Contains(programSource, "__kernel void "+stage.String()+"(") {
				t.Errorf("programSource missing kernel %q", stage.String())
			}
		})
	}
	if len(kernelArgs) != int(fluid.StageCount) {
		t.Errorf("kernelArgs has %d entries, want %d", len(kernelArgs), int(fluid.StageCount))
	}
}

func TestOpenCLDevice_CreateUniform(t *testing.T) {
	d := &Device{}

	u, err := d.CreateUniform("alpha")
	if err != nil {
		t.Fatalf("CreateUniform(alpha) error: %v", err)
	}
	h, ok := u.(*uniformHandle)
	if !ok {
		t.Fatalf("CreateUniform returned %T, want *uniformHandle", u)
	}
	if h.index != 13 {
		t.Errorf("alpha index = %d, want 13", h.index)
	}

	if _, err := d.CreateUniform("bogus"); !errors.Is(err, fluid.ErrUnknownUniform) {
		t.Errorf("CreateUniform(bogus) error = %v, want ErrUnknownUniform", err)
	}
}

func TestOpenCLDevice_BindBuffer(t *testing.T) {
	d := &Device{}
	sb := &storageBuffer{cells: 16, layout: fluid.LayoutVector2}

	if err := d.BindBuffer(fluid.SlotObstacles, sb, fluid.AccessWrite); err != nil {
		t.Fatalf("BindBuffer error: %v", err)
	}
	if d.slots[fluid.SlotObstacles] != sb {
		t.Error("BindBuffer did not record the field in the slot table")
	}
	if sb.elems() != 32 {
		t.Errorf("elems() = %d, want 32", sb.elems())
	}

	if err := d.BindBuffer(fluid.SlotCount, sb, fluid.AccessRead); !errors.Is(err, fluid.ErrInvalidSlot) {
		t.Errorf("BindBuffer(SlotCount) error = %v, want ErrInvalidSlot", err)
	}
	if err := d.BindBuffer(fluid.SlotObstacles, "not a field", fluid.AccessRead); err == nil {
		t.Error("BindBuffer(foreign field) returned nil, want error")
	}
}

func TestOpenCLDevice_ClosedOperations(t *testing.T) {
	d := &Device{closed: true}

	if _, err := d.CreateUniform("size"); !errors.Is(err, fluid.ErrDeviceClosed) {
		t.Errorf("CreateUniform on closed device error = %v, want ErrDeviceClosed", err)
	}
	if err := d.Dispatch(&kernelHandle{}, 1, 1, 1); !errors.Is(err, fluid.ErrDeviceClosed) {
		t.Errorf("Dispatch on closed device error = %v, want ErrDeviceClosed", err)
	}
	if _, err := d.ReadField(&storageBuffer{}); !errors.Is(err, fluid.ErrDeviceClosed) {
		t.Errorf("ReadField on closed device error = %v, want ErrDeviceClosed", err)
	}
}
