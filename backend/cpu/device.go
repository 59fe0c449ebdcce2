package cpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/fluid"
	"github.com/gogpu/fluid/backend"
	"github.com/gogpu/fluid/internal/parallel"
)

// workgroupSize matches the 16x16 tile the bundled GPU kernels are
// compiled with, so a dispatch grid covers the same cell domain here.
const workgroupSize = 16

// Parameter block slots, in the shared uniform block order.
const (
	pSize = iota
	pPosition
	pRadius
	pValue
	pStatic
	pP1
	pP2
	pP3
	pElapsedTime
	pSpeed
	pDissipation
	pVelocity
	pVorticityScale
	pAlpha
	pRBeta
	uniformCount
)

// uniformIndex maps uniform names to parameter block slots.
var uniformIndex = map[string]int{
	"size":            pSize,
	"position":        pPosition,
	"radius":          pRadius,
	"value":           pValue,
	"static":          pStatic,
	"p1":              pP1,
	"p2":              pP2,
	"p3":              pP3,
	"elapsed_time":    pElapsedTime,
	"speed":           pSpeed,
	"dissipation":     pDissipation,
	"velocity":        pVelocity,
	"vorticity_scale": pVorticityScale,
	"alpha":           pAlpha,
	"r_beta":          pRBeta,
}

// requiredSlots lists the binding slots each kernel touches. Dispatch
// verifies them instead of padding unused slots with a placeholder the
// way the GPU drivers do.
var requiredSlots = map[fluid.Stage][]fluid.Slot{
	fluid.StageAddVelocity:         {fluid.SlotVelocityIn, fluid.SlotVelocityOut},
	fluid.StageInitBoundaries:      {fluid.SlotObstacles},
	fluid.StageAdvectVelocity:      {fluid.SlotVelocityIn, fluid.SlotVelocityOut, fluid.SlotObstacles},
	fluid.StageCalcVorticity:       {fluid.SlotVelocityIn, fluid.SlotVorticity},
	fluid.StageApplyVorticity:      {fluid.SlotVelocityIn, fluid.SlotVelocityOut, fluid.SlotVorticity},
	fluid.StageViscosity:           {fluid.SlotVelocityIn, fluid.SlotVelocityOut, fluid.SlotObstacles},
	fluid.StageDivergence:          {fluid.SlotVelocityIn, fluid.SlotDivergence, fluid.SlotObstacles},
	fluid.StagePoisson:             {fluid.SlotPressureIn, fluid.SlotPressureOut, fluid.SlotDivergence, fluid.SlotObstacles},
	fluid.StageSubtractGradient:    {fluid.SlotVelocityIn, fluid.SlotVelocityOut, fluid.SlotPressureIn, fluid.SlotObstacles},
	fluid.StageAddCircleObstacle:   {fluid.SlotObstacles},
	fluid.StageAddTriangleObstacle: {fluid.SlotObstacles},
	fluid.StageClearBuffer:         {fluid.SlotGeneric},
}

// slotComponents is the per-cell float32 count kernels expect on each
// slot. SlotGeneric is zero because the clear kernel length-guards its
// own writes.
var slotComponents = [fluid.SlotCount]int{
	fluid.SlotVelocityIn:  2,
	fluid.SlotVelocityOut: 2,
	fluid.SlotPressureIn:  1,
	fluid.SlotPressureOut: 1,
	fluid.SlotDivergence:  1,
	fluid.SlotVorticity:   1,
	fluid.SlotObstacles:   2,
	fluid.SlotGeneric:     0,
}

type uniformHandle struct {
	name  string
	index int
}

type storageBuffer struct {
	data   []float32
	cells  int
	layout fluid.Layout
}

type kernelHandle struct {
	stage fluid.Stage
	fn    kernelFunc
}

// Device is a pure-Go fluid.Device. See the package comment for the
// execution model.
type Device struct {
	mu     sync.Mutex
	pool   *parallel.WorkerPool
	params [uniformCount]fluid.Vec4
	slots  [fluid.SlotCount]*storageBuffer
	closed bool
}

var _ backend.Device = (*Device)(nil)

// New opens a CPU device with one worker per logical CPU.
func New() (*Device, error) {
	d := &Device{pool: parallel.NewWorkerPool(0)}
	fluid.Logger().Info("fluid-cpu: device ready", "workers", d.pool.Workers())
	return d, nil
}

// Name returns a description of the device.
func (d *Device) Name() string {
	return fmt.Sprintf("cpu (%d workers)", d.pool.Workers())
}

// CreateUniform resolves a uniform name to its parameter block slot.
func (d *Device) CreateUniform(name string) (fluid.Uniform, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	idx, ok := uniformIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", fluid.ErrUnknownUniform, name)
	}
	return &uniformHandle{name: name, index: idx}, nil
}

// WriteUniform stores a new parameter value.
func (d *Device) WriteUniform(u fluid.Uniform, value fluid.Vec4) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	h, ok := u.(*uniformHandle)
	if !ok {
		return fmt.Errorf("fluid-cpu: foreign uniform handle %T", u)
	}
	d.params[h.index] = value
	return nil
}

// DestroyUniform releases a uniform handle. Nothing is allocated per
// uniform, so only the handle type is checked.
func (d *Device) DestroyUniform(u fluid.Uniform) error {
	if _, ok := u.(*uniformHandle); !ok {
		return fmt.Errorf("fluid-cpu: foreign uniform handle %T", u)
	}
	return nil
}

// CreateBuffer allocates a zero-filled field for cells grid cells with
// the given per-cell layout.
func (d *Device) CreateBuffer(cells int, layout fluid.Layout) (fluid.Field, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	if cells <= 0 {
		return nil, fmt.Errorf("fluid-cpu: buffer cells must be positive, got %d", cells)
	}
	return &storageBuffer{
		data:   make([]float32, cells*layout.Components()),
		cells:  cells,
		layout: layout,
	}, nil
}

// DestroyBuffer releases a field and clears any slot still pointing at
// it.
func (d *Device) DestroyBuffer(f fluid.Field) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	sb, ok := f.(*storageBuffer)
	if !ok {
		return fmt.Errorf("fluid-cpu: foreign field handle %T", f)
	}
	for s := range d.slots {
		if d.slots[s] == sb {
			d.slots[s] = nil
		}
	}
	sb.data = nil
	return nil
}

// BindBuffer attaches a field to a slot for subsequent dispatches.
func (d *Device) BindBuffer(slot fluid.Slot, f fluid.Field, access fluid.Access) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	if slot < 0 || slot >= fluid.SlotCount {
		return fmt.Errorf("%w: %d", fluid.ErrInvalidSlot, int(slot))
	}
	sb, ok := f.(*storageBuffer)
	if !ok {
		return fmt.Errorf("fluid-cpu: foreign field handle %T", f)
	}
	d.slots[slot] = sb
	fluid.Logger().Debug("fluid-cpu: slot bound",
		"slot", slot.String(),
		"access", access.String(),
		"floats", len(sb.data))
	return nil
}

// LoadKernel resolves the Go implementation of a stage.
func (d *Device) LoadKernel(stage fluid.Stage) (fluid.Kernel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	fn, ok := kernelFuncs[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %v", fluid.ErrUnknownKernel, stage)
	}
	return &kernelHandle{stage: stage, fn: fn}, nil
}

// DestroyKernel releases a kernel handle.
func (d *Device) DestroyKernel(k fluid.Kernel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	if _, ok := k.(*kernelHandle); !ok {
		return fmt.Errorf("fluid-cpu: foreign kernel handle %T", k)
	}
	return nil
}

// Dispatch runs a kernel over a gx*gy workgroup grid. The call returns
// after the last row band finishes, so dispatches execute strictly in
// submission order.
func (d *Device) Dispatch(k fluid.Kernel, gx, gy, gz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	kh, ok := k.(*kernelHandle)
	if !ok {
		return fmt.Errorf("fluid-cpu: foreign kernel handle %T", k)
	}
	if gx == 0 || gy == 0 || gz == 0 {
		return nil
	}

	e := &env{
		w:      int(d.params[pSize][0]),
		h:      int(d.params[pSize][1]),
		params: &d.params,
		slots:  &d.slots,
	}
	for _, s := range requiredSlots[kh.stage] {
		sb := d.slots[s]
		if sb == nil {
			return fmt.Errorf("fluid-cpu: %v: slot %v not bound", kh.stage, s)
		}
		if need := e.w * e.h * slotComponents[s]; len(sb.data) < need {
			return fmt.Errorf("fluid-cpu: %v: slot %v holds %d floats, dispatch needs %d",
				kh.stage, s, len(sb.data), need)
		}
	}

	// The kernels' bounds guard, applied once up front.
	nx := min(int(gx)*workgroupSize, e.w)
	ny := min(int(gy)*workgroupSize, e.h)
	if nx <= 0 || ny <= 0 {
		return nil
	}
	d.runBands(kh.fn, e, nx, ny)
	return nil
}

// runBands splits the dispatch domain into one row band per worker and
// joins before returning.
func (d *Device) runBands(fn kernelFunc, e *env, nx, ny int) {
	bands := min(d.pool.Workers(), ny)
	rows := (ny + bands - 1) / bands
	tasks := make([]func(), 0, bands)
	for y0 := 0; y0 < ny; y0 += rows {
		y1 := min(y0+rows, ny)
		tasks = append(tasks, func() { fn(e, nx, y0, y1) })
	}
	d.pool.ExecuteAll(tasks)
}

// ReadField copies a field's contents, Components() float32 values per
// cell in row-major cell order.
func (d *Device) ReadField(f fluid.Field) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	sb, ok := f.(*storageBuffer)
	if !ok {
		return nil, fmt.Errorf("fluid-cpu: foreign field handle %T", f)
	}
	out := make([]float32, len(sb.data))
	copy(out, sb.data)
	return out, nil
}

// Close stops the worker pool. Safe to call more than once.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.pool.Close()
	fluid.Logger().Info("fluid-cpu: device closed")
}
