//go:build opencl

package opencl

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jgillich/go-opencl/cl"

	"github.com/gogpu/fluid"
)

const (
	// paramSlotBytes is the stride of one uniform in the params buffer.
	paramSlotBytes = 16

	// paramBlockBytes is the byte size of the float4[15] params buffer.
	paramBlockBytes = 15 * paramSlotBytes

	// placeholderBytes is the size of the buffer substituted for unbound
	// slots so kernel arguments are never left dangling.
	placeholderBytes = 16

	// workgroupSize matches the 16x16 tiles the scheduler sizes its
	// dispatch grid for.
	workgroupSize = 16
)

// paramIndex maps scheduler uniform names to float4 indices within the
// params buffer. The order must match the P_* defines in programSource.
var paramIndex = map[string]int{
	"size":            0,
	"position":        1,
	"radius":          2,
	"value":           3,
	"static":          4,
	"p1":              5,
	"p2":              6,
	"p3":              7,
	"elapsed_time":    8,
	"speed":           9,
	"dissipation":     10,
	"velocity":        11,
	"vorticity_scale": 12,
	"alpha":           13,
	"r_beta":          14,
}

// kernelArgs lists, per stage, the slots bound after the params buffer,
// in the order the kernel's signature declares them.
var kernelArgs = map[fluid.Stage][]fluid.Slot{
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

const programSource = `
#define P_SIZE            0
#define P_POSITION        1
#define P_RADIUS          2
#define P_VALUE           3
#define P_STATIC          4
#define P_P1              5
#define P_P2              6
#define P_P3              7
#define P_ELAPSED_TIME    8
#define P_SPEED           9
#define P_DISSIPATION     10
#define P_VELOCITY        11
#define P_VORTICITY_SCALE 12
#define P_ALPHA           13
#define P_R_BETA          14

int cell_index(int x, int y, int w, int h)
{
    int cx = clamp(x, 0, w - 1);
    int cy = clamp(y, 0, h - 1);
    return cy * w + cx;
}

float2 velocity_at(__global const float2* vel, __global const float2* obstacles,
                   int x, int y, int w, int h)
{
    int i = cell_index(x, y, w, h);
    if (obstacles[i].x > 0.0f) {
        return (float2)(0.0f, 0.0f);
    }
    return vel[i];
}

float pressure_at(__global const float* pressure, __global const float2* obstacles,
                  int x, int y, int w, int h, float center)
{
    int i = cell_index(x, y, w, h);
    if (obstacles[i].x > 0.0f) {
        return center;
    }
    return pressure[i];
}

float2 sample_velocity(__global const float2* vel, float2 pos, int w, int h)
{
    float2 clamped = clamp(pos, (float2)(0.0f, 0.0f),
                           (float2)((float)(w - 1), (float)(h - 1)));
    int2 i0 = convert_int2(clamped);
    int2 i1 = min(i0 + (int2)(1, 1), (int2)(w - 1, h - 1));
    float2 f = clamped - convert_float2(i0);
    float2 v00 = vel[i0.y * w + i0.x];
    float2 v10 = vel[i0.y * w + i1.x];
    float2 v01 = vel[i1.y * w + i0.x];
    float2 v11 = vel[i1.y * w + i1.x];
    return mix(mix(v00, v10, f.x), mix(v01, v11, f.x), f.y);
}

__kernel void add_velocity(
    __global const float4* params,
    __global const float2* velocity_in,
    __global float2* velocity_out)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    int idx = y * w + x;
    float2 p = (float2)((float)x, (float)y);
    float r = fmax(params[P_RADIUS].x, 1e-6f);
    float falloff = fmax(0.0f, 1.0f - distance(p, params[P_POSITION].xy) / r);
    velocity_out[idx] = velocity_in[idx] + params[P_VELOCITY].xy * falloff;
}

__kernel void init_boundaries(
    __global const float4* params,
    __global float2* obstacles)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    if (x == 0 || y == 0 || x == w - 1 || y == h - 1) {
        obstacles[y * w + x] = (float2)(1.0f, 1.0f);
    }
}

__kernel void advect_velocity(
    __global const float4* params,
    __global const float2* velocity_in,
    __global float2* velocity_out,
    __global const float2* obstacles)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    int idx = y * w + x;
    if (obstacles[idx].x > 0.0f) {
        velocity_out[idx] = (float2)(0.0f, 0.0f);
        return;
    }
    float dt = params[P_ELAPSED_TIME].x * params[P_SPEED].x;
    float2 from = (float2)((float)x, (float)y) - velocity_in[idx] * dt;
    velocity_out[idx] = sample_velocity(velocity_in, from, w, h) * params[P_DISSIPATION].x;
}

__kernel void calc_vorticity(
    __global const float4* params,
    __global const float2* velocity_in,
    __global float* vorticity)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    float2 left = velocity_in[cell_index(x - 1, y, w, h)];
    float2 right = velocity_in[cell_index(x + 1, y, w, h)];
    float2 bottom = velocity_in[cell_index(x, y - 1, w, h)];
    float2 top = velocity_in[cell_index(x, y + 1, w, h)];
    vorticity[y * w + x] = 0.5f * ((right.y - left.y) - (top.x - bottom.x));
}

__kernel void apply_vorticity(
    __global const float4* params,
    __global const float2* velocity_in,
    __global float2* velocity_out,
    __global const float* vorticity)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    int idx = y * w + x;
    float omega = vorticity[idx];
    float2 grad = 0.5f * (float2)(
        fabs(vorticity[cell_index(x + 1, y, w, h)]) - fabs(vorticity[cell_index(x - 1, y, w, h)]),
        fabs(vorticity[cell_index(x, y + 1, w, h)]) - fabs(vorticity[cell_index(x, y - 1, w, h)]));
    float2 n = grad / fmax(length(grad), 1e-5f);
    float2 force = params[P_VORTICITY_SCALE].x * (float2)(n.y, -n.x) * omega;
    velocity_out[idx] = velocity_in[idx] + force * params[P_ELAPSED_TIME].x;
}

__kernel void viscosity(
    __global const float4* params,
    __global const float2* velocity_in,
    __global float2* velocity_out,
    __global const float2* obstacles)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    int idx = y * w + x;
    if (obstacles[idx].x > 0.0f) {
        velocity_out[idx] = (float2)(0.0f, 0.0f);
        return;
    }
    float2 sum = velocity_at(velocity_in, obstacles, x - 1, y, w, h) +
        velocity_at(velocity_in, obstacles, x + 1, y, w, h) +
        velocity_at(velocity_in, obstacles, x, y - 1, w, h) +
        velocity_at(velocity_in, obstacles, x, y + 1, w, h);
    velocity_out[idx] = (sum + params[P_ALPHA].x * velocity_in[idx]) * params[P_R_BETA].x;
}

__kernel void divergence(
    __global const float4* params,
    __global const float2* velocity_in,
    __global float* out_divergence,
    __global const float2* obstacles)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    float2 left = velocity_at(velocity_in, obstacles, x - 1, y, w, h);
    float2 right = velocity_at(velocity_in, obstacles, x + 1, y, w, h);
    float2 bottom = velocity_at(velocity_in, obstacles, x, y - 1, w, h);
    float2 top = velocity_at(velocity_in, obstacles, x, y + 1, w, h);
    out_divergence[y * w + x] = 0.5f * ((right.x - left.x) + (top.y - bottom.y));
}

__kernel void poisson(
    __global const float4* params,
    __global const float* pressure_in,
    __global float* pressure_out,
    __global const float* rhs,
    __global const float2* obstacles)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    int idx = y * w + x;
    float center = pressure_in[idx];
    float sum = pressure_at(pressure_in, obstacles, x - 1, y, w, h, center) +
        pressure_at(pressure_in, obstacles, x + 1, y, w, h, center) +
        pressure_at(pressure_in, obstacles, x, y - 1, w, h, center) +
        pressure_at(pressure_in, obstacles, x, y + 1, w, h, center);
    pressure_out[idx] = (sum - rhs[idx]) * 0.25f;
}

__kernel void subtract_gradient(
    __global const float4* params,
    __global const float2* velocity_in,
    __global float2* velocity_out,
    __global const float* pressure_in,
    __global const float2* obstacles)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    int idx = y * w + x;
    if (obstacles[idx].x > 0.0f) {
        velocity_out[idx] = (float2)(0.0f, 0.0f);
        return;
    }
    float center = pressure_in[idx];
    float2 grad = 0.5f * (float2)(
        pressure_at(pressure_in, obstacles, x + 1, y, w, h, center) -
            pressure_at(pressure_in, obstacles, x - 1, y, w, h, center),
        pressure_at(pressure_in, obstacles, x, y + 1, w, h, center) -
            pressure_at(pressure_in, obstacles, x, y - 1, w, h, center));
    velocity_out[idx] = velocity_in[idx] - grad;
}

__kernel void add_circle_obstacle(
    __global const float4* params,
    __global float2* obstacles)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    float2 p = (float2)((float)x, (float)y);
    if (distance(p, params[P_POSITION].xy) <= params[P_RADIUS].x) {
        obstacles[y * w + x] = (float2)(1.0f, params[P_STATIC].x);
    }
}

float edge_fn(float2 a, float2 b, float2 p)
{
    return (b.x - a.x) * (p.y - a.y) - (b.y - a.y) * (p.x - a.x);
}

__kernel void add_triangle_obstacle(
    __global const float4* params,
    __global float2* obstacles)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    float2 p = (float2)((float)x, (float)y);
    float d1 = edge_fn(params[P_P1].xy, params[P_P2].xy, p);
    float d2 = edge_fn(params[P_P2].xy, params[P_P3].xy, p);
    float d3 = edge_fn(params[P_P3].xy, params[P_P1].xy, p);
    int has_neg = (d1 < 0.0f) || (d2 < 0.0f) || (d3 < 0.0f);
    int has_pos = (d1 > 0.0f) || (d2 > 0.0f) || (d3 > 0.0f);
    if (!(has_neg && has_pos)) {
        obstacles[y * w + x] = (float2)(1.0f, params[P_STATIC].x);
    }
}

__kernel void clear_buffer(
    __global const float4* params,
    __global float* scratch,
    const int count)
{
    int w = (int)params[P_SIZE].x;
    int h = (int)params[P_SIZE].y;
    int x = get_global_id(0);
    int y = get_global_id(1);
    if (x >= w || y >= h) {
        return;
    }
    int base = (y * w + x) * 2;
    if (base < count) {
        scratch[base] = 0.0f;
    }
    if (base + 1 < count) {
        scratch[base + 1] = 0.0f;
    }
}`

// uniformHandle is an index into the params buffer.
type uniformHandle struct {
	name  string
	index int
}

// storageBuffer wraps an OpenCL buffer holding one grid field.
type storageBuffer struct {
	buf    *cl.MemObject
	cells  int
	layout fluid.Layout
}

func (sb *storageBuffer) elems() int { return sb.cells * sb.layout.Components() }

// kernelHandle pairs a compiled kernel with its argument slot list and a
// cache of the buffers currently set on each argument.
type kernelHandle struct {
	stage  fluid.Stage
	kernel *cl.Kernel
	slots  []fluid.Slot
	bound  []*cl.MemObject
}

// Device implements fluid.Device on an OpenCL context with a single
// in-order command queue.
type Device struct {
	mu          sync.Mutex
	context     *cl.Context
	queue       *cl.CommandQueue
	program     *cl.Program
	params      *cl.MemObject
	placeholder *cl.MemObject
	slots       [fluid.SlotCount]*storageBuffer
	deviceName  string
	closed      bool
}

var _ fluid.Device = (*Device)(nil)

// New opens an OpenCL device and builds the kernel program. GPU devices
// are preferred; CPU devices are a fallback so the backend still works
// on build machines without GPU drivers.
func New() (*Device, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "fluid-opencl: querying platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms; install OpenCL drivers and verify with `clinfo`"
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if len(platforms) == 0 {
		return nil, errors.New("fluid-opencl: no platforms available; ensure a vendor driver is installed and detected by `clinfo`")
	}

	var device *cl.Device
	for _, p := range platforms {
		devices, derr := p.GetDevices(cl.DeviceTypeGPU)
		if derr != nil && derr != cl.ErrDeviceNotFound {
			continue
		}
		if len(devices) > 0 {
			device = devices[0]
			break
		}
	}
	if device == nil {
		for _, p := range platforms {
			devices, derr := p.GetDevices(cl.DeviceTypeCPU)
			if derr != nil && derr != cl.ErrDeviceNotFound {
				continue
			}
			if len(devices) > 0 {
				device = devices[0]
				break
			}
		}
	}
	if device == nil {
		return nil, errors.New("fluid-opencl: no suitable devices found")
	}

	d := &Device{deviceName: device.Name()}

	d.context, err = cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("fluid-opencl: creating context: %w", err)
	}
	d.queue, err = d.context.CreateCommandQueue(device, 0)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("fluid-opencl: creating command queue: %w", err)
	}
	d.program, err = d.context.CreateProgramWithSource([]string{programSource})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("fluid-opencl: creating program: %w", err)
	}
	if err := d.program.BuildProgram([]*cl.Device{device}, ""); err != nil {
		d.Close()
		if buildErr, ok := err.(cl.BuildError); ok {
			return nil, fmt.Errorf("fluid-opencl: building program: %s", string(buildErr))
		}
		return nil, fmt.Errorf("fluid-opencl: building program: %w", err)
	}

	d.params, err = d.context.CreateEmptyBuffer(cl.MemReadOnly, paramBlockBytes)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("fluid-opencl: allocating params buffer: %w", err)
	}
	if _, err := d.queue.EnqueueWriteBufferFloat32(d.params, true, 0, make([]float32, paramBlockBytes/4), nil); err != nil {
		d.Close()
		return nil, fmt.Errorf("fluid-opencl: zeroing params buffer: %w", err)
	}
	d.placeholder, err = d.context.CreateEmptyBuffer(cl.MemReadWrite, placeholderBytes)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("fluid-opencl: allocating placeholder buffer: %w", err)
	}

	fluid.Logger().Info("fluid-opencl: device ready", "device", d.deviceName)
	return d, nil
}

// Name returns the name of the selected OpenCL device.
func (d *Device) Name() string { return d.deviceName }

// CreateUniform resolves a uniform name to its index in the params
// buffer.
func (d *Device) CreateUniform(name string) (fluid.Uniform, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	idx, ok := paramIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", fluid.ErrUnknownUniform, name)
	}
	return &uniformHandle{name: name, index: idx}, nil
}

// WriteUniform uploads one vec4 value into the params buffer.
func (d *Device) WriteUniform(u fluid.Uniform, value fluid.Vec4) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	h, ok := u.(*uniformHandle)
	if !ok {
		return fmt.Errorf("fluid-opencl: foreign uniform handle %T", u)
	}
	if _, err := d.queue.EnqueueWriteBufferFloat32(d.params, true, h.index*paramSlotBytes, value[:], nil); err != nil {
		return fmt.Errorf("fluid-opencl: writing uniform %s: %w", h.name, err)
	}
	return nil
}

// DestroyUniform releases a uniform handle. Handles are indices into the
// device-owned params buffer, so there is nothing to free.
func (d *Device) DestroyUniform(u fluid.Uniform) error {
	if _, ok := u.(*uniformHandle); !ok {
		return fmt.Errorf("fluid-opencl: foreign uniform handle %T", u)
	}
	return nil
}

// CreateBuffer allocates a zero-filled buffer for cells grid cells with
// the given per-cell layout.
func (d *Device) CreateBuffer(cells int, layout fluid.Layout) (fluid.Field, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	if cells <= 0 {
		return nil, fmt.Errorf("fluid-opencl: buffer cells must be positive, got %d", cells)
	}

	elems := cells * layout.Components()
	buf, err := d.context.CreateEmptyBuffer(cl.MemReadWrite, elems*4)
	if err != nil {
		return nil, fmt.Errorf("fluid-opencl: allocating field buffer: %w", err)
	}
	if _, err := d.queue.EnqueueWriteBufferFloat32(buf, true, 0, make([]float32, elems), nil); err != nil {
		buf.Release()
		return nil, fmt.Errorf("fluid-opencl: zeroing field buffer: %w", err)
	}

	return &storageBuffer{buf: buf, cells: cells, layout: layout}, nil
}

// DestroyBuffer releases a field buffer and clears any slot still
// pointing at it.
func (d *Device) DestroyBuffer(f fluid.Field) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	sb, ok := f.(*storageBuffer)
	if !ok {
		return fmt.Errorf("fluid-opencl: foreign field handle %T", f)
	}
	for s := range d.slots {
		if d.slots[s] == sb {
			d.slots[s] = nil
		}
	}
	if sb.buf != nil {
		sb.buf.Release()
		sb.buf = nil
	}
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
		return fmt.Errorf("fluid-opencl: foreign field handle %T", f)
	}
	d.slots[slot] = sb
	fluid.Logger().Debug("fluid-opencl: slot bound",
		"slot", slot.String(),
		"access", access.String(),
		"elems", sb.elems())
	return nil
}

// LoadKernel creates the named kernel from the shared program and pins
// the params buffer as its first argument.
func (d *Device) LoadKernel(stage fluid.Stage) (fluid.Kernel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	slots, ok := kernelArgs[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %v", fluid.ErrUnknownKernel, stage)
	}

	kernel, err := d.program.CreateKernel(stage.String())
	if err != nil {
		return nil, fmt.Errorf("fluid-opencl: creating kernel %s: %w", stage, err)
	}
	if err := kernel.SetArgBuffer(0, d.params); err != nil {
		kernel.Release()
		return nil, fmt.Errorf("fluid-opencl: binding params to %s: %w", stage, err)
	}

	return &kernelHandle{
		stage:  stage,
		kernel: kernel,
		slots:  slots,
		bound:  make([]*cl.MemObject, len(slots)),
	}, nil
}

// DestroyKernel releases a kernel.
func (d *Device) DestroyKernel(k fluid.Kernel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	kh, ok := k.(*kernelHandle)
	if !ok {
		return fmt.Errorf("fluid-opencl: foreign kernel handle %T", k)
	}
	if kh.kernel != nil {
		kh.kernel.Release()
		kh.kernel = nil
	}
	return nil
}

// Dispatch enqueues one kernel over a gx*gy*gz workgroup grid against
// the current slot table. The in-order queue keeps dispatches ordered
// without blocking the host.
func (d *Device) Dispatch(k fluid.Kernel, gx, gy, gz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	kh, ok := k.(*kernelHandle)
	if !ok {
		return fmt.Errorf("fluid-opencl: foreign kernel handle %T", k)
	}
	if gx == 0 || gy == 0 || gz == 0 {
		return nil
	}

	if err := d.bindKernelArgs(kh); err != nil {
		return err
	}

	global := []int{int(gx) * workgroupSize, int(gy) * workgroupSize, int(gz)}
	if _, err := d.queue.EnqueueNDRangeKernel(kh.kernel, nil, global, nil, nil); err != nil {
		return fmt.Errorf("fluid-opencl: enqueueing %s: %w", kh.stage, err)
	}
	return nil
}

// bindKernelArgs resolves the kernel's slot list against the slot table,
// setting only arguments whose buffer changed since the last dispatch.
func (d *Device) bindKernelArgs(kh *kernelHandle) error {
	for i, slot := range kh.slots {
		buf := d.placeholder
		if sb := d.slots[slot]; sb != nil {
			buf = sb.buf
		}
		if kh.bound[i] == buf {
			continue
		}
		if err := kh.kernel.SetArgBuffer(i+1, buf); err != nil {
			return fmt.Errorf("fluid-opencl: binding %s to %s: %w", slot, kh.stage, err)
		}
		kh.bound[i] = buf
	}

	// clear_buffer takes the element count of the scratch field as a
	// trailing argument; a stale count would over- or under-clear.
	if kh.stage == fluid.StageClearBuffer {
		count := 0
		if sb := d.slots[fluid.SlotGeneric]; sb != nil {
			count = sb.elems()
		}
		if err := kh.kernel.SetArgInt32(len(kh.slots)+1, int32(count)); err != nil {
			return fmt.Errorf("fluid-opencl: setting clear count: %w", err)
		}
	}
	return nil
}

// ReadField copies a field back to the CPU as float32 values: cells
// values for scalar fields, 2*cells for vector fields. The blocking read
// flushes the queue, so every dispatch enqueued before it is complete
// when it returns.
func (d *Device) ReadField(f fluid.Field) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	sb, ok := f.(*storageBuffer)
	if !ok {
		return nil, fmt.Errorf("fluid-opencl: foreign field handle %T", f)
	}

	out := make([]float32, sb.elems())
	if _, err := d.queue.EnqueueReadBufferFloat32(sb.buf, true, 0, out, nil); err != nil {
		return nil, fmt.Errorf("fluid-opencl: reading field buffer: %w", err)
	}
	return out, nil
}

// Close releases the device's own resources. Field buffers and kernels
// are owned by their creator and must be destroyed before Close.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for s := range d.slots {
		d.slots[s] = nil
	}
	if d.placeholder != nil {
		d.placeholder.Release()
		d.placeholder = nil
	}
	if d.params != nil {
		d.params.Release()
		d.params = nil
	}
	if d.program != nil {
		d.program.Release()
		d.program = nil
	}
	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.context != nil {
		d.context.Release()
		d.context = nil
	}
}
