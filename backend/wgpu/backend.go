package wgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/fluid"
)

const (
	// uniformSlotBytes is the stride of one uniform in the Params block.
	// Every uniform is a vec4<f32> regardless of how many components the
	// kernels consume.
	uniformSlotBytes = 16

	// uniformBlockSize is the byte size of the Params uniform block.
	uniformBlockSize = 15 * uniformSlotBytes

	// placeholderSize is the byte size of the buffer bound to storage
	// bindings whose slot has no field yet.
	placeholderSize = 16

	// dispatchTimeout is the maximum time to wait for a dispatch to
	// complete on the GPU.
	dispatchTimeout = 5 * time.Second
)

// uniformOffsets maps scheduler uniform names to byte offsets within the
// Params uniform block. The order must match the Params struct declared
// at the top of every WGSL kernel in shaders/.
var uniformOffsets = map[string]uint32{
	"size":            0 * uniformSlotBytes,
	"position":        1 * uniformSlotBytes,
	"radius":          2 * uniformSlotBytes,
	"value":           3 * uniformSlotBytes,
	"static":          4 * uniformSlotBytes,
	"p1":              5 * uniformSlotBytes,
	"p2":              6 * uniformSlotBytes,
	"p3":              7 * uniformSlotBytes,
	"elapsed_time":    8 * uniformSlotBytes,
	"speed":           9 * uniformSlotBytes,
	"dissipation":     10 * uniformSlotBytes,
	"velocity":        11 * uniformSlotBytes,
	"vorticity_scale": 12 * uniformSlotBytes,
	"alpha":           13 * uniformSlotBytes,
	"r_beta":          14 * uniformSlotBytes,
}

// uniformHandle is an offset into the shared Params block.
type uniformHandle struct {
	name   string
	offset uint32
}

// storageBuffer wraps a HAL storage buffer holding one grid field.
type storageBuffer struct {
	buf    hal.Buffer
	size   uint64
	cells  int
	layout fluid.Layout
}

// kernelHandle pairs a compiled shader module with its compute pipeline.
type kernelHandle struct {
	stage    fluid.Stage
	module   hal.ShaderModule
	pipeline hal.ComputePipeline
}

// CreateUniform resolves a uniform name to its offset in the Params
// block. The block itself is created once per Device, so this allocates
// nothing on the GPU.
func (d *Device) CreateUniform(name string) (fluid.Uniform, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	offset, ok := uniformOffsets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", fluid.ErrUnknownUniform, name)
	}
	return &uniformHandle{name: name, offset: offset}, nil
}

// WriteUniform uploads one vec4 value into the Params block.
func (d *Device) WriteUniform(u fluid.Uniform, value fluid.Vec4) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	h, ok := u.(*uniformHandle)
	if !ok {
		return fmt.Errorf("fluid-wgpu: foreign uniform handle %T", u)
	}
	d.queue.WriteBuffer(d.params, uint64(h.offset), vec4Bytes(value))
	return nil
}

// DestroyUniform releases a uniform handle. Handles are offsets into the
// device-owned Params block, so there is nothing to free on the GPU.
func (d *Device) DestroyUniform(u fluid.Uniform) error {
	if _, ok := u.(*uniformHandle); !ok {
		return fmt.Errorf("fluid-wgpu: foreign uniform handle %T", u)
	}
	return nil
}

// CreateBuffer allocates a zero-filled storage buffer for cells grid
// cells with the given per-cell layout.
func (d *Device) CreateBuffer(cells int, layout fluid.Layout) (fluid.Field, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	if cells <= 0 {
		return nil, fmt.Errorf("fluid-wgpu: buffer cells must be positive, got %d", cells)
	}

	size := uint64(cells) * uint64(layout.Components()) * 4
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("fluid_field_%s", layout),
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("fluid-wgpu: create field buffer: %w", err)
	}

	// New fields start at zero: a freshly created simulation is at rest.
	d.queue.WriteBuffer(buf, 0, make([]byte, size))

	return &storageBuffer{buf: buf, size: size, cells: cells, layout: layout}, nil
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
		return fmt.Errorf("fluid-wgpu: foreign field handle %T", f)
	}
	for s := range d.slots {
		if d.slots[s] == sb {
			d.slots[s] = nil
		}
	}
	d.device.DestroyBuffer(sb.buf)
	sb.buf = nil
	return nil
}

// BindBuffer attaches a field to a slot for subsequent dispatches. The
// shared layout declares every storage binding read_write, so the access
// mode only feeds the debug log.
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
		return fmt.Errorf("fluid-wgpu: foreign field handle %T", f)
	}
	d.slots[slot] = sb
	fluid.Logger().Debug("fluid-wgpu: slot bound",
		"slot", slot.String(),
		"access", access.String(),
		"bytes", sb.size)
	return nil
}

// LoadKernel compiles the WGSL source for a stage into a compute
// pipeline against the shared layout.
func (d *Device) LoadKernel(stage fluid.Stage) (fluid.Kernel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	src, err := kernelSource(stage)
	if err != nil {
		return nil, err
	}

	name := "fluid_" + stage.String()
	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  name,
		Source: hal.ShaderSource{WGSL: src},
	})
	if err != nil {
		return nil, fmt.Errorf("fluid-wgpu: compile %s: %w", stage, err)
	}

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  name,
		Layout: d.pipeLayout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		d.device.DestroyShaderModule(module)
		return nil, fmt.Errorf("fluid-wgpu: create pipeline for %s: %w", stage, err)
	}

	fluid.Logger().Debug("fluid-wgpu: kernel loaded",
		"stage", stage.String(),
		"shader_bytes", len(src))
	return &kernelHandle{stage: stage, module: module, pipeline: pipeline}, nil
}

// DestroyKernel releases a kernel's pipeline and shader module.
func (d *Device) DestroyKernel(k fluid.Kernel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	kh, ok := k.(*kernelHandle)
	if !ok {
		return fmt.Errorf("fluid-wgpu: foreign kernel handle %T", k)
	}
	if kh.pipeline != nil {
		d.device.DestroyComputePipeline(kh.pipeline)
		kh.pipeline = nil
	}
	if kh.module != nil {
		d.device.DestroyShaderModule(kh.module)
		kh.module = nil
	}
	return nil
}

// Dispatch executes one kernel over a gx*gy*gz workgroup grid against
// the current slot table and blocks until the GPU finishes.
func (d *Device) Dispatch(k fluid.Kernel, gx, gy, gz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fluid.ErrDeviceClosed
	}
	kh, ok := k.(*kernelHandle)
	if !ok {
		return fmt.Errorf("fluid-wgpu: foreign kernel handle %T", k)
	}
	if gx == 0 || gy == 0 || gz == 0 {
		return nil
	}

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   "fluid_" + kh.stage.String() + "_bg",
		Layout:  d.bindLayout,
		Entries: d.bindGroupEntries(),
	})
	if err != nil {
		return fmt.Errorf("fluid-wgpu: create bind group for %s: %w", kh.stage, err)
	}
	defer d.device.DestroyBindGroup(bg)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "fluid_dispatch",
	})
	if err != nil {
		return fmt.Errorf("fluid-wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("fluid_dispatch"); err != nil {
		return fmt.Errorf("fluid-wgpu: begin encoding: %w", err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{
		Label: "fluid_" + kh.stage.String(),
	})
	pass.SetPipeline(kh.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(gx, gy, gz)
	pass.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("fluid-wgpu: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	return d.submitAndWait(cmdBuf, kh.stage.String())
}

// bindGroupEntries snapshots the slot table into bind group entries:
// binding 0 is the Params block, bindings 1-8 mirror the slots, with the
// placeholder filling unbound ones.
func (d *Device) bindGroupEntries() []gputypes.BindGroupEntry {
	entries := make([]gputypes.BindGroupEntry, 0, int(fluid.SlotCount)+1)
	entries = append(entries, gputypes.BindGroupEntry{
		Binding: 0,
		Resource: gputypes.BufferBinding{
			Buffer: d.params.NativeHandle(),
			Offset: 0,
			Size:   uniformBlockSize,
		},
	})
	for s := fluid.Slot(0); s < fluid.SlotCount; s++ {
		buf, size := d.placeholder, uint64(placeholderSize)
		if sb := d.slots[s]; sb != nil {
			buf, size = sb.buf, sb.size
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: uint32(s) + 1,
			Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(),
				Offset: 0,
				Size:   size,
			},
		})
	}
	return entries
}

// submitAndWait submits one command buffer and blocks on its fence.
func (d *Device) submitAndWait(cmdBuf hal.CommandBuffer, label string) error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("fluid-wgpu: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("fluid-wgpu: submit %s: %w", label, err)
	}
	ok, err := d.device.Wait(fence, 1, dispatchTimeout)
	if err != nil {
		return fmt.Errorf("fluid-wgpu: wait for %s: %w", label, err)
	}
	if !ok {
		return fmt.Errorf("fluid-wgpu: %s timed out after %v", label, dispatchTimeout)
	}
	return nil
}

// ReadField copies a field back to the CPU and decodes it as float32
// values: cells values for scalar fields, 2*cells for vector fields.
// It is intended for visualization and debugging; the simulation itself
// never reads fields back.
func (d *Device) ReadField(f fluid.Field) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fluid.ErrDeviceClosed
	}
	sb, ok := f.(*storageBuffer)
	if !ok {
		return nil, fmt.Errorf("fluid-wgpu: foreign field handle %T", f)
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "fluid_staging",
		Size:  sb.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("fluid-wgpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "fluid_readback",
	})
	if err != nil {
		return nil, fmt.Errorf("fluid-wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("fluid_readback"); err != nil {
		return nil, fmt.Errorf("fluid-wgpu: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(sb.buf, staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: sb.size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("fluid-wgpu: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	if err := d.submitAndWait(cmdBuf, "readback"); err != nil {
		return nil, err
	}

	raw := make([]byte, sb.size)
	if err := d.queue.ReadBuffer(staging, 0, raw); err != nil {
		return nil, fmt.Errorf("fluid-wgpu: read staging buffer: %w", err)
	}

	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// vec4Bytes encodes a uniform value as 16 little-endian bytes, matching
// the std140 vec4<f32> layout of the Params block.
func vec4Bytes(v fluid.Vec4) []byte {
	out := make([]byte, uniformSlotBytes)
	le := binary.LittleEndian
	for i, f := range v {
		le.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
