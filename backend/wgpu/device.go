package wgpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import the Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/fluid"
)

// Device acquisition errors.
var (
	// ErrNoBackend is returned when no wgpu HAL backend is compiled in or
	// available on this platform.
	ErrNoBackend = errors.New("fluid-wgpu: no wgpu backend available")

	// ErrNoAdapter is returned when the instance exposes no GPU adapters.
	ErrNoAdapter = errors.New("fluid-wgpu: no GPU adapters found")

	// ErrNilProvider is returned when a nil device provider is passed.
	ErrNilProvider = errors.New("fluid-wgpu: nil device provider")

	// ErrInvalidProvider is returned when a provider does not expose HAL
	// device and queue handles.
	ErrInvalidProvider = errors.New("fluid-wgpu: provider does not expose HAL types")
)

// Device implements fluid.Device on a wgpu HAL device. Create one with
// New, NewFromContext or NewFromProvider and pass it to fluid.New.
//
// Methods lock internally, but the fluid scheduler drives a Device from a
// single goroutine; the lock only protects against concurrent Close.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	// params is the shared uniform block; every kernel reads it at
	// binding 0. Uniform handles are offsets into this buffer.
	params hal.Buffer

	// placeholder fills storage bindings whose slot has no field bound
	// yet. The shared bind group layout requires every binding to be
	// populated in every bind group.
	placeholder hal.Buffer

	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout

	// slots is the current slot table; Dispatch snapshots it into a
	// bind group.
	slots [fluid.SlotCount]*storageBuffer

	adapterName string
	external    bool
	closed      bool
}

var _ fluid.Device = (*Device)(nil)

// New opens a dedicated GPU device and prepares the shared simulation
// resources on it. The first discrete or integrated adapter is selected;
// failing that, the first adapter of any type.
func New() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, ErrNoBackend
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("fluid-wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("fluid-wgpu: open device: %w", err)
	}

	d := &Device{
		instance:    instance,
		device:      openDev.Device,
		queue:       openDev.Queue,
		adapterName: selected.Info.Name,
	}
	if err := d.createShared(); err != nil {
		d.device.Destroy()
		instance.Destroy()
		return nil, err
	}

	fluid.Logger().Info("fluid-wgpu: device ready", "adapter", d.adapterName)
	return d, nil
}

// NewFromProvider creates a Device on a GPU device shared by an external
// provider. The provider must expose HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue; gogpu applications satisfy this.
// The shared device and queue are not destroyed on Close.
func NewFromProvider(provider any) (*Device, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrInvalidProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrInvalidProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrInvalidProvider)
	}

	d := &Device{
		device:   device,
		queue:    queue,
		external: true,
	}
	if err := d.createShared(); err != nil {
		return nil, err
	}

	fluid.Logger().Info("fluid-wgpu: using shared GPU device")
	return d, nil
}

// NewFromContext creates a Device sharing the GPU of a gogpu application.
// The provider comes from gogpu.App.GPUContextProvider().
func NewFromContext(provider gpucontext.DeviceProvider) (*Device, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	return NewFromProvider(provider)
}

// Name returns the name of the selected GPU adapter. Empty for
// devices created from a provider.
func (d *Device) Name() string { return d.adapterName }

// createShared builds the resources every simulation on this device
// shares: the params uniform block, the placeholder storage buffer, and
// the bind group and pipeline layouts.
func (d *Device) createShared() error {
	params, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "fluid_params",
		Size:  uniformBlockSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("fluid-wgpu: create params buffer: %w", err)
	}
	d.params = params

	placeholder, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "fluid_placeholder",
		Size:  placeholderSize,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.destroyShared()
		return fmt.Errorf("fluid-wgpu: create placeholder buffer: %w", err)
	}
	d.placeholder = placeholder

	entries := make([]gputypes.BindGroupLayoutEntry, 0, int(fluid.SlotCount)+1)
	entries = append(entries, gputypes.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	})
	for s := fluid.Slot(0); s < fluid.SlotCount; s++ {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(s) + 1,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		})
	}
	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "fluid_bgl",
		Entries: entries,
	})
	if err != nil {
		d.destroyShared()
		return fmt.Errorf("fluid-wgpu: create bind group layout: %w", err)
	}
	d.bindLayout = bindLayout

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "fluid_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		d.destroyShared()
		return fmt.Errorf("fluid-wgpu: create pipeline layout: %w", err)
	}
	d.pipeLayout = pipeLayout

	return nil
}

// destroyShared releases the shared resources, tolerating partial
// construction.
func (d *Device) destroyShared() {
	if d.pipeLayout != nil {
		d.device.DestroyPipelineLayout(d.pipeLayout)
		d.pipeLayout = nil
	}
	if d.bindLayout != nil {
		d.device.DestroyBindGroupLayout(d.bindLayout)
		d.bindLayout = nil
	}
	if d.placeholder != nil {
		d.device.DestroyBuffer(d.placeholder)
		d.placeholder = nil
	}
	if d.params != nil {
		d.device.DestroyBuffer(d.params)
		d.params = nil
	}
}

// Close releases the shared resources and, for devices opened by New,
// the underlying GPU device and instance. Close is idempotent. Resources
// still held by a Simulator must be released (Simulator.Close) first.
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
	d.destroyShared()

	if !d.external {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
}
