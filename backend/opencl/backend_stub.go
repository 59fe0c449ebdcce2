//go:build !opencl

package opencl

import (
	"errors"

	"github.com/gogpu/fluid"
)

// ErrUnavailable is returned by every operation when the package was
// built without the opencl tag.
var ErrUnavailable = errors.New("fluid-opencl: support is not enabled; rebuild with -tags opencl")

// Device is a stub that satisfies fluid.Device so callers can compile
// against this package unconditionally and probe for support at runtime.
type Device struct{}

var _ fluid.Device = (*Device)(nil)

// New always fails without the opencl build tag.
func New() (*Device, error) {
	return nil, ErrUnavailable
}

// Name returns an empty string on the stub.
func (d *Device) Name() string { return "" }

func (d *Device) CreateUniform(name string) (fluid.Uniform, error) { return nil, ErrUnavailable }

func (d *Device) WriteUniform(u fluid.Uniform, value fluid.Vec4) error { return ErrUnavailable }

func (d *Device) DestroyUniform(u fluid.Uniform) error { return ErrUnavailable }

func (d *Device) CreateBuffer(cells int, layout fluid.Layout) (fluid.Field, error) {
	return nil, ErrUnavailable
}

func (d *Device) DestroyBuffer(f fluid.Field) error { return ErrUnavailable }

func (d *Device) BindBuffer(slot fluid.Slot, f fluid.Field, access fluid.Access) error {
	return ErrUnavailable
}

func (d *Device) LoadKernel(stage fluid.Stage) (fluid.Kernel, error) { return nil, ErrUnavailable }

func (d *Device) DestroyKernel(k fluid.Kernel) error { return ErrUnavailable }

func (d *Device) Dispatch(k fluid.Kernel, gx, gy, gz uint32) error { return ErrUnavailable }

func (d *Device) ReadField(f fluid.Field) ([]float32, error) { return nil, ErrUnavailable }

func (d *Device) Close() {}
