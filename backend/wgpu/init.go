package wgpu

import (
	"github.com/gogpu/fluid/backend"
)

var _ backend.Device = (*Device)(nil)

// init registers the wgpu driver on package import. This enables automatic
// device selection when using backend.Default().
//
// To use the wgpu driver, import this package:
//
//	import _ "github.com/gogpu/fluid/backend/wgpu"
//
// The registered factory opens the platform's default GPU adapter. Hosts
// that already own a gogpu device should call NewFromContext or
// NewFromProvider instead of going through the registry.
func init() {
	backend.Register(backend.BackendWGPU, func() (backend.Device, error) {
		d, err := New()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
