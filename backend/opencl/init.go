package opencl

import (
	"github.com/gogpu/fluid/backend"
)

var _ backend.Device = (*Device)(nil)

// init registers the opencl driver on package import. Without the opencl
// build tag the registered factory reports ErrUnavailable, which makes
// backend.Default() skip past it to the next driver.
//
// To use the opencl driver, import this package and build with -tags opencl:
//
//	import _ "github.com/gogpu/fluid/backend/opencl"
func init() {
	backend.Register(backend.BackendOpenCL, func() (backend.Device, error) {
		d, err := New()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
