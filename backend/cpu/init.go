package cpu

import (
	"github.com/gogpu/fluid/backend"
)

// init registers the cpu driver on package import. This enables automatic
// device selection when using backend.Default(); the cpu driver needs no
// hardware, so it is the fallback every other driver wins over.
//
// To use the cpu driver, import this package:
//
//	import _ "github.com/gogpu/fluid/backend/cpu"
func init() {
	backend.Register(backend.BackendCPU, func() (backend.Device, error) {
		return New()
	})
}
