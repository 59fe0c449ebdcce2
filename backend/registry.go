package backend

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/gogpu/fluid"
)

// Driver name constants.
const (
	// BackendWGPU is the name of the WebGPU driver (gogpu/wgpu HAL).
	BackendWGPU = "wgpu"
	// BackendOpenCL is the name of the OpenCL driver. It opens devices
	// only in binaries built with -tags opencl.
	BackendOpenCL = "opencl"
	// BackendCPU is the name of the pure-Go reference driver.
	BackendCPU = "cpu"
)

// Common registry errors.
var (
	// ErrNotAvailable is returned by Default when no registered driver
	// can open a device.
	ErrNotAvailable = errors.New("fluid-backend: no device available")

	// ErrUnknownBackend is returned by Open for a name with no
	// registered driver.
	ErrUnknownBackend = errors.New("fluid-backend: unknown backend")
)

// Device is what a driver opens: a fluid.Device together with the
// lifecycle and diagnostics every driver in this repo shares.
type Device interface {
	fluid.Device

	// Name returns a human-readable description of the opened device,
	// such as the GPU adapter or OpenCL device string.
	Name() string

	// ReadField copies a field back to host memory, Components()
	// float32 values per cell in row-major cell order.
	ReadField(f fluid.Field) ([]float32, error)

	// Close releases the device and everything created from it.
	Close()
}

// Factory opens a device for one driver.
type Factory func() (Device, error)

var (
	registryMu sync.RWMutex
	drivers    = make(map[string]Factory)

	// Selection order for Default (first driver that opens wins).
	// GPU drivers first; the cpu driver always opens.
	priority = []string{BackendWGPU, BackendOpenCL, BackendCPU}
)

// Register makes a driver available under the given name. It is
// typically called from init() functions in driver packages.
// Registering a name twice replaces the earlier factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	drivers[name] = f
}

// Unregister removes a driver from the registry. Useful in tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(drivers, name)
}

// Available returns the registered driver names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a driver is registered under name.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := drivers[name]
	return ok
}

// Open opens a device with the named driver.
func Open(name string) (Device, error) {
	registryMu.RLock()
	f, ok := drivers[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return f()
}

// Default opens the best available device. Drivers are tried in
// priority order (wgpu, opencl, cpu, then anything else) and the first
// that opens wins.
func Default() (Device, error) {
	for _, name := range candidates() {
		dev, err := Open(name)
		if err != nil {
			fluid.Logger().Debug("backend unavailable", "backend", name, "error", err)
			continue
		}
		fluid.Logger().Info("backend selected", "backend", name, "device", dev.Name())
		return dev, nil
	}
	return nil, ErrNotAvailable
}

// candidates returns the registered driver names in selection order:
// the priority list first, then any others sorted by name.
func candidates() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for _, name := range priority {
		if _, ok := drivers[name]; ok {
			names = append(names, name)
		}
	}
	var rest []string
	for name := range drivers {
		if !slices.Contains(names, name) {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}
