// Package backend maps a device name onto the BLAS implementation gonum's
// mat package dispatches to, plus the worker count attention fans out over.
//
// The core never branches on the backend name; it only asks for Workers and
// calls Use once at model construction.
package backend

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/blas/gonum"

	"github.com/Jourdelune/transformer/utils"
)

type Backend struct {
	Name    string
	Workers int
	impl    blas.Float64
}

var (
	mu       sync.RWMutex
	registry = map[string]blas.Float64{
		"cpu": gonum.Implementation{},
	}

	// installed is the device whose BLAS gonum currently dispatches to.
	installMu sync.Mutex
	installed string
)

// Register makes impl selectable under name. Build-tagged files call it from init.
func Register(name string, impl blas.Float64) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = impl
}

// Names lists the registered devices.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Lookup resolves device. workers <= 0 means one per CPU.
func Lookup(device string, workers int) (Backend, error) {
	mu.RLock()
	impl, ok := registry[device]
	mu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("unknown device %q (have %v): %w", device, Names(), utils.ErrConfiguration)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return Backend{Name: device, Workers: workers, impl: impl}, nil
}

// Use installs the backend's BLAS implementation process-wide. The first call
// installs it; later calls for the same device are no-ops and calls for any
// other device fail, since gonum's BLAS dispatch is global to the process.
func (b Backend) Use() error {
	installMu.Lock()
	defer installMu.Unlock()
	switch installed {
	case b.Name:
		return nil
	case "":
		blas64.Use(b.impl)
		installed = b.Name
		utils.Debugf("backend: %s with %d workers", b.Name, b.Workers)
		return nil
	default:
		return fmt.Errorf("device %q requested but %q is already installed: %w",
			b.Name, installed, utils.ErrConfiguration)
	}
}

// Installed reports the device installed by Use, or "" before the first call.
func Installed() string {
	installMu.Lock()
	defer installMu.Unlock()
	return installed
}
