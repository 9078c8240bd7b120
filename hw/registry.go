package hw

import (
	"fmt"
	"sort"

	"github.com/gogpu/gpucontext"
)

// Backend names known to the driver. Real hardware is preferred over the
// simulator when both are registered.
const (
	BackendHardware = "hardware"
	BackendSim      = "sim"
)

// Registry maps backend names to port factories.
//
// A Registry is owned by the application; there is no package-level
// instance.
//
//	reg := hw.NewRegistry()
//	reg.Register(hw.BackendSim, func() hw.Port { return sim.New(sim.Config{}) })
//	port, err := reg.Open("")
type Registry struct {
	r *gpucontext.Registry[Port]
}

// NewRegistry creates an empty registry preferring real hardware.
func NewRegistry() *Registry {
	return &Registry{
		r: gpucontext.NewRegistry[Port](gpucontext.WithPriority(BackendHardware, BackendSim)),
	}
}

// Register adds or replaces a backend factory.
func (r *Registry) Register(name string, factory func() Port) {
	if factory == nil {
		panic("hw: Register factory is nil")
	}
	r.r.Register(name, factory)
}

// Unregister removes a backend.
func (r *Registry) Unregister(name string) {
	r.r.Unregister(name)
}

// Open creates a port from the named backend. An empty name selects the
// highest-priority registered backend.
func (r *Registry) Open(name string) (Port, error) {
	if name == "" {
		name = r.r.BestName()
		if name == "" {
			return nil, fmt.Errorf("hw: no backends registered")
		}
	}
	if !r.r.Has(name) {
		return nil, fmt.Errorf("hw: unknown backend %q (available: %v)", name, r.Backends())
	}
	p := r.r.Get(name)
	if p == nil {
		return nil, fmt.Errorf("hw: backend %q returned nil port", name)
	}
	return p, nil
}

// Backends returns the registered backend names in sorted order.
func (r *Registry) Backends() []string {
	names := r.r.Available()
	sort.Strings(names)
	return names
}
