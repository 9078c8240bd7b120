package d2

import (
	"errors"
	"slices"
	"sync"
)

// Registry tracks open devices for an application.
//
// A Registry is owned by its creator; there is no package-level instance,
// so independent registries never see each other's devices.
//
//	reg := d2.NewRegistry()
//	dev, err := reg.Open(d2.WithFlags(d2.FlagDisableIRQ))
//	...
//	defer reg.CloseAll()
type Registry struct {
	mu      sync.Mutex
	devices []*Device
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Open opens a device and adds it to the registry.
func (r *Registry) Open(opts ...Option) (*Device, error) {
	d, err := Open(opts...)
	if err != nil {
		return nil, err
	}
	if err := r.Add(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Add registers d. A device belongs to at most one registry; closing it
// removes it.
func (r *Registry) Add(d *Device) error {
	if err := d.check(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.registry == r {
		return nil
	}
	if d.registry != nil {
		return ErrInvalidDevice
	}
	d.registry = r
	r.devices = append(r.devices, d)
	return nil
}

// Remove unregisters d without closing it.
func (r *Registry) Remove(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.registry != r {
		return
	}
	d.registry = nil
	r.devices = slices.DeleteFunc(r.devices, func(x *Device) bool { return x == d })
}

// Devices returns the registered devices in registration order.
func (r *Registry) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.devices)
}

// CloseAll closes every registered device and returns the joined errors.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, d := range r.Devices() {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}
