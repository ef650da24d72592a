// Package devevent fans BlueZ device property changes out to application callbacks.
package devevent

import (
	"sync"

	"github.com/srg/gattd/pkg/gatt"
)

// Registry maps a device property to its callbacks in registration order.
type Registry struct {
	mu        sync.RWMutex
	callbacks map[gatt.DeviceProperty][]gatt.DevicePropertyCallback
}

func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[gatt.DeviceProperty][]gatt.DevicePropertyCallback)}
}

// Add appends cb to the callbacks of prop. Nil callbacks are ignored.
func (r *Registry) Add(prop gatt.DeviceProperty, cb gatt.DevicePropertyCallback) {
	if cb == nil {
		return
	}
	r.mu.Lock()
	r.callbacks[prop] = append(r.callbacks[prop], cb)
	r.mu.Unlock()
}

// Callbacks returns a copy of the callbacks registered for prop.
func (r *Registry) Callbacks(prop gatt.DeviceProperty) []gatt.DevicePropertyCallback {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]gatt.DevicePropertyCallback(nil), r.callbacks[prop]...)
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, cbs := range r.callbacks {
		n += len(cbs)
	}
	return n
}
