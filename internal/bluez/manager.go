package bluez

import (
	"context"
	"fmt"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/gattd/internal/bus"
)

// Manager calls the GATT and advertising managers of one adapter.
type Manager struct {
	bus     bus.Bus
	adapter dbus.ObjectPath
	timeout time.Duration
}

// NewManager returns a manager for adapter. A zero timeout leaves calls
// bounded only by the caller's context.
func NewManager(b bus.Bus, adapter dbus.ObjectPath, timeout time.Duration) *Manager {
	return &Manager{bus: b, adapter: adapter, timeout: timeout}
}

// Adapter returns the adapter object path.
func (m *Manager) Adapter() dbus.ObjectPath { return m.adapter }

func (m *Manager) call(ctx context.Context, method string, args ...interface{}) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	if err := m.bus.Call(ctx, Service, m.adapter, method, args...); err != nil {
		return fmt.Errorf("bluez: %s: %w", method, err)
	}
	return nil
}

// RegisterApplication registers the object tree rooted at app. bluetoothd
// calls GetManagedObjects on app before replying, so the caller must already
// be serving the dispatch loop.
func (m *Manager) RegisterApplication(ctx context.Context, app dbus.ObjectPath) error {
	return m.call(ctx, GattManagerIface+".RegisterApplication", app, map[string]dbus.Variant{})
}

func (m *Manager) UnregisterApplication(ctx context.Context, app dbus.ObjectPath) error {
	return m.call(ctx, GattManagerIface+".UnregisterApplication", app)
}

func (m *Manager) RegisterAdvertisement(ctx context.Context, adv dbus.ObjectPath) error {
	return m.call(ctx, AdvertisingManagerIface+".RegisterAdvertisement", adv, map[string]dbus.Variant{})
}

func (m *Manager) UnregisterAdvertisement(ctx context.Context, adv dbus.ObjectPath) error {
	return m.call(ctx, AdvertisingManagerIface+".UnregisterAdvertisement", adv)
}
