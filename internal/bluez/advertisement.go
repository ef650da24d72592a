package bluez

import (
	"fmt"
	"sync"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattd/internal/bus"
)

// AdvertisementConfig is the content of an LE advertisement.
type AdvertisementConfig struct {
	Type             string // "peripheral" or "broadcast"
	LocalName        string
	ServiceUUIDs     []string
	Appearance       uint16
	ManufacturerID   uint16
	ManufacturerData []byte
	IncludeTxPower   bool
	Discoverable     bool
	Timeout          uint16 // seconds, 0 = no timeout
}

// Advertisement is an org.bluez.LEAdvertisement1 object.
type Advertisement struct {
	path   dbus.ObjectPath
	cfg    AdvertisementConfig
	logger *logrus.Logger

	mu       sync.Mutex
	released bool
}

// NewAdvertisement creates an advertisement at path.
func NewAdvertisement(path dbus.ObjectPath, cfg AdvertisementConfig, logger *logrus.Logger) *Advertisement {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Type == "" {
		cfg.Type = "peripheral"
	}
	return &Advertisement{path: path, cfg: cfg, logger: logger}
}

func (a *Advertisement) Path() dbus.ObjectPath { return a.path }

// Released reports whether bluetoothd released the advertisement.
func (a *Advertisement) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// Properties returns the LEAdvertisement1 properties; empty fields are omitted.
func (a *Advertisement) Properties() map[string]dbus.Variant {
	props := map[string]dbus.Variant{
		"Type": dbus.MakeVariant(a.cfg.Type),
	}
	if len(a.cfg.ServiceUUIDs) > 0 {
		props["ServiceUUIDs"] = dbus.MakeVariant(a.cfg.ServiceUUIDs)
	}
	if a.cfg.LocalName != "" {
		props["LocalName"] = dbus.MakeVariant(a.cfg.LocalName)
	}
	if a.cfg.Appearance != 0 {
		props["Appearance"] = dbus.MakeVariant(a.cfg.Appearance)
	}
	if len(a.cfg.ManufacturerData) > 0 {
		props["ManufacturerData"] = dbus.MakeVariant(map[uint16]dbus.Variant{
			a.cfg.ManufacturerID: dbus.MakeVariant(a.cfg.ManufacturerData),
		})
	}
	if a.cfg.IncludeTxPower {
		props["Includes"] = dbus.MakeVariant([]string{"tx-power"})
	}
	if a.cfg.Discoverable {
		props["Discoverable"] = dbus.MakeVariant(true)
	}
	if a.cfg.Timeout != 0 {
		props["Timeout"] = dbus.MakeVariant(a.cfg.Timeout)
	}
	return props
}

// Release is called by bluetoothd when it drops the advertisement.
func (a *Advertisement) Release() *dbus.Error {
	a.mu.Lock()
	a.released = true
	a.mu.Unlock()
	a.logger.WithField("path", a.path).Info("Advertisement released by bluetoothd")
	return nil
}

func (a *Advertisement) introspection() introspect.Introspectable {
	return introspect.NewIntrospectable(&introspect.Node{
		Name: string(a.path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:    AdvertisementIface,
				Methods: []introspect.Method{{Name: "Release"}},
				Properties: []introspect.Property{
					{Name: "Type", Type: "s", Access: "read"},
					{Name: "ServiceUUIDs", Type: "as", Access: "read"},
					{Name: "LocalName", Type: "s", Access: "read"},
					{Name: "Appearance", Type: "q", Access: "read"},
					{Name: "ManufacturerData", Type: "a{qv}", Access: "read"},
					{Name: "Includes", Type: "as", Access: "read"},
					{Name: "Discoverable", Type: "b", Access: "read"},
					{Name: "Timeout", Type: "q", Access: "read"},
				},
			},
		},
	})
}

// Export publishes the advertisement on b.
func (a *Advertisement) Export(b bus.Bus) error {
	exports := []struct {
		v     interface{}
		iface string
	}{
		{a, AdvertisementIface},
		{bus.NewProperties(AdvertisementIface, a.Properties, nil), PropertiesIface},
		{a.introspection(), IntrospectableIface},
	}
	for _, e := range exports {
		if err := b.Export(e.v, a.path, e.iface); err != nil {
			a.Unexport(b)
			return fmt.Errorf("bluez: export advertisement %s: %w", e.iface, err)
		}
	}
	return nil
}

// Unexport removes the advertisement from b.
func (a *Advertisement) Unexport(b bus.Bus) {
	for _, iface := range []string{AdvertisementIface, PropertiesIface, IntrospectableIface} {
		_ = b.Export(nil, a.path, iface)
	}
}
