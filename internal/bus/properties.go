package bus

import (
	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
)

// PropertiesIface is the standard properties interface name.
const PropertiesIface = "org.freedesktop.DBus.Properties"

// Properties serves org.freedesktop.DBus.Properties for one object whose
// single interface has read-only, computed properties.
type Properties struct {
	iface  string
	source func() map[string]dbus.Variant
	run    func(fn func()) error
}

// NewProperties returns a Properties object for iface. source is evaluated on
// every Get/GetAll through run, which may be nil to call it directly.
func NewProperties(iface string, source func() map[string]dbus.Variant, run func(fn func()) error) *Properties {
	return &Properties{iface: iface, source: source, run: run}
}

func (p *Properties) snapshot() (map[string]dbus.Variant, *dbus.Error) {
	if p.run == nil {
		return p.source(), nil
	}
	var props map[string]dbus.Variant
	if err := p.run(func() { props = p.source() }); err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	return props, nil
}

func (p *Properties) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	if iface != p.iface {
		return dbus.Variant{}, prop.ErrIfaceNotFound
	}
	props, derr := p.snapshot()
	if derr != nil {
		return dbus.Variant{}, derr
	}
	v, ok := props[name]
	if !ok {
		return dbus.Variant{}, prop.ErrPropNotFound
	}
	return v, nil
}

func (p *Properties) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != p.iface {
		return nil, prop.ErrIfaceNotFound
	}
	return p.snapshot()
}

// Set always fails: every exported property is read-only.
func (p *Properties) Set(iface, name string, value dbus.Variant) *dbus.Error {
	if iface != p.iface {
		return prop.ErrIfaceNotFound
	}
	return prop.ErrReadOnly
}
