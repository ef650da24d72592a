package bus

import (
	"errors"
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIface = "org.bluez.GattCharacteristic1"

func TestProperties(t *testing.T) {
	calls := 0
	source := func() map[string]dbus.Variant {
		calls++
		return map[string]dbus.Variant{"UUID": dbus.MakeVariant("2a30")}
	}
	p := NewProperties(testIface, source, nil)

	v, derr := p.Get(testIface, "UUID")
	require.Nil(t, derr)
	assert.Equal(t, "2a30", v.Value())

	_, derr = p.Get(testIface, "Value")
	assert.Equal(t, prop.ErrPropNotFound, derr)

	_, derr = p.Get("org.bluez.GattService1", "UUID")
	assert.Equal(t, prop.ErrIfaceNotFound, derr)

	all, derr := p.GetAll(testIface)
	require.Nil(t, derr)
	assert.Len(t, all, 1)
	assert.Equal(t, 3, calls, "source MUST be evaluated on every lookup of the served interface")

	assert.Equal(t, prop.ErrReadOnly, p.Set(testIface, "UUID", dbus.MakeVariant("x")))
	assert.Equal(t, prop.ErrIfaceNotFound, p.Set("other", "UUID", dbus.MakeVariant("x")))
}

func TestProperties_RunsThroughRunner(t *testing.T) {
	ran := 0
	run := func(fn func()) error { ran++; fn(); return nil }
	p := NewProperties(testIface, func() map[string]dbus.Variant { return nil }, run)

	_, derr := p.GetAll(testIface)
	require.Nil(t, derr)
	assert.Equal(t, 1, ran)

	p = NewProperties(testIface, func() map[string]dbus.Variant { return nil },
		func(func()) error { return errors.New("loop stopped") })
	_, derr = p.GetAll(testIface)
	require.NotNil(t, derr)
	assert.Equal(t, "org.freedesktop.DBus.Error.Failed", derr.Name)
}
