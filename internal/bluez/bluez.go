// Package bluez holds the BlueZ D-Bus names the peripheral talks to and the
// small set of bluetoothd endpoints it calls: GattManager1 and
// LEAdvertisingManager1.
package bluez

import (
	"strings"

	dbus "github.com/godbus/dbus/v5"
)

// Well-known names.
const (
	Service = "org.bluez"

	GattManagerIface        = "org.bluez.GattManager1"
	GattServiceIface        = "org.bluez.GattService1"
	GattCharacteristicIface = "org.bluez.GattCharacteristic1"
	GattDescriptorIface     = "org.bluez.GattDescriptor1"
	AdvertisingManagerIface = "org.bluez.LEAdvertisingManager1"
	AdvertisementIface      = "org.bluez.LEAdvertisement1"
	DeviceIface             = "org.bluez.Device1"
	PropertiesIface         = "org.freedesktop.DBus.Properties"
	PropertiesChangedSignal = PropertiesIface + ".PropertiesChanged"
	PropertiesChangedMember = "PropertiesChanged"
	ObjectManagerIface      = "org.freedesktop.DBus.ObjectManager"
	IntrospectableIface     = "org.freedesktop.DBus.Introspectable"
	DefaultAdapter          = "hci0"
	adapterPrefix           = "/org/bluez/"
)

// Error names returned to the peer.
const (
	ErrorFailed             = "org.bluez.Error.Failed"
	ErrorNotSupported       = "org.bluez.Error.NotSupported"
	ErrorNotPermitted       = "org.bluez.Error.NotPermitted"
	ErrorNotAuthorized      = "org.bluez.Error.NotAuthorized"
	ErrorInvalidValueLength = "org.bluez.Error.InvalidValueLength"
	ErrorInvalidOffset      = "org.bluez.Error.InvalidOffset"
	ErrorInProgress         = "org.bluez.Error.InProgress"
	ErrorUnknownObject      = "org.freedesktop.DBus.Error.UnknownObject"
)

// AdapterPath returns the object path of a local adapter, e.g. "hci0" ->
// /org/bluez/hci0. An empty name selects DefaultAdapter; a full path is
// returned unchanged.
func AdapterPath(name string) dbus.ObjectPath {
	switch {
	case name == "":
		name = DefaultAdapter
	case strings.HasPrefix(name, "/"):
		return dbus.ObjectPath(name)
	}
	return dbus.ObjectPath(adapterPrefix + name)
}

// DeviceAddress extracts the MAC address from a device object path such as
// /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF. It returns "" for other paths.
func DeviceAddress(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(s[i+len("/dev_"):], "_", ":")
}
