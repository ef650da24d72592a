package export

import (
	"errors"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/pkg/gatt"
)

var errorNames = []struct {
	target error
	name   string
}{
	{gatt.ErrNotSupported, bluez.ErrorNotSupported},
	{gatt.ErrUnknownPath, bluez.ErrorUnknownObject},
	{gatt.ErrNotPermitted, bluez.ErrorNotPermitted},
	{gatt.ErrNotAuthorized, bluez.ErrorNotAuthorized},
	{gatt.ErrInvalidValueLength, bluez.ErrorInvalidValueLength},
	{gatt.ErrInvalidOffset, bluez.ErrorInvalidOffset},
	{gatt.ErrInProgress, bluez.ErrorInProgress},
}

// DBusError converts an operation error into the reply sent to the peer.
// Configuration faults, a stopped loop and unclassified accessor failures
// all become org.bluez.Error.Failed.
func DBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	var derr *dbus.Error
	if errors.As(err, &derr) {
		return derr
	}
	name := bluez.ErrorFailed
	if !gatt.IsConfigurationError(err) {
		for _, e := range errorNames {
			if errors.Is(err, e.target) {
				name = e.name
				break
			}
		}
	}
	return dbus.NewError(name, []interface{}{err.Error()})
}
