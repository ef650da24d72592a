package devevent

import (
	"fmt"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/gattd/pkg/gatt"
)

// UnexpectedValueError reports a device property that arrived in a
// representation other than the one expected for it.
type UnexpectedValueError struct {
	Device    string
	Property  gatt.DeviceProperty
	Expected  gatt.Kind // KindInvalid for properties without a fixed kind
	Signature string    // D-Bus signature of the received value
}

func (e *UnexpectedValueError) Error() string {
	if e.Expected == gatt.KindInvalid {
		return fmt.Sprintf("device %s: property %s: unsupported representation %q", e.Device, e.Property, e.Signature)
	}
	return fmt.Sprintf("device %s: property %s: expected %s, got %q", e.Device, e.Property, e.Expected, e.Signature)
}

// Decode converts a received property value. Known properties must carry
// their BlueZ representation: b for flags, s for names, n (int16) for RSSI
// and TxPower, q for MTU. Other properties accept any scalar or byte array.
func Decode(device string, prop gatt.DeviceProperty, v dbus.Variant) (gatt.Value, error) {
	mismatch := func(expected gatt.Kind) error {
		return &UnexpectedValueError{Device: device, Property: prop, Expected: expected, Signature: v.Signature().String()}
	}

	expected, known := prop.ExpectedKind()
	val := gatt.Value{}
	switch raw := v.Value().(type) {
	case bool:
		val = gatt.Bool(raw)
	case string:
		val = gatt.String(raw)
	case int16:
		val = gatt.Int32(int32(raw))
	case int32:
		val = gatt.Int32(raw)
	case int64:
		val = gatt.Int64(raw)
	case uint8:
		val = gatt.Uint8(raw)
	case uint16:
		val = gatt.Uint16(raw)
	case uint32:
		val = gatt.Uint32(raw)
	case []byte:
		val = gatt.Bytes(raw)
	default:
		return gatt.Value{}, mismatch(expected)
	}

	if !known {
		return val, nil
	}
	if val.Kind() != expected {
		return gatt.Value{}, mismatch(expected)
	}
	// RSSI and TxPower are int16 on the wire; an int32 there is a mismatch.
	if expected == gatt.KindInt32 {
		if _, ok := v.Value().(int16); !ok {
			return gatt.Value{}, mismatch(expected)
		}
	}
	return val, nil
}
