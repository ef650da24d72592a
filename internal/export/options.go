package export

import (
	"fmt"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/gattd/pkg/gatt"
)

// DecodeOptions extracts the well-known ReadValue/WriteValue options. Keys
// with an unexpected type are left out of the typed fields; every key stays
// available in Raw.
func DecodeOptions(options map[string]dbus.Variant) gatt.Options {
	var opts gatt.Options
	if len(options) == 0 {
		return opts
	}
	opts.Raw = make(map[string]interface{}, len(options))
	for k, v := range options {
		val := v.Value()
		opts.Raw[k] = val
		switch k {
		case "offset":
			opts.Offset, _ = val.(uint16)
		case "mtu":
			opts.MTU, _ = val.(uint16)
		case "device":
			if p, ok := val.(dbus.ObjectPath); ok {
				opts.Device = string(p)
			}
		case "link":
			opts.Link, _ = val.(string)
		case "type":
			opts.Type, _ = val.(string)
		case "prepare-authorize":
			opts.PrepareAuthorize, _ = val.(bool)
		}
	}
	return opts
}

func applyOffset(data []byte, offset uint16) ([]byte, error) {
	if int(offset) > len(data) {
		return nil, fmt.Errorf("%w: offset %d past %d bytes", gatt.ErrInvalidOffset, offset, len(data))
	}
	return data[offset:], nil
}
