// Package bledb names well-known Bluetooth SIG UUIDs for display.
//
// The tables cover the assigned numbers a GATT peripheral commonly serves;
// unknown UUIDs resolve to "".
package bledb

import "strings"

const sigBaseSuffix = "00001000800000805f9b34fb"

var services = map[string]string{
	"1800":                             "Generic Access",
	"1801":                             "Generic Attribute",
	"1802":                             "Immediate Alert",
	"1803":                             "Link Loss",
	"1804":                             "Tx Power",
	"1805":                             "Current Time",
	"1809":                             "Health Thermometer",
	"180a":                             "Device Information",
	"180d":                             "Heart Rate",
	"180f":                             "Battery Service",
	"1812":                             "Human Interface Device",
	"1816":                             "Cycling Speed and Cadence",
	"181a":                             "Environmental Sensing",
	"181c":                             "User Data",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00":                             "Device Name",
	"2a01":                             "Appearance",
	"2a04":                             "Peripheral Preferred Connection Parameters",
	"2a05":                             "Service Changed",
	"2a06":                             "Alert Level",
	"2a07":                             "Tx Power Level",
	"2a19":                             "Battery Level",
	"2a23":                             "System ID",
	"2a24":                             "Model Number String",
	"2a25":                             "Serial Number String",
	"2a26":                             "Firmware Revision String",
	"2a27":                             "Hardware Revision String",
	"2a28":                             "Software Revision String",
	"2a29":                             "Manufacturer Name String",
	"2a2b":                             "Current Time",
	"2a37":                             "Heart Rate Measurement",
	"2a38":                             "Body Sensor Location",
	"2a6e":                             "Temperature",
	"2a6f":                             "Humidity",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Descriptor",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
	"2905": "Characteristic Aggregate Format",
	"2906": "Valid Range",
}

var appearances = map[uint16]string{
	0x0000: "Unknown",
	0x0040: "Generic Phone",
	0x0080: "Generic Computer",
	0x00c0: "Generic Watch",
	0x0340: "Generic Heart Rate Sensor",
	0x03c0: "Generic Human Interface Device",
	0x0540: "Generic Sensor",
}

// NormalizeUUID lowercases uuid and strips "0x", braces and dashes. UUIDs on
// the Bluetooth base are shortened to their 16-bit (or 32-bit) form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.Trim(u, "{}")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasSuffix(u, sigBaseSuffix) {
		u = strings.TrimPrefix(u[:8], "0000")
	}
	return u
}

// NormalizeUUIDs normalizes every element of uuids.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

func LookupService(uuid string) string        { return services[NormalizeUUID(uuid)] }
func LookupCharacteristic(uuid string) string { return characteristics[NormalizeUUID(uuid)] }
func LookupDescriptor(uuid string) string     { return descriptors[NormalizeUUID(uuid)] }

// LookupAppearanceCode names a GAP appearance value.
func LookupAppearanceCode(code uint16) string { return appearances[code] }
