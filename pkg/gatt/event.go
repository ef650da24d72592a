package gatt

// DeviceProperty names a property of a BlueZ device object (org.bluez.Device1).
type DeviceProperty string

// Known device properties. Any other name may be registered too; its value
// is then delivered in whatever representation the peer sent.
const (
	PropConnected        DeviceProperty = "Connected"
	PropServicesResolved DeviceProperty = "ServicesResolved"
	PropPaired           DeviceProperty = "Paired"
	PropBonded           DeviceProperty = "Bonded"
	PropTrusted          DeviceProperty = "Trusted"
	PropBlocked          DeviceProperty = "Blocked"
	PropName             DeviceProperty = "Name"
	PropAlias            DeviceProperty = "Alias"
	PropRSSI             DeviceProperty = "RSSI"
	PropTxPower          DeviceProperty = "TxPower"
	PropMTU              DeviceProperty = "MTU"
)

// ExpectedKind returns the representation a known property must have.
// Unknown properties report false.
func (p DeviceProperty) ExpectedKind() (Kind, bool) {
	switch p {
	case PropConnected, PropServicesResolved, PropPaired, PropBonded, PropTrusted, PropBlocked:
		return KindBool, true
	case PropName, PropAlias:
		return KindString, true
	case PropRSSI, PropTxPower:
		return KindInt32, true
	case PropMTU:
		return KindUint16, true
	default:
		return KindInvalid, false
	}
}

// DeviceEvent is one property change of a remote device.
type DeviceEvent struct {
	Device   string // object path of the device, e.g. /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF
	Property DeviceProperty
	Value    Value
}

// Connected reports the value of a Connected event.
// ok is false for any other property.
func (e DeviceEvent) Connected() (connected, ok bool) {
	if e.Property != PropConnected {
		return false, false
	}
	return e.Value.AsBool()
}

// DevicePropertyCallback receives device property changes on the dispatch loop.
type DevicePropertyCallback func(DeviceEvent)
