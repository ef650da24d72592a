package export

import (
	"encoding/hex"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/pkg/gatt"
)

// State is the per-characteristic subscriber state. *notify.Engine implements it.
type State interface {
	Start(path string) error
	Stop(path string) error
	Notifying(path string) bool
	Last(path string) (gatt.Value, bool)
}

// Interface returns the BlueZ interface a node is exported under.
func Interface(n gatt.Node) string {
	switch n.Kind() {
	case gatt.KindService:
		return bluez.GattServiceIface
	case gatt.KindCharacteristic:
		return bluez.GattCharacteristicIface
	default:
		return bluez.GattDescriptorIface
	}
}

// propertyOrder fixes the order properties are listed in snapshots.
var propertyOrder = map[gatt.NodeKind][]string{
	gatt.KindService:        {"UUID", "Primary", "Characteristics"},
	gatt.KindCharacteristic: {"UUID", "Service", "Flags", "Descriptors", "Notifying", "Value"},
	gatt.KindDescriptor:     {"UUID", "Characteristic", "Flags"},
}

// Properties returns the D-Bus properties of n. state may be nil, in which
// case Notifying is false and only static values are reported.
func Properties(n gatt.Node, state State) map[string]dbus.Variant {
	props := map[string]dbus.Variant{
		"UUID": dbus.MakeVariant(n.UUID()),
	}
	switch node := n.(type) {
	case *gatt.Service:
		props["Primary"] = dbus.MakeVariant(node.Primary())
		props["Characteristics"] = dbus.MakeVariant(childPaths(node.Characteristics()))

	case *gatt.Characteristic:
		props["Service"] = dbus.MakeVariant(dbus.ObjectPath(node.Service().Path()))
		props["Flags"] = dbus.MakeVariant(node.Flags().Strings())
		props["Descriptors"] = dbus.MakeVariant(childPaths(node.Descriptors()))
		if node.Flags().CanNotify() {
			props["Notifying"] = dbus.MakeVariant(state != nil && state.Notifying(node.Path()))
		}
		if v, ok := lastValue(node, state); ok {
			props["Value"] = dbus.MakeVariant(v.Bytes())
		}

	case *gatt.Descriptor:
		props["Characteristic"] = dbus.MakeVariant(dbus.ObjectPath(node.Characteristic().Path()))
		props["Flags"] = dbus.MakeVariant(node.Flags().Strings())
	}
	return props
}

func lastValue(c *gatt.Characteristic, state State) (gatt.Value, bool) {
	if state != nil {
		if v, ok := state.Last(c.Path()); ok {
			return v, true
		}
	}
	return c.Static()
}

func childPaths[N gatt.Node](nodes []N) []dbus.ObjectPath {
	paths := make([]dbus.ObjectPath, 0, len(nodes))
	for _, n := range nodes {
		paths = append(paths, dbus.ObjectPath(n.Path()))
	}
	return paths
}

// ManagedObjects builds the GetManagedObjects reply for tree.
func ManagedObjects(tree *gatt.Tree, state State) map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, len(tree.Paths()))
	for _, p := range tree.Paths() {
		n, _ := tree.Lookup(p)
		objects[dbus.ObjectPath(p)] = map[string]map[string]dbus.Variant{
			Interface(n): Properties(n, state),
		}
	}
	return objects
}

// NodeSnapshot is the ordered, JSON-friendly view of one exported object.
type NodeSnapshot = *orderedmap.OrderedMap[string, interface{}]

// Snapshot returns every object of tree in path order with its interface and
// properties in a fixed order. Object paths become strings and byte values
// become hex.
func Snapshot(tree *gatt.Tree, state State) *orderedmap.OrderedMap[string, NodeSnapshot] {
	out := orderedmap.New[string, NodeSnapshot]()
	for _, p := range tree.Paths() {
		n, _ := tree.Lookup(p)
		props := Properties(n, state)

		node := orderedmap.New[string, interface{}]()
		node.Set("Interface", Interface(n))
		for _, key := range propertyOrder[n.Kind()] {
			v, ok := props[key]
			if !ok {
				continue
			}
			node.Set(key, plain(v.Value()))
		}
		out.Set(p, node)
	}
	return out
}

func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case dbus.ObjectPath:
		return string(t)
	case []dbus.ObjectPath:
		s := make([]string, len(t))
		for i, p := range t {
			s[i] = string(p)
		}
		return s
	case []byte:
		return hex.EncodeToString(t)
	default:
		return v
	}
}

var objectManagerIntrospection = introspect.Interface{
	Name: bluez.ObjectManagerIface,
	Methods: []introspect.Method{{
		Name: "GetManagedObjects",
		Args: []introspect.Arg{{Name: "objects", Type: "a{oa{sa{sv}}}", Direction: "out"}},
	}},
	Signals: []introspect.Signal{
		{Name: "InterfacesAdded", Args: []introspect.Arg{
			{Name: "object", Type: "o"}, {Name: "interfaces", Type: "a{sa{sv}}"},
		}},
		{Name: "InterfacesRemoved", Args: []introspect.Arg{
			{Name: "object", Type: "o"}, {Name: "interfaces", Type: "as"},
		}},
	},
}

var (
	readValueMethod = introspect.Method{Name: "ReadValue", Args: []introspect.Arg{
		{Name: "options", Type: "a{sv}", Direction: "in"},
		{Name: "value", Type: "ay", Direction: "out"},
	}}
	writeValueMethod = introspect.Method{Name: "WriteValue", Args: []introspect.Arg{
		{Name: "value", Type: "ay", Direction: "in"},
		{Name: "options", Type: "a{sv}", Direction: "in"},
	}}
)

func nodeIntrospection(n gatt.Node) introspect.Interface {
	ro := func(name, typ string) introspect.Property {
		return introspect.Property{Name: name, Type: typ, Access: "read"}
	}
	iface := introspect.Interface{Name: Interface(n)}
	switch n.Kind() {
	case gatt.KindService:
		iface.Properties = []introspect.Property{ro("UUID", "s"), ro("Primary", "b"), ro("Characteristics", "ao")}
	case gatt.KindCharacteristic:
		iface.Methods = []introspect.Method{readValueMethod, writeValueMethod, {Name: "StartNotify"}, {Name: "StopNotify"}}
		iface.Properties = []introspect.Property{
			ro("UUID", "s"), ro("Service", "o"), ro("Flags", "as"), ro("Descriptors", "ao"),
			ro("Notifying", "b"), ro("Value", "ay"),
		}
	case gatt.KindDescriptor:
		iface.Methods = []introspect.Method{readValueMethod, writeValueMethod}
		iface.Properties = []introspect.Property{ro("UUID", "s"), ro("Characteristic", "o"), ro("Flags", "as")}
	}
	return iface
}

func introspection(name string, iface *introspect.Interface, children []string) introspect.Introspectable {
	node := &introspect.Node{
		Name:       name,
		Interfaces: []introspect.Interface{introspect.IntrospectData, prop.IntrospectData},
	}
	if iface != nil {
		node.Interfaces = append(node.Interfaces, *iface)
	}
	for _, c := range children {
		node.Children = append(node.Children, introspect.Node{Name: c})
	}
	return introspect.NewIntrospectable(node)
}
