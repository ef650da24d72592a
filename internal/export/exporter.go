// Package export publishes a GATT tree as BlueZ application objects and
// routes the peer's calls on them onto the dispatch loop.
package export

import (
	"context"
	"fmt"
	"path"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/internal/bus"
	"github.com/srg/gattd/pkg/gatt"
)

// Handler performs reads and writes. *dispatch.Dispatcher implements it.
type Handler interface {
	Read(path string, opts gatt.Options) (gatt.Value, error)
	Write(path string, data []byte, opts gatt.Options) error
}

// Runner runs work on the dispatch loop and waits for it. *bus.Loop implements it.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

type exportKey struct {
	path  dbus.ObjectPath
	iface string
}

// Exporter owns the exported objects of one tree on one bus.
type Exporter struct {
	bus     bus.Bus
	tree    *gatt.Tree
	handler Handler
	state   State
	loop    Runner
	logger  *logrus.Logger

	exported []exportKey
}

// New creates an exporter; nothing is published until Export.
func New(b bus.Bus, tree *gatt.Tree, handler Handler, state State, loop Runner, logger *logrus.Logger) *Exporter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Exporter{bus: b, tree: tree, handler: handler, state: state, loop: loop, logger: logger}
}

// Export publishes the root object manager and every node. On failure the
// objects exported so far are removed again.
func (e *Exporter) Export() error {
	root := dbus.ObjectPath(e.tree.Root())
	var services []string
	for _, s := range e.tree.Services() {
		services = append(services, s.Name())
	}
	if err := e.export(&objectManager{e: e}, root, bluez.ObjectManagerIface); err != nil {
		return err
	}
	if err := e.export(introspection(string(root), &objectManagerIntrospection, services), root, bluez.IntrospectableIface); err != nil {
		return err
	}

	for _, p := range e.tree.Paths() {
		n, _ := e.tree.Lookup(p)
		if err := e.exportNode(n); err != nil {
			return err
		}
	}
	e.logger.WithFields(logrus.Fields{"root": root, "objects": len(e.tree.Paths())}).Info("GATT application exported")
	return nil
}

func (e *Exporter) exportNode(n gatt.Node) error {
	p := dbus.ObjectPath(n.Path())
	o := object{e: e, path: n.Path()}

	var methods interface{}
	var children []string
	switch node := n.(type) {
	case *gatt.Service:
		methods = &serviceObject{o}
		for _, c := range node.Characteristics() {
			children = append(children, c.Name())
		}
	case *gatt.Characteristic:
		methods = &characteristicObject{o}
		for _, d := range node.Descriptors() {
			children = append(children, d.Name())
		}
	case *gatt.Descriptor:
		methods = &descriptorObject{o}
	default:
		return fmt.Errorf("export: unexpected node %T at %s", n, n.Path())
	}

	iface := nodeIntrospection(n)
	source := func() map[string]dbus.Variant { return Properties(n, e.state) }
	for _, x := range []struct {
		v     interface{}
		iface string
	}{
		{methods, Interface(n)},
		{bus.NewProperties(Interface(n), source, e.run), bluez.PropertiesIface},
		{introspection(path.Base(n.Path()), &iface, children), bluez.IntrospectableIface},
	} {
		if err := e.export(x.v, p, x.iface); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) export(v interface{}, p dbus.ObjectPath, iface string) error {
	if err := e.bus.Export(v, p, iface); err != nil {
		e.Unexport()
		return fmt.Errorf("export: %s at %s: %w", iface, p, err)
	}
	e.exported = append(e.exported, exportKey{path: p, iface: iface})
	return nil
}

// Unexport removes every object published by Export.
func (e *Exporter) Unexport() {
	for i := len(e.exported) - 1; i >= 0; i-- {
		k := e.exported[i]
		if err := e.bus.Export(nil, k.path, k.iface); err != nil {
			e.logger.WithFields(logrus.Fields{"path": k.path, "iface": k.iface, "error": err}).Warn("Failed to unexport")
		}
	}
	if len(e.exported) > 0 {
		e.logger.WithField("root", e.tree.Root()).Debug("GATT application unexported")
	}
	e.exported = nil
}

// EmitValue sends the value-changed signal for a characteristic.
func (e *Exporter) EmitValue(p string, data []byte) error {
	return e.bus.Emit(dbus.ObjectPath(p), bluez.PropertiesChangedSignal,
		bluez.GattCharacteristicIface,
		map[string]dbus.Variant{"Value": dbus.MakeVariant(data)},
		[]string{},
	)
}

// run executes fn on the dispatch loop; inbound calls carry no deadline.
func (e *Exporter) run(fn func()) error {
	return e.loop.Do(context.Background(), fn)
}

// reply logs a failed call and converts it to a D-Bus error.
func (e *Exporter) reply(p, method string, err error) *dbus.Error {
	derr := DBusError(err)
	log := e.logger.WithFields(logrus.Fields{"path": p, "method": method, "error": derr.Name})
	if derr.Name == bluez.ErrorFailed {
		log.WithError(err).Warn("Call failed")
	} else {
		log.Debug(err.Error())
	}
	return derr
}
