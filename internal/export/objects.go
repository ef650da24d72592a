package export

import (
	dbus "github.com/godbus/dbus/v5"
)

// object is the shared part of every exported node. It keeps the path only;
// the node is resolved through the tree on each call.
type object struct {
	e    *Exporter
	path string
}

func (o object) readValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	opts := DecodeOptions(options)
	var (
		data []byte
		err  error
	)
	if lerr := o.e.run(func() {
		v, rerr := o.e.handler.Read(o.path, opts)
		if rerr != nil {
			err = rerr
			return
		}
		data, err = applyOffset(v.Bytes(), opts.Offset)
	}); lerr != nil {
		err = lerr
	}
	if err != nil {
		return nil, o.e.reply(o.path, "ReadValue", err)
	}
	return data, nil
}

func (o object) writeValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	opts := DecodeOptions(options)
	var err error
	if lerr := o.e.run(func() { err = o.e.handler.Write(o.path, value, opts) }); lerr != nil {
		err = lerr
	}
	if err != nil {
		return o.e.reply(o.path, "WriteValue", err)
	}
	return nil
}

type serviceObject struct{ object }

type characteristicObject struct{ object }

func (c *characteristicObject) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return c.readValue(options)
}

func (c *characteristicObject) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	return c.writeValue(value, options)
}

func (c *characteristicObject) StartNotify() *dbus.Error {
	return c.subscribe("StartNotify", c.e.state.Start)
}

func (c *characteristicObject) StopNotify() *dbus.Error {
	return c.subscribe("StopNotify", c.e.state.Stop)
}

func (c *characteristicObject) subscribe(method string, op func(string) error) *dbus.Error {
	var err error
	if lerr := c.e.run(func() { err = op(c.path) }); lerr != nil {
		err = lerr
	}
	if err != nil {
		return c.e.reply(c.path, method, err)
	}
	return nil
}

type descriptorObject struct{ object }

func (d *descriptorObject) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	return d.readValue(options)
}

func (d *descriptorObject) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	return d.writeValue(value, options)
}

// objectManager serves GetManagedObjects at the application root.
type objectManager struct {
	e *Exporter
}

func (m *objectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := m.e.run(func() { objects = ManagedObjects(m.e.tree, m.e.state) }); err != nil {
		return nil, m.e.reply(m.e.tree.Root(), "GetManagedObjects", err)
	}
	return objects, nil
}
