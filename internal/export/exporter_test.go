package export_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/internal/bus"
	"github.com/srg/gattd/internal/dispatch"
	"github.com/srg/gattd/internal/export"
	"github.com/srg/gattd/internal/notify"
	"github.com/srg/gattd/internal/testutils"
	"github.com/srg/gattd/pkg/gatt"
)

const (
	root      = "/dbus_gatt/example"
	service   = root + "/device"
	testChar  = service + "/test_char"
	readOnly  = service + "/test_read_only_value"
	writeOnly = service + "/write_only"
	descPath  = testChar + "/desc"
)

type ExporterTestSuite struct {
	suite.Suite

	bus      *testutils.FakeBus
	loop     *bus.Loop
	engine   *notify.Engine
	exporter *export.Exporter
	tree     *gatt.Tree
	cancel   context.CancelFunc
	exited   chan struct{}

	writes    [][]byte
	failWrite bool
}

func (suite *ExporterTestSuite) SetupTest() {
	helper := testutils.NewTestHelper(suite.T())
	suite.writes = nil
	suite.failWrite = false

	write := func(data []byte) (int32, error) {
		suite.writes = append(suite.writes, data)
		if suite.failWrite {
			return 1, nil
		}
		return 0, nil
	}

	var err error
	suite.tree, err = gatt.Build(root,
		gatt.NewService("device", "0000180a-0000-1000-8000-00805f9b34fb",
			gatt.NewCharacteristic("test_char", "00002a30-0000-1000-8000-00805f9b34fb", gatt.Read|gatt.Write|gatt.Notify,
				func() (gatt.Value, error) { return gatt.Int32(1000), nil }, write,
				gatt.ReadOnlyDescriptor("desc", "2901", gatt.String("test"))),
			gatt.ReadOnlyValue("test_read_only_value", "00002a31-0000-1000-8000-00805f9b34fb", gatt.Read, gatt.Int32(1234)),
			gatt.NewCharacteristic("write_only", "2a32", gatt.Write, nil, write),
		))
	suite.Require().NoError(err)

	suite.bus = testutils.NewFakeBus()
	suite.loop = bus.NewLoop(helper.Logger)
	suite.engine = notify.New(suite.tree, suite.loop, helper.Logger)
	dispatcher := dispatch.New(suite.tree, suite.engine, helper.Logger)
	suite.exporter = export.New(suite.bus, suite.tree, dispatcher, suite.engine, suite.loop, helper.Logger)
	suite.engine.Attach(suite.exporter)
	suite.Require().NoError(suite.exporter.Export())

	var ctx context.Context
	ctx, suite.cancel = context.WithCancel(context.Background())
	suite.exited = make(chan struct{})
	go func() {
		defer close(suite.exited)
		_ = suite.loop.Run(ctx)
	}()
}

func (suite *ExporterTestSuite) TearDownTest() {
	suite.cancel()
	<-suite.exited
}

func (suite *ExporterTestSuite) invoke(path, iface, method string, args ...interface{}) ([]interface{}, *dbus.Error) {
	return suite.bus.Invoke(dbus.ObjectPath(path), iface, method, args...)
}

func (suite *ExporterTestSuite) readValue(path string, options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	out, derr := suite.invoke(path, bluez.GattCharacteristicIface, "ReadValue", options)
	if derr != nil {
		return nil, derr
	}
	return out[0].([]byte), nil
}

func (suite *ExporterTestSuite) property(path, iface, name string) (interface{}, bool) {
	out, derr := suite.invoke(path, bluez.PropertiesIface, "GetAll", iface)
	suite.Require().Nil(derr)
	v, ok := out[0].(map[string]dbus.Variant)[name]
	return v.Value(), ok
}

func (suite *ExporterTestSuite) TestExportsEveryNode() {
	// GOAL: Verify each node is published with its BlueZ, Properties and Introspectable interfaces
	//
	// TEST SCENARIO: Export → every path has 3 interfaces, root has ObjectManager → Unexport → nothing left

	for _, p := range suite.tree.Paths() {
		n, _ := suite.tree.Lookup(p)
		for _, iface := range []string{export.Interface(n), bluez.PropertiesIface, bluez.IntrospectableIface} {
			_, ok := suite.bus.Exported(dbus.ObjectPath(p), iface)
			suite.Assert().True(ok, "%s MUST export %s", p, iface)
		}
	}
	_, ok := suite.bus.Exported(root, bluez.ObjectManagerIface)
	suite.Assert().True(ok, "root MUST export ObjectManager")

	suite.exporter.Unexport()
	suite.Assert().Zero(suite.bus.ExportedPaths(), "Unexport MUST remove every object")
}

func (suite *ExporterTestSuite) TestGetManagedObjects() {
	// GOAL: Verify the root enumeration returns the whole tree in one call
	//
	// TEST SCENARIO: GetManagedObjects → 5 objects with their interface properties

	out, derr := suite.invoke(root, bluez.ObjectManagerIface, "GetManagedObjects")
	suite.Require().Nil(derr)
	objects := out[0].(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)

	suite.Assert().Len(objects, len(suite.tree.Paths()))
	svc := objects[service][bluez.GattServiceIface]
	suite.Assert().Equal("0000180a-0000-1000-8000-00805f9b34fb", svc["UUID"].Value())
	suite.Assert().Equal(true, svc["Primary"].Value())

	char := objects[testChar][bluez.GattCharacteristicIface]
	suite.Assert().Equal(dbus.ObjectPath(service), char["Service"].Value())
	suite.Assert().Equal([]string{"read", "write", "notify"}, char["Flags"].Value())
	suite.Assert().Equal([]dbus.ObjectPath{descPath}, char["Descriptors"].Value())
	suite.Assert().Equal(false, char["Notifying"].Value())

	desc := objects[descPath][bluez.GattDescriptorIface]
	suite.Assert().Equal(dbus.ObjectPath(testChar), desc["Characteristic"].Value())
	suite.Assert().Equal([]string{"read"}, desc["Flags"].Value())

	ro := objects[readOnly][bluez.GattCharacteristicIface]
	suite.Assert().Equal(le32(1234), ro["Value"].Value(), "static value MUST be reported")
}

func le32(v int32) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(v))
}

func (suite *ExporterTestSuite) TestReadValue() {
	// GOAL: Verify ReadValue returns the accessor value encoded, honouring offset
	//
	// TEST SCENARIO: read → LE 1000; offset 2 → tail; offset 5 → InvalidOffset; static → LE 1234

	data, derr := suite.readValue(testChar, map[string]dbus.Variant{})
	suite.Require().Nil(derr)
	suite.Assert().Equal(le32(1000), data)

	data, derr = suite.readValue(testChar, map[string]dbus.Variant{"offset": dbus.MakeVariant(uint16(2))})
	suite.Require().Nil(derr)
	suite.Assert().Equal(le32(1000)[2:], data)

	_, derr = suite.readValue(testChar, map[string]dbus.Variant{"offset": dbus.MakeVariant(uint16(5))})
	suite.Require().NotNil(derr)
	suite.Assert().Equal(bluez.ErrorInvalidOffset, derr.Name)

	data, derr = suite.readValue(readOnly, nil)
	suite.Require().Nil(derr)
	suite.Assert().Equal(le32(1234), data)

	out, derr := suite.invoke(descPath, bluez.GattDescriptorIface, "ReadValue", map[string]dbus.Variant{})
	suite.Require().Nil(derr)
	suite.Assert().Equal([]byte("test"), out[0])
}

func (suite *ExporterTestSuite) TestWriteValue() {
	// GOAL: Verify writes reach the accessor and only successful ones update Value
	//
	// TEST SCENARIO: write 4 bytes → ok, Value = bytes → failing write → Failed, Value unchanged

	_, derr := suite.invoke(testChar, bluez.GattCharacteristicIface, "WriteValue",
		[]byte{1, 2, 3, 4}, map[string]dbus.Variant{"type": dbus.MakeVariant("request")})
	suite.Require().Nil(derr)
	suite.Require().Len(suite.writes, 1)
	suite.Assert().Len(suite.writes[0], 4)

	v, ok := suite.property(testChar, bluez.GattCharacteristicIface, "Value")
	suite.Require().True(ok)
	suite.Assert().Equal([]byte{1, 2, 3, 4}, v)

	suite.failWrite = true
	_, derr = suite.invoke(testChar, bluez.GattCharacteristicIface, "WriteValue", []byte{9}, map[string]dbus.Variant{})
	suite.Require().NotNil(derr)
	suite.Assert().Equal(bluez.ErrorFailed, derr.Name)

	v, _ = suite.property(testChar, bluez.GattCharacteristicIface, "Value")
	suite.Assert().Equal([]byte{1, 2, 3, 4}, v, "failed write MUST NOT change Value")
	suite.Assert().Empty(suite.bus.Signals(), "writes MUST NOT emit")
}

func (suite *ExporterTestSuite) TestUnsupportedOperations() {
	// GOAL: Verify methods outside a node's flags fail with NotSupported
	//
	// TEST SCENARIO: read write-only / write static / StartNotify on non-notify / write descriptor

	cases := []struct {
		name   string
		path   string
		iface  string
		method string
		args   []interface{}
	}{
		{"read write-only", writeOnly, bluez.GattCharacteristicIface, "ReadValue", []interface{}{map[string]dbus.Variant{}}},
		{"write static", readOnly, bluez.GattCharacteristicIface, "WriteValue", []interface{}{[]byte{1}, map[string]dbus.Variant{}}},
		{"notify read-only", readOnly, bluez.GattCharacteristicIface, "StartNotify", nil},
		{"write descriptor", descPath, bluez.GattDescriptorIface, "WriteValue", []interface{}{[]byte{1}, map[string]dbus.Variant{}}},
	}
	for _, tc := range cases {
		suite.Run(tc.name, func() {
			_, derr := suite.invoke(tc.path, tc.iface, tc.method, tc.args...)
			suite.Require().NotNil(derr)
			suite.Assert().Equal(bluez.ErrorNotSupported, derr.Name)
		})
	}
}

func (suite *ExporterTestSuite) TestNotifications() {
	// GOAL: Verify value pushes become PropertiesChanged signals only while notifying
	//
	// TEST SCENARIO: push (idle) → StartNotify x2 → push xo-xo-xo_0, _1 → StopNotify → push → 2 signals

	suite.Require().NoError(suite.engine.SetValue(testChar, gatt.String("idle")))
	_, derr := suite.invoke(testChar, bluez.GattCharacteristicIface, "StartNotify")
	suite.Require().Nil(derr)
	_, derr = suite.invoke(testChar, bluez.GattCharacteristicIface, "StartNotify")
	suite.Require().Nil(derr)

	notifying, _ := suite.property(testChar, bluez.GattCharacteristicIface, "Notifying")
	suite.Assert().Equal(true, notifying)

	suite.Require().NoError(suite.engine.SetValue(testChar, gatt.String("xo-xo-xo_0")))
	suite.Require().NoError(suite.engine.SetValue(testChar, gatt.String("xo-xo-xo_1")))
	_, derr = suite.invoke(testChar, bluez.GattCharacteristicIface, "StopNotify")
	suite.Require().Nil(derr)
	suite.Require().NoError(suite.engine.SetValue(testChar, gatt.String("after")))
	suite.Require().NoError(suite.loop.Do(context.Background(), func() {}))

	signals := suite.bus.Signals()
	suite.Require().Len(signals, 2)
	for i, sig := range signals {
		suite.Assert().Equal(dbus.ObjectPath(testChar), sig.Path)
		suite.Assert().Equal(bluez.PropertiesChangedSignal, sig.Name)
		suite.Require().Len(sig.Body, 3)
		suite.Assert().Equal(bluez.GattCharacteristicIface, sig.Body[0])
		changed := sig.Body[1].(map[string]dbus.Variant)
		suite.Assert().Equal([]byte(fmt.Sprintf("xo-xo-xo_%d", i)), changed["Value"].Value())
		suite.Assert().Equal([]string{}, sig.Body[2])
	}
}

func (suite *ExporterTestSuite) TestPropertiesInterface() {
	// GOAL: Verify Get/GetAll/Set behave like a read-only Properties object
	//
	// TEST SCENARIO: Get UUID → ok; unknown prop / iface → errors; Set → PropertyReadOnly

	out, derr := suite.invoke(service, bluez.PropertiesIface, "Get", bluez.GattServiceIface, "UUID")
	suite.Require().Nil(derr)
	suite.Assert().Equal("0000180a-0000-1000-8000-00805f9b34fb", out[0].(dbus.Variant).Value())

	_, derr = suite.invoke(service, bluez.PropertiesIface, "Get", bluez.GattServiceIface, "Nope")
	suite.Require().NotNil(derr)
	suite.Assert().Equal("org.freedesktop.DBus.Properties.Error.PropertyNotFound", derr.Name)

	_, derr = suite.invoke(service, bluez.PropertiesIface, "GetAll", "org.example.Other")
	suite.Require().NotNil(derr)
	suite.Assert().Equal("org.freedesktop.DBus.Properties.Error.InterfaceNotFound", derr.Name)

	_, derr = suite.invoke(testChar, bluez.PropertiesIface, "Set", bluez.GattCharacteristicIface, "Value", dbus.MakeVariant([]byte{1}))
	suite.Require().NotNil(derr)
	suite.Assert().Equal("org.freedesktop.DBus.Properties.Error.PropertyReadOnly", derr.Name)
}

func (suite *ExporterTestSuite) TestIntrospection() {
	out, derr := suite.invoke(testChar, bluez.IntrospectableIface, "Introspect")
	suite.Require().Nil(derr)
	xml := out[0].(string)
	suite.Assert().Contains(xml, bluez.GattCharacteristicIface)
	suite.Assert().Contains(xml, `<method name="StartNotify">`)
	suite.Assert().Contains(xml, `<node name="desc">`)

	rootObj, ok := suite.bus.Exported(root, bluez.IntrospectableIface)
	suite.Require().True(ok)
	rootXML, _ := rootObj.(introspect.Introspectable).Introspect()
	suite.Assert().Contains(rootXML, "GetManagedObjects")
	suite.Assert().Contains(rootXML, `<node name="device">`)
}

func (suite *ExporterTestSuite) TestStoppedLoopFailsCalls() {
	suite.loop.Stop()
	_, derr := suite.readValue(testChar, nil)
	suite.Require().NotNil(derr)
	suite.Assert().Equal(bluez.ErrorFailed, derr.Name)
}

func (suite *ExporterTestSuite) TestSnapshot() {
	// GOAL: Verify the ordered snapshot lists objects in path order with hex values
	//
	// TEST SCENARIO: Snapshot → JSON → matches expected object

	data, err := json.Marshal(export.Snapshot(suite.tree, suite.engine))
	suite.Require().NoError(err)

	testutils.NewJSONAsserter(suite.T()).Assert(string(data), `{
		"/dbus_gatt/example/device": {
			"Interface": "org.bluez.GattService1",
			"UUID": "0000180a-0000-1000-8000-00805f9b34fb",
			"Primary": true,
			"Characteristics": [
				"/dbus_gatt/example/device/test_char",
				"/dbus_gatt/example/device/test_read_only_value",
				"/dbus_gatt/example/device/write_only"
			]
		},
		"/dbus_gatt/example/device/test_char": {
			"Interface": "org.bluez.GattCharacteristic1",
			"Flags": ["read", "write", "notify"],
			"Notifying": false
		},
		"/dbus_gatt/example/device/test_read_only_value": {
			"Value": "d2040000"
		}
	}`)

	keys := []string{}
	for pair := export.Snapshot(suite.tree, nil).Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	suite.Assert().Equal(suite.tree.Paths(), keys)
}

func TestExporterTestSuite(t *testing.T) {
	suite.Run(t, new(ExporterTestSuite))
}

func TestDBusError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", gatt.ErrNotSupported), bluez.ErrorNotSupported},
		{fmt.Errorf("x: %w", gatt.ErrUnknownPath), bluez.ErrorUnknownObject},
		{&gatt.AccessorError{Path: "/a", Op: "write", Err: gatt.ErrNotPermitted}, bluez.ErrorNotPermitted},
		{&gatt.AccessorError{Path: "/a", Op: "read", Err: gatt.ErrNotAuthorized}, bluez.ErrorNotAuthorized},
		{&gatt.AccessorError{Path: "/a", Op: "write", Err: gatt.ErrInvalidValueLength}, bluez.ErrorInvalidValueLength},
		{gatt.ErrInvalidOffset, bluez.ErrorInvalidOffset},
		{gatt.ErrInProgress, bluez.ErrorInProgress},
		{&gatt.AccessorError{Path: "/a", Op: "write", Status: 3}, bluez.ErrorFailed},
		{&gatt.ConfigurationError{Path: "/a", Reason: "no accessor"}, bluez.ErrorFailed},
		{bus.ErrLoopStopped, bluez.ErrorFailed},
		{errors.New("boom"), bluez.ErrorFailed},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, export.DBusError(tt.err).Name)
		})
	}
	assert.Nil(t, export.DBusError(nil))
}

func TestDecodeOptions(t *testing.T) {
	opts := export.DecodeOptions(map[string]dbus.Variant{
		"offset":            dbus.MakeVariant(uint16(4)),
		"mtu":               dbus.MakeVariant(uint16(185)),
		"device":            dbus.MakeVariant(dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")),
		"link":              dbus.MakeVariant("LE"),
		"type":              dbus.MakeVariant("command"),
		"prepare-authorize": dbus.MakeVariant(true),
		"vendor":            dbus.MakeVariant(int32(7)),
	})

	assert.Equal(t, uint16(4), opts.Offset)
	assert.Equal(t, uint16(185), opts.MTU)
	assert.Equal(t, "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", opts.Device)
	assert.Equal(t, "LE", opts.Link)
	assert.Equal(t, "command", opts.Type)
	assert.True(t, opts.PrepareAuthorize)
	assert.Equal(t, int32(7), opts.Raw["vendor"], "unknown options MUST pass through")

	assert.Zero(t, export.DecodeOptions(nil).Offset)
}
