package bluez_test

import (
	"context"
	"errors"
	"testing"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/internal/testutils"
)

func TestAdapterPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want dbus.ObjectPath
	}{
		{name: "default", in: "", want: "/org/bluez/hci0"},
		{name: "name", in: "hci1", want: "/org/bluez/hci1"},
		{name: "full path", in: "/org/bluez/hci2", want: "/org/bluez/hci2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bluez.AdapterPath(tt.in))
		})
	}
}

func TestDeviceAddress(t *testing.T) {
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", bluez.DeviceAddress("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"))
	assert.Equal(t, "", bluez.DeviceAddress("/org/bluez/hci0"))
}

type ManagerTestSuite struct {
	suite.Suite
	bus *testutils.FakeBus
	mgr *bluez.Manager
}

func (s *ManagerTestSuite) SetupTest() {
	s.bus = testutils.NewFakeBus()
	s.mgr = bluez.NewManager(s.bus, bluez.AdapterPath("hci0"), time.Second)
}

func (s *ManagerTestSuite) TestCallsTargetAdapter() {
	// GOAL: Verify every manager call goes to org.bluez on the adapter path
	//
	// TEST SCENARIO: register/unregister app and advertisement → 4 calls in order

	ctx := context.Background()
	s.Require().NoError(s.mgr.RegisterApplication(ctx, "/app"))
	s.Require().NoError(s.mgr.RegisterAdvertisement(ctx, "/app/advertisement0"))
	s.Require().NoError(s.mgr.UnregisterAdvertisement(ctx, "/app/advertisement0"))
	s.Require().NoError(s.mgr.UnregisterApplication(ctx, "/app"))

	calls := s.bus.Calls()
	s.Require().Len(calls, 4)
	for _, c := range calls {
		s.Equal(bluez.Service, c.Dest)
		s.Equal(dbus.ObjectPath("/org/bluez/hci0"), c.Path)
	}
	s.Equal(testutils.RegisterApplication, calls[0].Method)
	s.Equal([]interface{}{dbus.ObjectPath("/app"), map[string]dbus.Variant{}}, calls[0].Args,
		"RegisterApplication MUST pass the root and an empty options dict")
	s.Equal(testutils.UnregisterApplication, calls[3].Method)
	s.Equal([]interface{}{dbus.ObjectPath("/app")}, calls[3].Args)
}

func (s *ManagerTestSuite) TestErrorsAreWrapped() {
	rejected := dbus.NewError(bluez.ErrorFailed, []interface{}{"rejected"})
	s.bus.FailCall(testutils.RegisterApplication, rejected)

	err := s.mgr.RegisterApplication(context.Background(), "/app")
	s.ErrorContains(err, "bluez: "+testutils.RegisterApplication)

	var derr *dbus.Error
	s.Require().True(errors.As(err, &derr), "the D-Bus error MUST stay reachable")
	s.Equal(bluez.ErrorFailed, derr.Name)
}

func (s *ManagerTestSuite) TestTimeoutBoundsCall() {
	s.mgr = bluez.NewManager(s.bus, bluez.AdapterPath(""), 10*time.Millisecond)
	s.bus.OnCall(testutils.RegisterApplication, func(ctx context.Context, _ testutils.RecordedCall) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := s.mgr.RegisterApplication(context.Background(), "/app")
	s.ErrorIs(err, context.DeadlineExceeded, "calls MUST be bounded by the configured timeout")
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func TestAdvertisement_Properties(t *testing.T) {
	adv := bluez.NewAdvertisement("/app/advertisement0", bluez.AdvertisementConfig{
		LocalName:        "gattd",
		ServiceUUIDs:     []string{"180a"},
		ManufacturerID:   0xffff,
		ManufacturerData: []byte{1, 2},
		IncludeTxPower:   true,
		Discoverable:     true,
	}, nil)

	props := adv.Properties()
	assert.Equal(t, "peripheral", props["Type"].Value(), "type MUST default to peripheral")
	assert.Equal(t, "gattd", props["LocalName"].Value())
	assert.Equal(t, []string{"180a"}, props["ServiceUUIDs"].Value())
	assert.Equal(t, []string{"tx-power"}, props["Includes"].Value())
	assert.Equal(t, true, props["Discoverable"].Value())
	assert.Equal(t, map[uint16]dbus.Variant{0xffff: dbus.MakeVariant([]byte{1, 2})}, props["ManufacturerData"].Value())
	assert.NotContains(t, props, "Appearance", "empty fields MUST be omitted")
	assert.NotContains(t, props, "Timeout")
}

func TestAdvertisement_ExportAndRelease(t *testing.T) {
	// GOAL: Verify the advertisement is served on the bus and tracks Release
	//
	// TEST SCENARIO: export → GetAll returns properties → Release → Released,
	// Unexport leaves nothing behind

	fb := testutils.NewFakeBus()
	adv := bluez.NewAdvertisement("/app/advertisement0", bluez.AdvertisementConfig{LocalName: "gattd"}, nil)
	require.NoError(t, adv.Export(fb))

	out, derr := fb.Invoke(adv.Path(), bluez.PropertiesIface, "GetAll", bluez.AdvertisementIface)
	require.Nil(t, derr)
	props := out[0].(map[string]dbus.Variant)
	assert.Equal(t, "gattd", props["LocalName"].Value())

	_, derr = fb.Invoke(adv.Path(), bluez.PropertiesIface, "Set", bluez.AdvertisementIface, "LocalName", dbus.MakeVariant("x"))
	assert.Equal(t, prop.ErrReadOnly, derr, "advertisement properties MUST be read-only")

	_, derr = fb.Invoke(adv.Path(), bluez.IntrospectableIface, "Introspect")
	assert.Nil(t, derr)

	assert.False(t, adv.Released())
	_, derr = fb.Invoke(adv.Path(), bluez.AdvertisementIface, "Release")
	require.Nil(t, derr)
	assert.True(t, adv.Released(), "Release MUST be recorded")

	adv.Unexport(fb)
	assert.Zero(t, fb.ExportedPaths())
}

func TestAdvertisement_ExportFailure(t *testing.T) {
	fb := testutils.NewFakeBus()
	require.NoError(t, fb.Close())

	adv := bluez.NewAdvertisement("/app/advertisement0", bluez.AdvertisementConfig{}, nil)
	assert.ErrorContains(t, adv.Export(fb), "export advertisement")
	assert.Zero(t, fb.ExportedPaths())
}
