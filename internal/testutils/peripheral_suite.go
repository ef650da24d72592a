package testutils

import (
	"context"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/internal/bus"
	"github.com/srg/gattd/pkg/config"
	"github.com/srg/gattd/pkg/peripheral"
)

const (
	RegisterApplication     = bluez.GattManagerIface + ".RegisterApplication"
	UnregisterApplication   = bluez.GattManagerIface + ".UnregisterApplication"
	RegisterAdvertisement   = bluez.AdvertisingManagerIface + ".RegisterAdvertisement"
	UnregisterAdvertisement = bluez.AdvertisingManagerIface + ".UnregisterAdvertisement"
)

// PeripheralSuite runs peripherals against a FakeBus that behaves like
// bluetoothd: RegisterApplication calls back GetManagedObjects on the
// application root before replying.
//
//	type LifecycleSuite struct {
//	    testutils.PeripheralSuite
//	}
//
//	func (s *LifecycleSuite) TestStart() {
//	    p, _ := peripheral.New(s.Config, s.Logger, specs...)
//	    errc, stop := s.Serve(p)
//	    s.WaitState(p, peripheral.Registered)
//	    ...
//	}
type PeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger
	Bus    *FakeBus
	Config *config.Config

	// ManagedObjects holds the reply of the GetManagedObjects callback made
	// during the last RegisterApplication.
	ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

	TestTimeout time.Duration

	originalFactory func(*config.Config) (bus.Bus, error)
	cancels         []context.CancelFunc
	running         []chan error
}

func (s *PeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
}

// SetupTest swaps peripheral.BusFactory for a fresh FakeBus.
func (s *PeripheralSuite) SetupTest() {
	s.Bus = NewFakeBus()
	s.Config = config.DefaultConfig()
	s.Config.Root = "/dbus_gatt/example"
	s.Config.CallTimeout = s.TestTimeout
	s.ManagedObjects = nil

	s.Bus.OnCall(RegisterApplication, func(ctx context.Context, call RecordedCall) error {
		app, _ := call.Args[0].(dbus.ObjectPath)
		out, derr := s.Bus.Invoke(app, bluez.ObjectManagerIface, "GetManagedObjects")
		if derr != nil {
			return derr
		}
		s.ManagedObjects, _ = out[0].(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
		return nil
	})

	s.originalFactory = peripheral.BusFactory
	fb := s.Bus
	peripheral.BusFactory = func(*config.Config) (bus.Bus, error) { return fb, nil }
}

// TearDownTest stops every peripheral started with Serve and restores the factory.
func (s *PeripheralSuite) TearDownTest() {
	for _, cancel := range s.cancels {
		cancel()
	}
	for _, errc := range s.running {
		select {
		case <-errc:
		case <-time.After(s.TestTimeout):
			s.T().Error("peripheral did not stop")
		}
	}
	s.cancels, s.running = nil, nil

	if s.originalFactory != nil {
		peripheral.BusFactory = s.originalFactory
		s.originalFactory = nil
	}
}

// Serve starts p in the background. The returned channel yields Start's result.
func (s *PeripheralSuite) Serve(p *peripheral.Peripheral) (errc <-chan error, stop context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan error, 1)
	done := make(chan error, 1)
	go func() {
		err := p.Start(ctx)
		out <- err
		done <- err
	}()
	s.cancels = append(s.cancels, cancel)
	s.running = append(s.running, done)
	return out, cancel
}

// WaitState polls until p reaches want or the test timeout expires.
func (s *PeripheralSuite) WaitState(p *peripheral.Peripheral, want peripheral.RegistrationState) {
	s.Require().Eventually(func() bool {
		st, _ := p.State()
		return st == want
	}, s.TestTimeout, 5*time.Millisecond, "peripheral MUST reach state %s", want)
}

// WaitResult waits for Start to return.
func (s *PeripheralSuite) WaitResult(errc <-chan error) error {
	select {
	case err := <-errc:
		return err
	case <-time.After(s.TestTimeout):
		s.FailNow("Start did not return")
		return nil
	}
}

// WaitSignals polls until the bus has seen at least n signals.
func (s *PeripheralSuite) WaitSignals(n int) []EmittedSignal {
	s.Require().Eventually(func() bool { return len(s.Bus.Signals()) >= n },
		s.TestTimeout, 5*time.Millisecond, "bus MUST see %d signals", n)
	return s.Bus.Signals()
}
