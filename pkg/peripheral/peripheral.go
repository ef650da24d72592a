// Package peripheral runs a GATT application against bluetoothd: it exports
// the attribute tree, registers it and its advertisement, serves the peer's
// calls on the dispatch loop and tears everything down in reverse order.
//
//	p, err := peripheral.New(config.DefaultConfig(), logger,
//	    gatt.NewService("device", "180a",
//	        gatt.NewCharacteristic("test_char", "2a30", gatt.Read|gatt.Notify, read, nil)))
//	if err != nil {
//	    return err
//	}
//	p.OnConnectionChanged(func(device string, connected bool) { ... })
//	go producer(p) // calls p.SetValue("test_char", v) from any goroutine
//	return p.Start(ctx)
package peripheral

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/internal/bus"
	"github.com/srg/gattd/internal/devevent"
	"github.com/srg/gattd/internal/dispatch"
	"github.com/srg/gattd/internal/export"
	"github.com/srg/gattd/internal/groutine"
	"github.com/srg/gattd/internal/notify"
	"github.com/srg/gattd/pkg/config"
	"github.com/srg/gattd/pkg/gatt"
)

// BusFactory opens the bus connection used by Start. Tests replace it.
var BusFactory = func(cfg *config.Config) (bus.Bus, error) {
	return bus.Dial(bus.Kind(cfg.Bus), cfg.BusName)
}

// Peripheral owns an attribute tree and everything serving it.
type Peripheral struct {
	cfg     *config.Config
	logger  *logrus.Logger
	tree    *gatt.Tree
	advPath string
	mfgr    []byte

	loop       *bus.Loop
	engine     *notify.Engine
	dispatcher *dispatch.Dispatcher
	registry   *devevent.Registry
	bridge     *devevent.Bridge

	started atomic.Bool

	mu     sync.Mutex
	state  RegistrationState
	reason error
}

// New validates services into a tree and prepares the peripheral. It fails
// with *gatt.ConfigurationError on a malformed tree, when the advertisement
// path collides with it or when the manufacturer data is not valid hex.
func New(cfg *config.Config, logger *logrus.Logger, services ...gatt.ServiceSpec) (*Peripheral, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}

	tree, err := gatt.Build(cfg.Root, services...)
	if err != nil {
		return nil, err
	}

	advPath := cfg.AdvertisementPath()
	var mfgr []byte
	if cfg.Advertisement.Enabled {
		if err := checkAdvertisementPath(tree, advPath); err != nil {
			return nil, err
		}
		if mfgr, err = cfg.Advertisement.ManufacturerBytes(); err != nil {
			return nil, &gatt.ConfigurationError{Path: advPath, Reason: "invalid manufacturer data", Err: err}
		}
	}

	loop := bus.NewLoop(logger)
	engine := notify.New(tree, loop, logger)
	registry := devevent.NewRegistry()

	return &Peripheral{
		cfg:        cfg,
		logger:     logger,
		tree:       tree,
		advPath:    advPath,
		mfgr:       mfgr,
		loop:       loop,
		engine:     engine,
		dispatcher: dispatch.New(tree, engine, logger),
		registry:   registry,
		bridge:     devevent.NewBridge(registry, loop, logger),
	}, nil
}

func checkAdvertisementPath(tree *gatt.Tree, advPath string) error {
	if advPath == tree.Root() {
		return &gatt.ConfigurationError{Path: advPath, Reason: "advertisement path equals the application root"}
	}
	for _, p := range tree.Paths() {
		if p == advPath || strings.HasPrefix(p, advPath+"/") {
			return &gatt.ConfigurationError{Path: advPath, Reason: "advertisement path collides with attribute " + p}
		}
	}
	return nil
}

// Tree returns the attribute tree.
func (p *Peripheral) Tree() *gatt.Tree { return p.tree }

// State returns the registration state and, when Failed, the reason.
func (p *Peripheral) State() (RegistrationState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.reason
}

func (p *Peripheral) setState(s RegistrationState, reason error) {
	p.mu.Lock()
	prev := p.state
	p.state, p.reason = s, reason
	p.mu.Unlock()

	log := p.logger.WithFields(logrus.Fields{"from": prev, "to": s})
	if reason != nil {
		log = log.WithError(reason)
	}
	log.Debug("Registration state changed")
}

// SetValue pushes a new value for the characteristic ref (full path,
// root-relative path or unique name). It is safe to call from any goroutine;
// a value-changed signal follows when the peer is subscribed.
func (p *Peripheral) SetValue(ref string, v gatt.Value) error {
	n, err := p.tree.Resolve(ref)
	if err != nil {
		return err
	}
	if n.Kind() != gatt.KindCharacteristic {
		return fmt.Errorf("%w: %s is a %s", ErrNotCharacteristic, n.Path(), n.Kind())
	}
	return p.engine.SetValue(n.Path(), v)
}

// Value returns the last value recorded for the characteristic ref.
func (p *Peripheral) Value(ref string) (gatt.Value, bool) {
	n, err := p.tree.Resolve(ref)
	if err != nil {
		return gatt.Value{}, false
	}
	return p.engine.Last(n.Path())
}

// OnDeviceProperty registers cb for changes of prop on any device of the
// adapter. Callbacks run on the dispatch loop in registration order.
func (p *Peripheral) OnDeviceProperty(prop gatt.DeviceProperty, cb gatt.DevicePropertyCallback) {
	p.registry.Add(prop, cb)
}

// OnConnectionChanged registers fn for Connected changes.
func (p *Peripheral) OnConnectionChanged(fn func(device string, connected bool)) {
	if fn == nil {
		return
	}
	p.registry.Add(gatt.PropConnected, func(ev gatt.DeviceEvent) {
		if connected, ok := ev.Connected(); ok {
			fn(ev.Device, connected)
		}
	})
}

// Start connects, exports, registers and then serves until ctx is done
// (returns nil after teardown) or the bus connection drops (returns
// ErrTransportLost). A rejected registration returns *RegistrationError;
// cancelling ctx while a registration call is pending returns ctx.Err().
// Start may be called once.
func (p *Peripheral) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	b, err := BusFactory(p.cfg)
	if err != nil {
		err = fmt.Errorf("peripheral: connect: %w", err)
		p.setState(Failed, err)
		return err
	}

	var cleanup cleanupStack
	defer cleanup.run(p.logger)
	cleanup.push("close bus", func() error { return b.Close() })

	// bluetoothd calls GetManagedObjects back while RegisterApplication is
	// pending, so the loop has to be serving before we register.
	loopDone := groutine.Go(context.Background(), "dispatch-loop", func(ctx context.Context) {
		if err := p.loop.Run(ctx); err != nil {
			p.logger.WithError(err).Error("Dispatch loop exited")
		}
	})
	cleanup.push("stop dispatch loop", func() error {
		p.loop.Stop()
		<-loopDone
		return nil
	})

	exp := export.New(b, p.tree, p.dispatcher, p.engine, p.loop, p.logger)
	p.engine.Attach(exp)
	cleanup.push("detach emitter", func() error {
		p.engine.Attach(nil)
		p.engine.StopAll()
		return nil
	})

	if err := exp.Export(); err != nil {
		p.setState(Failed, err)
		return err
	}
	cleanup.push("unexport application", func() error { exp.Unexport(); return nil })

	adapter := bluez.AdapterPath(p.cfg.Adapter)
	if err := p.bridge.Attach(ctx, b, adapter); err != nil {
		p.setState(Failed, err)
		return err
	}
	cleanup.push("detach device events", func() error { p.bridge.Detach(); return nil })

	mgr := bluez.NewManager(b, adapter, p.cfg.CallTimeout)
	app := dbus.ObjectPath(p.tree.Root())

	p.setState(Registering, nil)
	if err := mgr.RegisterApplication(ctx, app); err != nil {
		if ctx.Err() != nil {
			p.setState(Unregistered, nil)
			p.logger.Info("Start cancelled during registration")
			return ctx.Err()
		}
		regErr := &RegistrationError{Endpoint: bluez.GattManagerIface, Err: err}
		p.setState(Failed, regErr)
		return regErr
	}
	p.setState(Registered, nil)
	cleanup.push("unregister application", func() error {
		return mgr.UnregisterApplication(context.Background(), app)
	})
	p.logger.WithFields(logrus.Fields{"app": app, "adapter": adapter}).Info("GATT application registered")

	if p.cfg.Advertisement.Enabled {
		if err := p.advertise(ctx, b, mgr, &cleanup); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		p.logger.Info("Shutting down peripheral")
		return nil
	case <-b.Done():
		p.logger.Error("Bus connection lost")
		return ErrTransportLost
	}
}

func (p *Peripheral) advertise(ctx context.Context, b bus.Bus, mgr *bluez.Manager, cleanup *cleanupStack) error {
	ac := p.cfg.Advertisement
	adv := bluez.NewAdvertisement(dbus.ObjectPath(p.advPath), bluez.AdvertisementConfig{
		Type:             ac.Type,
		LocalName:        ac.LocalName,
		ServiceUUIDs:     ac.ServiceUUIDs,
		Appearance:       ac.Appearance,
		ManufacturerID:   ac.ManufacturerID,
		ManufacturerData: p.mfgr,
		IncludeTxPower:   ac.IncludeTxPower,
		Discoverable:     ac.Discoverable,
		Timeout:          ac.Timeout,
	}, p.logger)

	if err := adv.Export(b); err != nil {
		return err
	}
	cleanup.push("unexport advertisement", func() error { adv.Unexport(b); return nil })

	if err := mgr.RegisterAdvertisement(ctx, adv.Path()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RegistrationError{Endpoint: bluez.AdvertisingManagerIface, Err: err}
	}
	cleanup.push("unregister advertisement", func() error {
		if adv.Released() {
			return nil
		}
		return mgr.UnregisterAdvertisement(context.Background(), adv.Path())
	})
	p.logger.WithField("path", adv.Path()).Info("Advertising")
	return nil
}
