package devevent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattd/internal/bluez"
	"github.com/srg/gattd/internal/bus"
	"github.com/srg/gattd/internal/groutine"
	"github.com/srg/gattd/pkg/gatt"
)

// ErrAttached is returned by Attach on a bridge that is already subscribed.
var ErrAttached = errors.New("devevent: bridge already attached")

// Poster queues work onto the dispatch loop. *bus.Loop implements it.
type Poster interface {
	Post(fn func()) bool
}

// Outcome is the result of handling one changed property.
type Outcome struct {
	Event     gatt.DeviceEvent
	Err       error // *UnexpectedValueError when the value was rejected
	Delivered int   // callbacks invoked without panicking
}

// Bridge subscribes to device property changes and delivers them on the
// dispatch loop to the callbacks in a Registry.
type Bridge struct {
	registry *Registry
	loop     Poster
	logger   *logrus.Logger

	mu      sync.Mutex
	sub     *bus.Subscription
	prefix  string
	stop    context.CancelFunc
	pumping <-chan struct{}
}

func NewBridge(registry *Registry, loop Poster, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{registry: registry, loop: loop, logger: logger}
}

// Attach subscribes once to PropertiesChanged signals of objects below
// adapter and starts pumping them onto the loop.
func (b *Bridge) Attach(ctx context.Context, bs bus.Bus, adapter dbus.ObjectPath) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return ErrAttached
	}

	sub, err := bs.Subscribe(
		dbus.WithMatchSender(bluez.Service),
		dbus.WithMatchInterface(bluez.PropertiesIface),
		dbus.WithMatchMember(bluez.PropertiesChangedMember),
		dbus.WithMatchPathNamespace(adapter),
	)
	if err != nil {
		return fmt.Errorf("devevent: subscribe: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	b.sub = sub
	b.prefix = string(adapter) + "/"
	b.stop = cancel
	b.pumping = groutine.Go(pumpCtx, "device-events", func(ctx context.Context) {
		b.pump(ctx, sub.C)
	})
	b.logger.WithField("adapter", adapter).Debug("Device event bridge attached")
	return nil
}

func (b *Bridge) pump(ctx context.Context, signals <-chan *dbus.Signal) {
	defer b.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Device event pump stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			// The connection delivers every signal to every channel; drop
			// the ones outside our match early.
			if sig.Name != bluez.PropertiesChangedSignal || !strings.HasPrefix(string(sig.Path), b.prefix) {
				continue
			}
			if !b.loop.Post(func() { b.Handle(sig) }) {
				return
			}
		}
	}
}

// Detach stops the pump and removes the subscription. It is safe to call on
// a bridge that was never attached.
func (b *Bridge) Detach() {
	b.mu.Lock()
	sub, stop, pumping := b.sub, b.stop, b.pumping
	b.sub, b.stop, b.pumping = nil, nil, nil
	b.mu.Unlock()

	if sub == nil {
		return
	}
	stop()
	<-pumping
	sub.Close()
	b.logger.Debug("Device event bridge detached")
}

// Handle decodes one PropertiesChanged signal and invokes the registered
// callbacks for each changed property. Signals for interfaces other than
// org.bluez.Device1 are ignored.
func (b *Bridge) Handle(sig *dbus.Signal) []Outcome {
	if len(sig.Body) < 2 {
		return nil
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != bluez.DeviceIface {
		return nil
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		b.logger.WithField("device", sig.Path).Warn("Malformed PropertiesChanged body")
		return nil
	}

	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	sort.Strings(names)

	device := string(sig.Path)
	outcomes := make([]Outcome, 0, len(names))
	for _, name := range names {
		prop := gatt.DeviceProperty(name)
		out := Outcome{Event: gatt.DeviceEvent{Device: device, Property: prop}}

		callbacks := b.registry.Callbacks(prop)
		log := b.logger.WithFields(logrus.Fields{"device": device, "property": name})

		value, err := Decode(device, prop, changed[name])
		if err != nil {
			out.Err = err
			log.WithError(err).Warn("Ignoring device property with unexpected value")
			outcomes = append(outcomes, out)
			continue
		}
		out.Event.Value = value

		log.WithFields(logrus.Fields{"value": value.String(), "callbacks": len(callbacks)}).Debug("Device property changed")
		for i, cb := range callbacks {
			if b.invoke(cb, out.Event) {
				out.Delivered++
			} else {
				log.WithField("callback", i).Error("Device property callback panicked")
			}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (b *Bridge) invoke(cb gatt.DevicePropertyCallback, ev gatt.DeviceEvent) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithField("panic", r).Debug("Recovered callback panic")
			ok = false
		}
	}()
	cb(ev)
	return true
}
