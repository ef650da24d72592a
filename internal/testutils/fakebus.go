package testutils

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/gattd/internal/bus"
)

// EmittedSignal is a signal sent through FakeBus.Emit.
type EmittedSignal struct {
	Path dbus.ObjectPath
	Name string
	Body []interface{}
}

// RecordedCall is a method call sent through FakeBus.Call.
type RecordedCall struct {
	Dest   string
	Path   dbus.ObjectPath
	Method string
	Args   []interface{}
}

// CallHandler answers an outbound call in place of the remote peer.
type CallHandler func(ctx context.Context, call RecordedCall) error

// FakeBus is an in-memory bus.Bus. It records exports, signals and calls,
// lets tests invoke exported methods the way the transport would, and can
// inject inbound signals or simulate connection loss.
//
//	fb := testutils.NewFakeBus()
//	fb.OnCall("org.bluez.GattManager1.RegisterApplication", func(ctx context.Context, c testutils.RecordedCall) error {
//	    _, derr := fb.Invoke("/app", "org.freedesktop.DBus.ObjectManager", "GetManagedObjects")
//	    return derr
//	})
type FakeBus struct {
	mu       sync.Mutex
	exports  map[dbus.ObjectPath]map[string]interface{}
	signals  []EmittedSignal
	calls    []RecordedCall
	handlers map[string]CallHandler
	subs     map[int]chan *dbus.Signal
	nextSub  int
	emitErr  error

	done     chan struct{}
	doneOnce sync.Once
	closed   bool
}

var _ bus.Bus = (*FakeBus)(nil)

// NewFakeBus returns an empty, connected fake bus.
func NewFakeBus() *FakeBus {
	return &FakeBus{
		exports:  make(map[dbus.ObjectPath]map[string]interface{}),
		handlers: make(map[string]CallHandler),
		subs:     make(map[int]chan *dbus.Signal),
		done:     make(chan struct{}),
	}
}

func (f *FakeBus) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("fakebus: closed")
	}
	if v == nil {
		delete(f.exports[path], iface)
		if len(f.exports[path]) == 0 {
			delete(f.exports, path)
		}
		return nil
	}
	if f.exports[path] == nil {
		f.exports[path] = make(map[string]interface{})
	}
	f.exports[path][iface] = v
	return nil
}

// Exported returns the object exported at path under iface.
func (f *FakeBus) Exported(path dbus.ObjectPath, iface string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.exports[path][iface]
	return v, ok
}

// ExportedPaths returns the number of paths that still have an export.
func (f *FakeBus) ExportedPaths() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exports)
}

// Invoke calls method on the object exported at path/iface by reflection,
// like the transport does for an inbound call. The trailing *dbus.Error is
// split off from the other results.
func (f *FakeBus) Invoke(path dbus.ObjectPath, iface, method string, args ...interface{}) ([]interface{}, *dbus.Error) {
	obj, ok := f.Exported(path, iface)
	if !ok {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownObject", []interface{}{string(path)})
	}
	m := reflect.ValueOf(obj).MethodByName(method)
	if !m.IsValid() {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownMethod", []interface{}{method})
	}
	if m.Type().NumIn() != len(args) {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.InvalidArgs", []interface{}{method})
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		if a == nil {
			in[i] = reflect.Zero(m.Type().In(i))
			continue
		}
		in[i] = reflect.ValueOf(a)
	}
	out := m.Call(in)
	if len(out) == 0 {
		return nil, nil
	}

	var derr *dbus.Error
	if last := out[len(out)-1]; !last.IsNil() {
		derr = last.Interface().(*dbus.Error)
	}
	results := make([]interface{}, 0, len(out)-1)
	for _, o := range out[:len(out)-1] {
		results = append(results, o.Interface())
	}
	return results, derr
}

func (f *FakeBus) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.signals = append(f.signals, EmittedSignal{Path: path, Name: name, Body: values})
	return nil
}

// FailEmit makes every following Emit return err; nil restores success.
func (f *FakeBus) FailEmit(err error) {
	f.mu.Lock()
	f.emitErr = err
	f.mu.Unlock()
}

// Signals returns the signals emitted so far.
func (f *FakeBus) Signals() []EmittedSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EmittedSignal(nil), f.signals...)
}

// OnCall installs the handler answering calls to method ("iface.Member").
func (f *FakeBus) OnCall(method string, h CallHandler) {
	f.mu.Lock()
	f.handlers[method] = h
	f.mu.Unlock()
}

// FailCall makes calls to method return err.
func (f *FakeBus) FailCall(method string, err error) {
	f.OnCall(method, func(context.Context, RecordedCall) error { return err })
}

func (f *FakeBus) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...interface{}) error {
	call := RecordedCall{Dest: dest, Path: path, Method: method, Args: args}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	h := f.handlers[method]
	f.mu.Unlock()

	if h == nil {
		return nil
	}
	return h(ctx, call)
}

// Calls returns the recorded calls, optionally filtered by method.
func (f *FakeBus) Calls(method ...string) []RecordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(method) == 0 {
		return append([]RecordedCall(nil), f.calls...)
	}
	var out []RecordedCall
	for _, c := range f.calls {
		for _, m := range method {
			if c.Method == m {
				out = append(out, c)
			}
		}
	}
	return out
}

func (f *FakeBus) Subscribe(opts ...dbus.MatchOption) (*bus.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("fakebus: closed")
	}
	id := f.nextSub
	f.nextSub++
	ch := make(chan *dbus.Signal, 32)
	f.subs[id] = ch
	return bus.NewSubscription(ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}), nil
}

// Subscribers returns the number of open subscriptions.
func (f *FakeBus) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Inject delivers sig to every open subscription.
func (f *FakeBus) Inject(sig *dbus.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- sig
	}
}

// Drop simulates loss of the underlying connection.
func (f *FakeBus) Drop() {
	f.doneOnce.Do(func() { close(f.done) })
}

func (f *FakeBus) Done() <-chan struct{} { return f.done }

func (f *FakeBus) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.Drop()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeBus) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
