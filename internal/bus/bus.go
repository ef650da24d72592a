// Package bus adapts a godbus connection to the narrow surface the peripheral
// needs and provides the single dispatch loop all inbound work runs on.
package bus

import (
	"context"
	"fmt"

	dbus "github.com/godbus/dbus/v5"
)

// Kind selects which message bus to connect to.
type Kind string

const (
	System  Kind = "system"
	Session Kind = "session"
)

// Bus is the transport surface used by the exporter, the device event bridge
// and the lifecycle controller. *Conn implements it over godbus; tests use a fake.
type Bus interface {
	// Export publishes v's methods under iface at path. A nil v removes the export.
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	// Emit sends a signal. It is safe for concurrent use.
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	// Call invokes method on the remote object and waits for the reply.
	Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...interface{}) error
	// Subscribe adds a match rule and returns the signals delivered for it.
	Subscribe(opts ...dbus.MatchOption) (*Subscription, error)
	// Done is closed when the underlying connection is lost or closed.
	Done() <-chan struct{}
	Close() error
}

// Subscription is a stream of signals for one match rule.
type Subscription struct {
	C      <-chan *dbus.Signal
	cancel func()
}

// NewSubscription wraps a signal channel and its release function.
func NewSubscription(ch <-chan *dbus.Signal, cancel func()) *Subscription {
	return &Subscription{C: ch, cancel: cancel}
}

// Close removes the match rule; it is safe to call more than once.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Conn implements Bus on top of a private godbus connection.
type Conn struct {
	conn *dbus.Conn
}

// Dial opens a private connection to the selected bus and, when name is not
// empty, claims it as a well-known name.
func Dial(kind Kind, name string) (*Conn, error) {
	var (
		c   *dbus.Conn
		err error
	)
	switch kind {
	case System, "":
		c, err = dbus.ConnectSystemBus()
	case Session:
		c, err = dbus.ConnectSessionBus()
	default:
		return nil, fmt.Errorf("bus: unknown bus kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s bus: %w", kind, err)
	}

	if name != "" {
		reply, err := c.RequestName(name, dbus.NameFlagDoNotQueue)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("bus: request name %q: %w", name, err)
		}
		if reply != dbus.RequestNameReplyPrimaryOwner {
			_ = c.Close()
			return nil, fmt.Errorf("bus: name %q already taken", name)
		}
	}
	return &Conn{conn: c}, nil
}

func (c *Conn) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	return c.conn.Export(v, path, iface)
}

func (c *Conn) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	return c.conn.Emit(path, name, values...)
}

func (c *Conn) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...interface{}) error {
	return c.conn.Object(dest, path).CallWithContext(ctx, method, 0, args...).Err
}

func (c *Conn) Subscribe(opts ...dbus.MatchOption) (*Subscription, error) {
	if err := c.conn.AddMatchSignal(opts...); err != nil {
		return nil, fmt.Errorf("bus: add match: %w", err)
	}
	ch := make(chan *dbus.Signal, 32)
	c.conn.Signal(ch)
	return NewSubscription(ch, func() {
		c.conn.RemoveSignal(ch)
		_ = c.conn.RemoveMatchSignal(opts...)
	}), nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.conn.Context().Done()
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
