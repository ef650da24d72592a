// Package notify tracks which characteristics the peer subscribed to and turns
// application value pushes into ordered value-changed signals.
package notify

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattd/pkg/gatt"
)

// ErrStopped is returned by SetValue when a signal was due but the dispatch
// loop no longer accepts work. The value is still recorded.
var ErrStopped = errors.New("notify: dispatch loop stopped")

// Emitter sends a value-changed signal for a characteristic.
type Emitter interface {
	EmitValue(path string, data []byte) error
}

// Poster queues work onto the dispatch loop. *bus.Loop implements it.
type Poster interface {
	Post(fn func()) bool
}

type entry struct {
	mu        sync.Mutex
	char      *gatt.Characteristic
	notifying bool
	last      gatt.Value
	version   uint64
}

// Engine holds the subscriber state of every characteristic in a tree.
type Engine struct {
	table  *hashmap.Map[string, *entry]
	loop   Poster
	logger *logrus.Logger

	emu     sync.RWMutex
	emitter Emitter
}

// New creates an engine with one Idle entry per characteristic of tree.
func New(tree *gatt.Tree, loop Poster, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		table:  hashmap.New[string, *entry](),
		loop:   loop,
		logger: logger,
	}
	for _, c := range tree.Characteristics() {
		ent := &entry{char: c}
		if v, ok := c.Static(); ok {
			ent.last = v
		}
		e.table.Set(c.Path(), ent)
	}
	return e
}

// Attach sets the emitter used by emission jobs. A nil emitter disables emission.
func (e *Engine) Attach(em Emitter) {
	e.emu.Lock()
	e.emitter = em
	e.emu.Unlock()
}

func (e *Engine) lookup(path string) (*entry, error) {
	ent, ok := e.table.Get(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", gatt.ErrUnknownPath, path)
	}
	return ent, nil
}

// Start moves path to Notifying. Starting twice is a no-op.
func (e *Engine) Start(path string) error {
	ent, err := e.lookup(path)
	if err != nil {
		return err
	}
	if !ent.char.Flags().CanNotify() {
		return fmt.Errorf("%w: %s has neither notify nor indicate", gatt.ErrNotSupported, path)
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.notifying {
		e.logger.WithField("path", path).Debug("StartNotify: already notifying")
		return nil
	}
	ent.notifying = true
	e.logger.WithField("path", path).Info("Notifications started")
	return nil
}

// Stop moves path back to Idle. Stopping an Idle characteristic is a no-op.
func (e *Engine) Stop(path string) error {
	ent, err := e.lookup(path)
	if err != nil {
		return err
	}
	if !ent.char.Flags().CanNotify() {
		return fmt.Errorf("%w: %s has neither notify nor indicate", gatt.ErrNotSupported, path)
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.notifying {
		ent.notifying = false
		e.logger.WithField("path", path).Info("Notifications stopped")
	}
	return nil
}

// StopAll returns every characteristic to Idle.
func (e *Engine) StopAll() {
	e.table.Range(func(_ string, ent *entry) bool {
		ent.mu.Lock()
		ent.notifying = false
		ent.mu.Unlock()
		return true
	})
}

// SetValue records v as the last value of path and, when the characteristic
// is Notifying, queues a value-changed signal. It is safe to call from any
// goroutine. Signals for one path are emitted in SetValue order.
func (e *Engine) SetValue(path string, v gatt.Value) error {
	if !v.IsValid() {
		return fmt.Errorf("notify: invalid value for %s", path)
	}
	ent, err := e.lookup(path)
	if err != nil {
		return err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	ent.last = v
	ent.version++
	if !ent.notifying || !ent.char.Flags().CanNotify() {
		return nil
	}

	data := v.Bytes()
	// Posting under the entry lock keeps the loop's FIFO order equal to the
	// order in which SetValue calls acquired the lock.
	if !e.loop.Post(func() { e.emit(path, data) }) {
		return ErrStopped
	}
	return nil
}

// Record stores v as the last value without emitting anything.
func (e *Engine) Record(path string, v gatt.Value) {
	ent, err := e.lookup(path)
	if err != nil {
		return
	}
	ent.mu.Lock()
	ent.last = v
	ent.version++
	ent.mu.Unlock()
}

// Version counts the values stored for path by SetValue and Record.
func (e *Engine) Version(path string) uint64 {
	ent, err := e.lookup(path)
	if err != nil {
		return 0
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.version
}

// Last returns the last value recorded for path.
func (e *Engine) Last(path string) (gatt.Value, bool) {
	ent, err := e.lookup(path)
	if err != nil {
		return gatt.Value{}, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.last, ent.last.IsValid()
}

// Notifying reports whether path is in the Notifying state.
func (e *Engine) Notifying(path string) bool {
	ent, err := e.lookup(path)
	if err != nil {
		return false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.notifying
}

func (e *Engine) emit(path string, data []byte) {
	e.emu.RLock()
	em := e.emitter
	e.emu.RUnlock()
	if em == nil {
		e.logger.WithField("path", path).Warn("Dropping notification: no emitter attached")
		return
	}

	if err := em.EmitValue(path, data); err != nil {
		e.logger.WithFields(logrus.Fields{
			"path":  path,
			"size":  len(data),
			"error": err,
		}).Error("Failed to emit notification")
		return
	}
	e.logger.WithFields(logrus.Fields{"path": path, "size": len(data)}).Debug("Notification emitted")
}
