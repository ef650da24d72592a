// Package dispatch invokes application accessors for inbound reads and writes
// and converts their outcome into values or typed errors.
package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattd/pkg/gatt"
)

// Recorder stores the last value of a characteristic. Version changes on
// every stored value. *notify.Engine implements it.
type Recorder interface {
	Record(path string, v gatt.Value)
	Version(path string) uint64
}

// Dispatcher routes calls to the accessors of a tree. It is not safe for
// concurrent use; callers run it on the dispatch loop.
type Dispatcher struct {
	tree     *gatt.Tree
	recorder Recorder
	logger   *logrus.Logger
}

// New creates a dispatcher. recorder may be nil.
func New(tree *gatt.Tree, recorder Recorder, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{tree: tree, recorder: recorder, logger: logger}
}

func (d *Dispatcher) accessor(path string) (gatt.Accessor, error) {
	node, ok := d.tree.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", gatt.ErrUnknownPath, path)
	}
	acc, ok := node.(gatt.Accessor)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", gatt.ErrNotSupported, path, node.Kind())
	}
	return acc, nil
}

// Read returns the value of path: its static value, or whatever its read
// accessor returns, unmodified.
func (d *Dispatcher) Read(path string, opts gatt.Options) (gatt.Value, error) {
	acc, err := d.accessor(path)
	if err != nil {
		return gatt.Value{}, err
	}
	log := d.logger.WithFields(logrus.Fields{"path": path, "op": "read"}).WithFields(opts.Fields())

	if !acc.Flags().CanRead() {
		log.Debug("Read rejected: not readable")
		return gatt.Value{}, fmt.Errorf("%w: %s is not readable", gatt.ErrNotSupported, path)
	}
	if v, ok := acc.Static(); ok {
		log.WithField("size", len(v.Bytes())).Debug("Read static value")
		return v, nil
	}

	read := acc.Reader()
	if read == nil {
		err := &gatt.ConfigurationError{Path: path, Reason: "readable node has no read accessor"}
		log.WithError(err).Error("Read failed")
		return gatt.Value{}, err
	}

	start := time.Now()
	v, err := callRead(path, read)
	log = log.WithField("elapsed", time.Since(start))
	if err != nil {
		log.WithError(err).Warn("Read accessor failed")
		return gatt.Value{}, err
	}
	log.WithFields(logrus.Fields{"kind": v.Kind(), "size": len(v.Bytes())}).Debug("Read")
	return v, nil
}

// Write hands data to the write accessor of path. On success the written
// bytes become the characteristic's last value, unless the accessor pushed
// a value of its own; on failure nothing changes.
func (d *Dispatcher) Write(path string, data []byte, opts gatt.Options) error {
	acc, err := d.accessor(path)
	if err != nil {
		return err
	}
	log := d.logger.WithFields(logrus.Fields{"path": path, "op": "write", "size": len(data)}).WithFields(opts.Fields())

	if !acc.Flags().CanWrite() {
		log.Debug("Write rejected: not writable")
		return fmt.Errorf("%w: %s is not writable", gatt.ErrNotSupported, path)
	}
	write := acc.Writer()
	if write == nil {
		err := &gatt.ConfigurationError{Path: path, Reason: "writable node has no write accessor"}
		log.WithError(err).Error("Write failed")
		return err
	}

	record := acc.Kind() == gatt.KindCharacteristic && d.recorder != nil
	var version uint64
	if record {
		version = d.recorder.Version(path)
	}

	start := time.Now()
	status, err := callWrite(path, write, bytes.Clone(data))
	log = log.WithFields(logrus.Fields{"status": status, "elapsed": time.Since(start)})
	if err != nil {
		log.WithError(err).Warn("Write accessor failed")
		return err
	}

	switch {
	case !record:
	case d.recorder.Version(path) != version:
		log.Debug("Write accessor pushed its own value")
	default:
		d.recorder.Record(path, gatt.Bytes(data))
	}
	log.Debug("Write")
	return nil
}

var errNoValue = errors.New("accessor returned no value")

func callRead(path string, read gatt.ReadFunc) (v gatt.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = gatt.Value{}, &gatt.AccessorError{Path: path, Op: "read", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	v, err = read()
	if err != nil {
		return gatt.Value{}, &gatt.AccessorError{Path: path, Op: "read", Err: err}
	}
	if !v.IsValid() {
		return gatt.Value{}, &gatt.AccessorError{Path: path, Op: "read", Err: errNoValue}
	}
	return v, nil
}

func callWrite(path string, write gatt.WriteFunc, data []byte) (status int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &gatt.AccessorError{Path: path, Op: "write", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	status, err = write(data)
	if err != nil || status != 0 {
		return status, &gatt.AccessorError{Path: path, Op: "write", Status: status, Err: err}
	}
	return 0, nil
}
