package peripheral

import (
	"errors"
	"fmt"
)

// RegistrationState is the progress of registering with bluetoothd.
type RegistrationState int

const (
	Unregistered RegistrationState = iota
	Registering
	Registered
	Failed
)

func (s RegistrationState) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("RegistrationState(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s RegistrationState) Terminal() bool {
	return s == Registered || s == Failed
}

// RegistrationError reports that bluetoothd rejected the application or its
// advertisement.
type RegistrationError struct {
	Endpoint string // D-Bus interface of the manager that refused, e.g. org.bluez.GattManager1
	Err      error
}

func (e *RegistrationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("registration with %s failed", e.Endpoint)
	}
	return fmt.Sprintf("registration with %s failed: %v", e.Endpoint, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Is matches ErrRegistration, or a RegistrationError for the same endpoint.
func (e *RegistrationError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*RegistrationError)
	if !ok {
		return false
	}
	return t.Endpoint == "" || t.Endpoint == e.Endpoint
}

var (
	// ErrRegistration matches any *RegistrationError with errors.Is.
	ErrRegistration = &RegistrationError{}

	// ErrTransportLost is returned by Start when the bus connection drops.
	// Object paths and registration do not survive it; restart the process.
	ErrTransportLost = errors.New("transport connection lost")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("peripheral already started")

	// ErrNotCharacteristic is returned by SetValue for a ref that resolves to
	// a service or a descriptor.
	ErrNotCharacteristic = errors.New("not a characteristic")
)
