package main

import (
	"errors"
	"fmt"

	dbus "github.com/godbus/dbus/v5"

	"github.com/srg/gattd/pkg/gatt"
	"github.com/srg/gattd/pkg/peripheral"
)

// FormatUserError renders err for the terminal, adding a hint for the
// failures an operator can act on.
func FormatUserError(err error) string {
	var cfgErr *gatt.ConfigurationError
	var regErr *peripheral.RegistrationError
	var dbusErr *dbus.Error

	switch {
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("invalid attribute tree: %v", cfgErr)
	case errors.As(err, &regErr):
		return fmt.Sprintf("%v\nhint: check that bluetoothd is running and the adapter is powered (bluetoothctl power on)", regErr)
	case errors.Is(err, peripheral.ErrTransportLost):
		return "D-Bus connection lost; object registrations are gone, restart gattd"
	case errors.As(err, &dbusErr):
		return fmt.Sprintf("%s: %v", dbusErr.Name, dbusErr.Error())
	default:
		return err.Error()
	}
}
