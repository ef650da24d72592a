package peripheral

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestRegistrationState(t *testing.T) {
	tests := []struct {
		state    RegistrationState
		name     string
		terminal bool
	}{
		{Unregistered, "unregistered", false},
		{Registering, "registering", false},
		{Registered, "registered", true},
		{Failed, "failed", true},
		{RegistrationState(9), "RegistrationState(9)", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.state.String())
			assert.Equal(t, tt.terminal, tt.state.Terminal())
		})
	}
}

func TestRegistrationError(t *testing.T) {
	cause := errors.New("rejected")
	err := fmt.Errorf("start: %w", &RegistrationError{Endpoint: "org.bluez.GattManager1", Err: cause})

	assert.ErrorIs(t, err, ErrRegistration, "any registration error MUST match ErrRegistration")
	assert.ErrorIs(t, err, &RegistrationError{Endpoint: "org.bluez.GattManager1"})
	assert.NotErrorIs(t, err, &RegistrationError{Endpoint: "org.bluez.LEAdvertisingManager1"})
	assert.ErrorIs(t, err, cause, "the cause MUST stay reachable")
	assert.EqualError(t, err, "start: registration with org.bluez.GattManager1 failed: rejected")

	assert.Equal(t, "registration with x failed", (&RegistrationError{Endpoint: "x"}).Error())
	assert.NotErrorIs(t, ErrTransportLost, ErrRegistration)
}

func TestCleanupStack(t *testing.T) {
	// GOAL: Verify teardown runs in reverse and survives failing steps
	//
	// TEST SCENARIO: push a, b (fails), c → run order c, b, a; second run is a no-op

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)

	var order []string
	var stack cleanupStack
	step := func(name string, err error) {
		stack.push(name, func() error {
			order = append(order, name)
			return err
		})
	}
	step("a", nil)
	step("b", errors.New("boom"))
	step("c", nil)

	stack.run(logger)
	assert.Equal(t, []string{"c", "b", "a"}, order, "steps MUST run last pushed first")
	assert.Contains(t, buf.String(), "Teardown step failed")

	stack.run(logger)
	assert.Len(t, order, 3, "steps MUST run only once")
}
