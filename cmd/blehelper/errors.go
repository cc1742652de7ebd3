package main

import (
	"errors"
	"fmt"

	"github.com/srg/blehelper/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost during operation.
	// This is distinct from device.ErrNotConnected, which indicates an attempt to use
	// a device that was never connected or was already disconnected.
	ErrConnectionLost = errors.New("connection lost")

	// ErrConnectFailed indicates the platform reported a failed connection attempt.
	ErrConnectFailed = errors.New("connection failed")
)

// FormatUserError renders err for the terminal, adding a hint for the failures a user can act on.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var hint string
	var nf *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrAdapterDisabled):
		hint = "make sure Bluetooth is turned on and this program may use it"
	case errors.Is(err, device.ErrLocationServiceDisabled):
		hint = "scanning needs location services; enable them or set location.enabled in the config"
	case errors.Is(err, device.ErrPermissionDenied):
		hint = "scan permission was refused; answer the prompt or set location.permission: granted"
	case errors.Is(err, device.ErrTimeout):
		hint = "the device did not answer in time; move closer or raise the timeout"
	case errors.Is(err, device.ErrOperationBusy):
		hint = "another scan is already running"
	case errors.Is(err, ErrConnectFailed), errors.Is(err, ErrConnectionLost):
		hint = "check that the device is powered, advertising and in range"
	case errors.As(err, &nf):
		hint = "run 'blehelper connect <address>' to list the available characteristics"
	}

	if hint == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s\n  hint: %s", err, hint)
}
