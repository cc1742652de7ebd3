//go:build linux

package goble

import (
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
	"golang.org/x/sys/unix"
)

const dialTimeout = 20 * time.Second

var scanParams = cmd.LESetScanParameters{
	LEScanType:           1,    // active
	LEScanInterval:       0x10, // 10ms
	LEScanWindow:         0x10, // 10ms
	OwnAddressType:       0,
	ScanningFilterPolicy: 0,
}

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	dev, err := linux.NewDevice(
		ble.OptDeviceID(HCIDevice),
		ble.OptDialerTimeout(dialTimeout),
		ble.OptScanParams(scanParams),
	)
	if err != nil {
		if unix.Geteuid() != 0 {
			return nil, fmt.Errorf("failed to open hci%d (raw HCI access needs root or CAP_NET_ADMIN): %w", HCIDevice, err)
		}
		return nil, fmt.Errorf("failed to open hci%d: %w", HCIDevice, err)
	}
	return dev, nil
}
