// Package tinygo implements device.Adapter on top of tinygo.org/x/bluetooth, which talks to
// BlueZ over D-Bus on Linux and CoreBluetooth on macOS without raw HCI access.
package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/groutine"
	"tinygo.org/x/bluetooth"
)

const scanFailedCode = 2

// Adapter is a device.Adapter backed by bluetooth.DefaultAdapter.
type Adapter struct {
	radio  *bluetooth.Adapter
	logger *logrus.Logger

	enableOnce sync.Once
	enableErr  error

	mu       sync.Mutex
	gatts    map[string]*Gatt
	scanning bool
	scanDone <-chan struct{}
}

func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		radio:  bluetooth.DefaultAdapter,
		logger: logger,
		gatts:  make(map[string]*Gatt),
	}
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		if err := a.radio.Enable(); err != nil {
			a.enableErr = fmt.Errorf("%w: %v", device.ErrAdapterDisabled, err)
			return
		}
		a.radio.SetConnectHandler(func(d bluetooth.Device, connected bool) {
			if connected {
				return
			}
			a.mu.Lock()
			g := a.gatts[d.Address.String()]
			a.mu.Unlock()
			if g != nil {
				g.linkLost()
			}
		})
	})
	return a.enableErr
}

func (a *Adapter) Enabled() bool {
	if err := a.enable(); err != nil {
		a.logger.WithError(err).Debug("Bluetooth adapter unavailable")
		return false
	}
	return true
}

func (a *Adapter) Device(address string) (device.Device, error) {
	if address == "" {
		return device.Device{}, &device.NotFoundError{Resource: "device"}
	}
	var addr bluetooth.Address
	addr.Set(address)
	return device.Device{Handle: addr, Address: address}, nil
}

func (a *Adapter) Connect(dev device.Device, sink device.EventSink) (device.Gatt, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}
	addr, ok := dev.Handle.(bluetooth.Address)
	if !ok {
		addr.Set(dev.Address)
	}

	g := newGatt(dev.Address, sink, a.logger)
	a.mu.Lock()
	a.gatts[addr.String()] = g
	a.mu.Unlock()

	g.start(func() (link, error) {
		d, err := a.radio.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to device with address %q: %w", dev.Address, err)
		}
		return deviceLink{dev: d}, nil
	})
	return g, nil
}

func (a *Adapter) StartScan(filter device.ScanFilter, settings device.ScanSettings, sink device.EventSink) error {
	if err := a.enable(); err != nil {
		return err
	}

	var service bluetooth.UUID
	hasService := false
	if filter.ServiceUUID != "" {
		u, err := bluetooth.ParseUUID(device.CanonicalUUID(filter.ServiceUUID))
		if err != nil {
			return fmt.Errorf("invalid service filter %q: %w", filter.ServiceUUID, err)
		}
		service, hasService = u, true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanning {
		return device.ErrOperationBusy
	}
	a.scanning = true

	a.logger.WithFields(logrus.Fields{
		"filter": filter,
		"mode":   settings.Mode,
	}).Debug("Starting BLE scan")

	a.scanDone = groutine.Go(context.Background(), "tinygo-scan", func(context.Context) {
		err := a.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			res := device.ScanResult{
				Device: device.Device{Handle: result.Address, Address: result.Address.String(), Name: result.LocalName()},
				RSSI:   int(result.RSSI),
			}
			if hasService && result.HasServiceUUID(service) {
				res.ServiceUUIDs = []string{device.CanonicalUUID(service.String())}
			}
			if filter.Match(res) {
				sink.Deliver(res)
			}
		})

		a.mu.Lock()
		stopped := !a.scanning
		a.scanning = false
		a.mu.Unlock()

		if err != nil && !stopped {
			a.logger.WithError(err).Warn("BLE scan aborted")
			sink.Deliver(device.ScanFailed{Code: scanFailedCode})
		}
	})
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	if !a.scanning {
		a.mu.Unlock()
		return device.ErrScanNotRunning
	}
	a.scanning = false
	done := a.scanDone
	a.mu.Unlock()

	if err := a.radio.StopScan(); err != nil {
		return err
	}
	<-done
	return nil
}

// deviceLink adapts bluetooth.Device to link.
type deviceLink struct {
	dev bluetooth.Device
}

func (l deviceLink) Characteristics() ([]discovered, error) {
	services, err := l.dev.DiscoverServices(nil)
	if err != nil {
		return nil, err
	}
	out := make([]discovered, 0, len(services))
	for i := range services {
		chars, err := services[i].DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", services[i].UUID(), err)
		}
		d := discovered{service: services[i].UUID().String()}
		for j := range chars {
			d.characteristics = append(d.characteristics, &chars[j])
		}
		out = append(out, d)
	}
	return out, nil
}

func (l deviceLink) Disconnect() error {
	return l.dev.Disconnect()
}
