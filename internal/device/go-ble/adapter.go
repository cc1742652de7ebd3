package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/groutine"
)

// scanFailedCode is reported in device.ScanFailed when the platform aborts a scan.
const scanFailedCode = 2

// HCIDevice selects the hciN controller opened by DeviceFactory on Linux.
var HCIDevice = 0

// Adapter is a device.Adapter backed by the go-ble host stack.
// The platform device is created lazily on first use and shared by scans and connections.
type Adapter struct {
	logger *logrus.Logger

	mu         sync.Mutex
	dev        ble.Device
	scanCancel context.CancelFunc
	scanDone   <-chan struct{}
}

// NewAdapter returns an adapter that opens the platform device on demand.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{logger: logger}
}

func (a *Adapter) device() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return a.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	a.dev = dev
	return dev, nil
}

// Enabled reports whether the platform device can be opened.
func (a *Adapter) Enabled() bool {
	if _, err := a.device(); err != nil {
		a.logger.WithError(err).Debug("Bluetooth adapter unavailable")
		return false
	}
	return true
}

func (a *Adapter) Device(address string) (device.Device, error) {
	if address == "" {
		return device.Device{}, &device.NotFoundError{Resource: "device"}
	}
	return device.Device{Handle: ble.NewAddr(address), Address: address}, nil
}

func (a *Adapter) Connect(dev device.Device, sink device.EventSink) (device.Gatt, error) {
	d, err := a.device()
	if err != nil {
		return nil, err
	}
	addr, ok := dev.Handle.(ble.Addr)
	if !ok {
		addr = ble.NewAddr(dev.Address)
	}

	g := newGatt(dev.Address, sink, a.logger)
	a.logger.WithField("device", dev.Address).Debug("Dialing BLE device...")
	g.start(func(ctx context.Context) (client, error) {
		c, err := d.Dial(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to device with address %q: %w", dev.Address, err)
		}
		return c, nil
	})
	return g, nil
}

func (a *Adapter) StartScan(filter device.ScanFilter, settings device.ScanSettings, sink device.EventSink) error {
	d, err := a.device()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanCancel != nil {
		return device.ErrOperationBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.scanCancel = cancel

	a.logger.WithFields(logrus.Fields{
		"filter": filter,
		"mode":   settings.Mode,
	}).Debug("Starting BLE scan")

	a.scanDone = groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		err := d.Scan(ctx, true, func(adv ble.Advertisement) {
			res := toScanResult(adv)
			if filter.Match(res) {
				sink.Deliver(res)
			}
		})

		a.mu.Lock()
		if a.scanCancel != nil && ctx.Err() == nil {
			a.scanCancel()
			a.scanCancel = nil
		}
		a.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			a.logger.WithError(NormalizeError(err)).Warn("BLE scan aborted")
			sink.Deliver(device.ScanFailed{Code: scanFailedCode})
		}
	})
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	cancel, done := a.scanCancel, a.scanDone
	a.scanCancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return device.ErrScanNotRunning
	}
	cancel()
	<-done
	return nil
}

// toScanResult converts an advertisement into a scan result with canonical service UUIDs.
func toScanResult(adv ble.Advertisement) device.ScanResult {
	uuids := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		uuids = append(uuids, device.CanonicalUUID(u.String()))
	}
	addr := adv.Addr()
	return device.ScanResult{
		Device:       device.Device{Handle: addr, Address: addr.String(), Name: adv.LocalName()},
		RSSI:         adv.RSSI(),
		ServiceUUIDs: uuids,
	}
}
