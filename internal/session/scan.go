package session

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/reply"
	"github.com/srg/blehelper/internal/timer"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultScanTimeout bounds a scan started without a positive timeout.
const DefaultScanTimeout = 5 * time.Second

// ScannedDevice is one accumulated scan result.
type ScannedDevice struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

// Results is an immutable snapshot of scan results keyed by address, in first-seen order.
type Results struct {
	devices *orderedmap.OrderedMap[string, ScannedDevice]
}

func (r Results) Len() int {
	if r.devices == nil {
		return 0
	}
	return r.devices.Len()
}

func (r Results) Get(address string) (ScannedDevice, bool) {
	if r.devices == nil {
		return ScannedDevice{}, false
	}
	return r.devices.Get(address)
}

// Devices returns the results in first-seen order.
func (r Results) Devices() []ScannedDevice {
	out := make([]ScannedDevice, 0, r.Len())
	if r.devices == nil {
		return out
	}
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// MarshalJSON encodes the results as {address: {deviceId, deviceName}}, preserving order.
func (r Results) MarshalJSON() ([]byte, error) {
	if r.devices == nil {
		return []byte("{}"), nil
	}
	return r.devices.MarshalJSON()
}

// ScanOptions selects what to look for. Name, Address and ServiceUUID are optional and
// AND-combined; a result matching Address or Name ends the scan early.
type ScanOptions struct {
	Name        string
	Address     string
	ServiceUUID string
	Timeout     time.Duration
}

func (o ScanOptions) filter() device.ScanFilter {
	return device.ScanFilter{Name: o.Name, Address: o.Address, ServiceUUID: o.ServiceUUID}
}

// Scan is the discovery state machine: Idle, PermissionPending, Scanning.
//
// Public methods may be called from any goroutine; they run on the session loop.
type Scan struct {
	adapter     device.Adapter
	location    device.LocationService
	permissions device.Permissions
	loop        *Loop
	timers      *timer.Scheduler
	logger      *logrus.Logger

	scanning  bool
	attempt   uint64
	permToken string
	opts      ScanOptions
	results   *orderedmap.OrderedMap[string, ScannedDevice]
	pending   *reply.Pending[Results]

	// seen is called for every accepted scan result.
	seen func(device.ScanResult)
}

// ScanConfig wires a Scan to its collaborators. Location and Permissions may be nil when the
// platform has no such gate.
type ScanConfig struct {
	Adapter     device.Adapter
	Location    device.LocationService
	Permissions device.Permissions
	Loop        *Loop
	Clock       timer.Clock
	Logger      *logrus.Logger
	// Seen is called on the loop for every scan result that passed the filter.
	Seen func(device.ScanResult)
}

func NewScan(cfg ScanConfig) *Scan {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Scan{
		adapter:     cfg.Adapter,
		location:    cfg.Location,
		permissions: cfg.Permissions,
		loop:        cfg.Loop,
		timers:      timer.NewScheduler(cfg.Clock, func(f func()) { cfg.Loop.Post(f) }, logger),
		logger:      logger,
		results:     orderedmap.New[string, ScannedDevice](),
		pending:     reply.NewPending[Results](reply.Scan),
		seen:        cfg.Seen,
	}
}

// Scanning reports whether the adapter is scanning for this session.
func (s *Scan) Scanning() bool {
	var ok bool
	s.loop.Call(func() { ok = s.scanning })
	return ok
}

// PermissionPending reports whether the session waits for a permission answer.
func (s *Scan) PermissionPending() bool {
	var ok bool
	s.loop.Call(func() { ok = s.permToken != "" })
	return ok
}

// Results returns the results accumulated so far.
func (s *Scan) Results() Results {
	var res Results
	s.loop.Call(func() { res = s.snapshot() })
	return res
}

// StartScan starts a scan. r receives the accumulated results when the scan stops, or a typed
// error if a gate fails. A scan already running or waiting for permission answers
// ErrOperationBusy to the new caller and keeps going.
func (s *Scan) StartScan(opts ScanOptions, r reply.Reply[Results]) {
	s.loop.Call(func() { s.startScan(opts, r) })
}

func (s *Scan) startScan(opts ScanOptions, r reply.Reply[Results]) {
	if r == nil {
		r = reply.Discard[Results]()
	}
	if s.scanning || s.permToken != "" {
		s.logger.Debug("Already scanning")
		r.Error(device.ErrOperationBusy)
		return
	}

	s.results = orderedmap.New[string, ScannedDevice]()
	s.pending.Arm(r, func(stale reply.Reply[Results]) { stale.Success(s.snapshot()) })

	if !s.adapter.Enabled() {
		s.pending.Fail(device.ErrAdapterDisabled)
		return
	}
	if s.location != nil && !s.location.Enabled() {
		s.pending.Fail(device.ErrLocationServiceDisabled)
		return
	}
	if s.permissions != nil && s.permissions.Status() != device.PermissionGranted {
		token := uuid.NewString()
		s.permToken = token
		s.logger.WithField("request", token).Debug("Requesting scan permission")
		s.permissions.Request(func(granted bool) {
			s.loop.Post(func() { s.onPermission(token, granted, opts) })
		})
		return
	}
	s.begin(opts)
}

func (s *Scan) onPermission(token string, granted bool, opts ScanOptions) {
	log := s.logger.WithFields(logrus.Fields{"request": token, "granted": granted})
	if token != s.permToken {
		log.Debug("Dropping answer to an abandoned permission request")
		return
	}
	s.permToken = ""
	if !granted {
		log.Warn("Scanning requires location permission")
		s.pending.Fail(device.ErrPermissionDenied)
		return
	}
	log.Debug("Scan permission granted")
	s.begin(opts)
}

func (s *Scan) begin(opts ScanOptions) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultScanTimeout
	}
	s.opts = opts
	s.attempt++
	settings := device.ScanSettings{Mode: device.ScanModeLowPower}
	if err := s.adapter.StartScan(opts.filter(), settings, s.sinkFor(s.attempt)); err != nil {
		s.logger.WithError(err).Warn("Failed to start scan")
		s.pending.Fail(err)
		return
	}
	s.scanning = true
	s.timers.Arm(timer.ScanTimeout, opts.Timeout, func() {
		s.logger.Debug("Scan timed out")
		s.stopScan()
	})
	s.logger.WithFields(logrus.Fields{
		"name":    opts.Name,
		"address": opts.Address,
		"service": opts.ServiceUUID,
		"timeout": opts.Timeout,
	}).Info("Scan started")
}

// StopScan stops scanning, resolves the waiting caller with the accumulated results and
// returns them. Safe to call at any time, any number of times.
func (s *Scan) StopScan() Results {
	var res Results
	s.loop.Call(func() { res = s.stopScan() })
	return res
}

func (s *Scan) stopScan() Results {
	s.timers.Cancel(timer.ScanTimeout)
	wasScanning := s.scanning
	s.scanning = false
	s.permToken = ""

	if wasScanning {
		if err := s.adapter.StopScan(); err != nil {
			if errors.Is(err, device.ErrScanNotRunning) {
				s.logger.WithError(err).Debug("Scan already stopped")
			} else {
				s.logger.WithError(err).Warn("Failed to stop scan")
			}
		}
		s.logger.WithField("devices", s.results.Len()).Info("Scan stopped")
	}

	res := s.snapshot()
	s.pending.Succeed(res)
	return res
}

func (s *Scan) sinkFor(attempt uint64) device.EventSink {
	return device.EventSinkFunc(func(ev device.Event) {
		s.loop.Post(func() {
			if !s.scanning || attempt != s.attempt {
				return
			}
			switch e := ev.(type) {
			case device.ScanResult:
				s.onResult(e)
			case device.ScanFailed:
				s.logger.WithField("code", e.Code).Warn("Scan failed")
				s.stopScan()
			}
		})
	})
}

func (s *Scan) onResult(res device.ScanResult) {
	if !s.opts.filter().Match(res) {
		return
	}
	addr := res.Device.Address
	if _, dup := s.results.Get(addr); !dup {
		s.results.Set(addr, ScannedDevice{DeviceID: addr, DeviceName: res.Device.Name})
		s.logger.WithFields(logrus.Fields{
			"address": addr,
			"name":    res.Device.Name,
			"rssi":    res.RSSI,
		}).Debug("Device found")
	}
	if s.seen != nil {
		s.seen(res)
	}

	switch {
	case s.opts.Address != "" && strings.EqualFold(addr, s.opts.Address):
		s.logger.WithField("address", addr).Debug("Scanned target address")
		s.stopScan()
	case s.opts.Name != "" && res.Device.Name == s.opts.Name:
		s.logger.WithField("name", res.Device.Name).Debug("Scanned target name")
		s.stopScan()
	}
}

func (s *Scan) snapshot() Results {
	cp := orderedmap.New[string, ScannedDevice]()
	for pair := s.results.Oldest(); pair != nil; pair = pair.Next() {
		cp.Set(pair.Key, pair.Value)
	}
	return Results{devices: cp}
}
