package testutils

import (
	"sync"

	"github.com/srg/blehelper/internal/device"
)

// FakeCharacteristic is an in-memory device.CharacteristicHandle.
type FakeCharacteristic struct {
	mu     sync.Mutex
	uuid   string
	props  device.Properties
	value  []byte
	cccd   *FakeDescriptor
	staged [][]byte
}

func NewFakeCharacteristic(uuid string, props device.Properties, value []byte) *FakeCharacteristic {
	c := &FakeCharacteristic{uuid: uuid, props: props, value: value}
	if props&(device.PropNotify|device.PropIndicate) != 0 {
		c.cccd = &FakeDescriptor{uuid: device.DescriptorClientConfig}
	}
	return c
}

func (c *FakeCharacteristic) UUID() string                  { return c.uuid }
func (c *FakeCharacteristic) Properties() device.Properties { return c.props }

func (c *FakeCharacteristic) Stage(value []byte) error {
	if len(value) > device.MaxAttributeLength {
		return device.ErrPayloadTooLarge
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = append([]byte(nil), value...)
	c.staged = append(c.staged, c.value)
	return nil
}

func (c *FakeCharacteristic) ClientConfig() device.DescriptorHandle {
	if c.cccd == nil {
		return nil
	}
	return c.cccd
}

// WithoutClientConfig drops the CCCD, like a peripheral that cannot push.
func (c *FakeCharacteristic) WithoutClientConfig() *FakeCharacteristic {
	c.cccd = nil
	return c
}

// Value returns the current local value.
func (c *FakeCharacteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...)
}

// CCCD returns the concrete client configuration descriptor, nil if absent.
func (c *FakeCharacteristic) CCCD() *FakeDescriptor { return c.cccd }

// FakeDescriptor is an in-memory device.DescriptorHandle.
type FakeDescriptor struct {
	mu    sync.Mutex
	uuid  string
	value []byte
}

func (d *FakeDescriptor) UUID() string { return d.uuid }

func (d *FakeDescriptor) Stage(value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.value = append([]byte(nil), value...)
	return nil
}

func (d *FakeDescriptor) Value() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.value...)
}

// FakeWrite records one characteristic or descriptor write.
type FakeWrite struct {
	UUID  string
	Value []byte
	Type  device.WriteType
}

// FakeGatt is a scriptable device.Gatt. With Responsive set on the adapter it answers every
// request with a successful completion event; otherwise tests emit events explicitly.
type FakeGatt struct {
	mu      sync.Mutex
	adapter *FakeAdapter
	dev     device.Device
	sink    device.EventSink

	RejectMTU      bool
	RejectDiscover bool
	RejectRead     bool
	RejectWrite    bool
	RejectNotify   bool

	disconnects   int
	closes        int
	mtuRequests   []int
	discoverCalls int
	reads         []string
	writes        []FakeWrite
	notifications map[string]bool
	descWrites    []FakeWrite
	refreshes     int
}

func (g *FakeGatt) responsive() bool { return g.adapter.Responsive() }

func (g *FakeGatt) Disconnect() {
	g.mu.Lock()
	g.disconnects++
	g.mu.Unlock()
	if g.responsive() {
		g.Emit(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Disconnected})
	}
}

func (g *FakeGatt) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes++
}

func (g *FakeGatt) RequestMTU(size int) bool {
	g.mu.Lock()
	g.mtuRequests = append(g.mtuRequests, size)
	reject := g.RejectMTU
	g.mu.Unlock()
	if reject {
		return false
	}
	if g.responsive() {
		g.Emit(device.MTUChanged{MTU: size, Status: device.StatusSuccess})
	}
	return true
}

func (g *FakeGatt) DiscoverServices() bool {
	g.mu.Lock()
	g.discoverCalls++
	reject := g.RejectDiscover
	g.mu.Unlock()
	if reject {
		return false
	}
	if g.responsive() {
		g.Emit(device.ServicesDiscovered{Status: device.StatusSuccess, Services: g.adapter.Profile()})
	}
	return true
}

func (g *FakeGatt) ReadCharacteristic(c device.CharacteristicHandle) bool {
	g.mu.Lock()
	g.reads = append(g.reads, c.UUID())
	reject := g.RejectRead
	g.mu.Unlock()
	if reject {
		return false
	}
	if g.responsive() {
		var value []byte
		if fc, ok := c.(*FakeCharacteristic); ok {
			value = fc.Value()
		}
		g.Emit(device.CharacteristicRead{Status: device.StatusSuccess, Characteristic: c, Value: value})
	}
	return true
}

func (g *FakeGatt) WriteCharacteristic(c device.CharacteristicHandle, wt device.WriteType) bool {
	var value []byte
	if fc, ok := c.(*FakeCharacteristic); ok {
		value = fc.Value()
	}
	g.mu.Lock()
	g.writes = append(g.writes, FakeWrite{UUID: c.UUID(), Value: value, Type: wt})
	reject := g.RejectWrite
	g.mu.Unlock()
	if reject {
		return false
	}
	if g.responsive() {
		g.Emit(device.CharacteristicWritten{Status: device.StatusSuccess, Characteristic: c})
	}
	return true
}

func (g *FakeGatt) SetCharacteristicNotification(c device.CharacteristicHandle, enable bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.notifications == nil {
		g.notifications = make(map[string]bool)
	}
	g.notifications[c.UUID()] = enable
	return !g.RejectNotify
}

func (g *FakeGatt) WriteDescriptor(d device.DescriptorHandle) bool {
	var value []byte
	if fd, ok := d.(*FakeDescriptor); ok {
		value = fd.Value()
	}
	g.mu.Lock()
	g.descWrites = append(g.descWrites, FakeWrite{UUID: d.UUID(), Value: value})
	g.mu.Unlock()
	if g.responsive() {
		g.Emit(device.DescriptorWritten{Status: device.StatusSuccess, Descriptor: d})
	}
	return true
}

func (g *FakeGatt) RefreshCache() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshes++
	return true
}

// Emit delivers ev as if the platform produced it.
func (g *FakeGatt) Emit(ev device.Event) {
	g.sink.Deliver(ev)
}

// Notify pushes a notification for c.
func (g *FakeGatt) Notify(c device.CharacteristicHandle, value []byte) {
	g.Emit(device.CharacteristicChanged{Characteristic: c, Value: value})
}

func (g *FakeGatt) Device() device.Device { return g.dev }

func (g *FakeGatt) Disconnects() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disconnects
}

func (g *FakeGatt) Closes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closes
}

func (g *FakeGatt) MTURequests() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.mtuRequests...)
}

func (g *FakeGatt) DiscoverCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.discoverCalls
}

func (g *FakeGatt) Reads() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.reads...)
}

func (g *FakeGatt) Writes() []FakeWrite {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]FakeWrite(nil), g.writes...)
}

func (g *FakeGatt) DescriptorWrites() []FakeWrite {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]FakeWrite(nil), g.descWrites...)
}

// NotificationEnabled reports the last local notify flag set for uuid.
func (g *FakeGatt) NotificationEnabled(uuid string) (enabled, set bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	enabled, set = g.notifications[uuid]
	return enabled, set
}

func (g *FakeGatt) Refreshes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshes
}

// FakeAdapter is an in-memory device.Adapter.
type FakeAdapter struct {
	mu         sync.Mutex
	enabled    bool
	responsive bool
	profile    []device.Service
	known      map[string]device.Device

	ConnectErr   error
	StartScanErr error
	StopScanErr  error

	gatts      []*FakeGatt
	scanSink   device.EventSink
	scanFilter device.ScanFilter
	scanMode   device.ScanMode
	scanStarts int
	scanStops  int
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{enabled: true, known: make(map[string]device.Device)}
}

func (a *FakeAdapter) SetEnabled(enabled bool) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
	return a
}

// SetResponsive makes every connection answer requests with successful completions.
func (a *FakeAdapter) SetResponsive(responsive bool) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responsive = responsive
	return a
}

func (a *FakeAdapter) Responsive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.responsive
}

// SetProfile sets the services reported by discovery in responsive mode.
func (a *FakeAdapter) SetProfile(services []device.Service) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profile = services
	return a
}

func (a *FakeAdapter) Profile() []device.Service {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.profile
}

// AddDevice registers a device resolvable by address.
func (a *FakeAdapter) AddDevice(dev device.Device) *FakeAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.known[dev.Address] = dev
	return a
}

func (a *FakeAdapter) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Device resolves registered devices and synthesizes a nameless one for anything else.
func (a *FakeAdapter) Device(address string) (device.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if dev, ok := a.known[address]; ok {
		return dev, nil
	}
	return device.Device{Address: address}, nil
}

func (a *FakeAdapter) Connect(dev device.Device, sink device.EventSink) (device.Gatt, error) {
	a.mu.Lock()
	if a.ConnectErr != nil {
		err := a.ConnectErr
		a.mu.Unlock()
		return nil, err
	}
	g := &FakeGatt{adapter: a, dev: dev, sink: sink}
	a.gatts = append(a.gatts, g)
	responsive := a.responsive
	a.mu.Unlock()

	if responsive {
		g.Emit(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Connected})
	}
	return g, nil
}

// Gatts returns every handle handed out, oldest first.
func (a *FakeAdapter) Gatts() []*FakeGatt {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*FakeGatt(nil), a.gatts...)
}

// LastGatt returns the most recent handle or nil.
func (a *FakeAdapter) LastGatt() *FakeGatt {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.gatts) == 0 {
		return nil
	}
	return a.gatts[len(a.gatts)-1]
}

func (a *FakeAdapter) StartScan(filter device.ScanFilter, settings device.ScanSettings, sink device.EventSink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.StartScanErr != nil {
		return a.StartScanErr
	}
	a.scanStarts++
	a.scanSink = sink
	a.scanFilter = filter
	a.scanMode = settings.Mode
	return nil
}

func (a *FakeAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanStops++
	return a.StopScanErr
}

// Advertise delivers a scan result to the running scan, if any.
func (a *FakeAdapter) Advertise(res device.ScanResult) {
	a.mu.Lock()
	sink := a.scanSink
	a.mu.Unlock()
	if sink != nil {
		sink.Deliver(res)
	}
}

// FailScan delivers a scan failure to the running scan.
func (a *FakeAdapter) FailScan(code int) {
	a.mu.Lock()
	sink := a.scanSink
	a.mu.Unlock()
	if sink != nil {
		sink.Deliver(device.ScanFailed{Code: code})
	}
}

func (a *FakeAdapter) ScanStarts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanStarts
}

func (a *FakeAdapter) ScanStops() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanStops
}

func (a *FakeAdapter) ScanFilter() device.ScanFilter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanFilter
}

func (a *FakeAdapter) ScanMode() device.ScanMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanMode
}

// FakeLocation is a switchable device.LocationService.
type FakeLocation struct {
	mu      sync.Mutex
	enabled bool
}

func NewFakeLocation(enabled bool) *FakeLocation { return &FakeLocation{enabled: enabled} }

func (l *FakeLocation) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

func (l *FakeLocation) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// FakePermissions holds permission requests until the test answers them.
type FakePermissions struct {
	mu       sync.Mutex
	status   device.PermissionStatus
	requests []func(bool)
}

func NewFakePermissions(status device.PermissionStatus) *FakePermissions {
	return &FakePermissions{status: status}
}

func (p *FakePermissions) Status() device.PermissionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *FakePermissions) Request(answer func(granted bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, answer)
}

func (p *FakePermissions) SetStatus(status device.PermissionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

// Requests returns how many requests were made.
func (p *FakePermissions) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Answer answers request i and records the new status.
func (p *FakePermissions) Answer(i int, granted bool) {
	p.mu.Lock()
	answer := p.requests[i]
	if granted {
		p.status = device.PermissionGranted
	} else {
		p.status = device.PermissionDenied
	}
	p.mu.Unlock()
	answer(granted)
}
