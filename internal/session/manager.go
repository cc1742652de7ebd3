package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/reply"
	"github.com/srg/blehelper/internal/timer"
)

// Options configures a Manager.
type Options struct {
	Adapter     device.Adapter
	Location    device.LocationService
	Permissions device.Permissions
	Clock       timer.Clock
	Logger      *logrus.Logger
}

// Manager is the process-level command surface. It owns the session loop, the scan session
// and one connection session per address, of which only one holds a live handle at a time.
type Manager struct {
	adapter device.Adapter
	clock   timer.Clock
	loop    *Loop
	router  *Router
	scan    *Scan
	logger  *logrus.Logger

	sessions map[string]*Connection // loop only
	active   *Connection            // loop only
	devices  *hashmap.Map[string, device.Device]
}

// NewManager starts a manager; its loop runs until ctx ends or Close is called.
func NewManager(ctx context.Context, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	m := &Manager{
		adapter:  opts.Adapter,
		clock:    opts.Clock,
		loop:     NewLoop(ctx, "ble-session-loop", logger),
		router:   NewRouter(logger),
		logger:   logger,
		sessions: make(map[string]*Connection),
		devices:  hashmap.New[string, device.Device](),
	}
	m.scan = NewScan(ScanConfig{
		Adapter:     opts.Adapter,
		Location:    opts.Location,
		Permissions: opts.Permissions,
		Loop:        m.loop,
		Clock:       opts.Clock,
		Logger:      logger,
		Seen:        m.remember,
	})
	return m
}

// Subscribe registers a sink for unsolicited events.
func (m *Manager) Subscribe(sink Sink) (cancel func()) {
	return m.router.Subscribe(sink)
}

// remember caches the platform handle of a scanned device so a later connect can reuse it.
func (m *Manager) remember(res device.ScanResult) {
	dev, existing := m.devices.GetOrInsert(res.Device.Address, res.Device)
	if existing && dev.Name == "" && res.Device.Name != "" {
		m.devices.Set(res.Device.Address, res.Device)
	}
}

// KnownDevice returns a device seen during a scan.
func (m *Manager) KnownDevice(address string) (device.Device, bool) {
	return m.devices.Get(address)
}

// session returns the connection session for address, creating it on first use.
func (m *Manager) session(address string) (*Connection, error) {
	if c, ok := m.sessions[address]; ok {
		return c, nil
	}
	dev, ok := m.devices.Get(address)
	if !ok {
		var err error
		if dev, err = m.adapter.Device(address); err != nil {
			return nil, fmt.Errorf("failed to resolve device %s: %w", address, err)
		}
	}
	c := NewConnection(dev, ConnectionOptions{
		Adapter: m.adapter,
		Loop:    m.loop,
		Clock:   m.clock,
		Router:  m.router,
		Logger:  m.logger,
		Acquire: m.acquire,
	})
	m.sessions[address] = c
	return c, nil
}

// acquire keeps a single live handle: the session about to connect releases the previous one.
func (m *Manager) acquire(c *Connection) {
	if m.active != nil && m.active != c {
		m.logger.WithFields(logrus.Fields{
			"previous": m.active.Address(),
			"next":     c.Address(),
		}).Info("Releasing previous connection")
		m.active.Release()
	}
	m.active = c
}

// existing returns the session for address only if it has been created by a connect.
func (m *Manager) existing(address string) *Connection {
	var c *Connection
	m.loop.Call(func() { c = m.sessions[address] })
	return c
}

// Connect connects to address. See Connection.Connect.
func (m *Manager) Connect(address string, timeout time.Duration, r reply.Reply[bool]) {
	m.loop.Call(func() {
		c, err := m.session(address)
		if err != nil {
			if r != nil {
				r.Error(err)
			}
			return
		}
		c.Connect(timeout, r)
	})
}

// RequestMTU negotiates the MTU with a connected device.
func (m *Manager) RequestMTU(address string, size int, r reply.Reply[bool]) {
	c := m.existing(address)
	if c == nil {
		if r != nil {
			r.Error(device.ErrNotConnected)
		}
		return
	}
	c.RequestMTU(size, r)
}

// DiscoverServices enumerates the characteristics of a connected device.
func (m *Manager) DiscoverServices(address string, timeout time.Duration, r reply.Reply[[]string]) {
	c := m.existing(address)
	if c == nil {
		if r != nil {
			r.Error(device.ErrNotConnected)
		}
		return
	}
	c.DiscoverServices(timeout, r)
}

func (m *Manager) CharacteristicRead(address, id string) bool {
	c := m.existing(address)
	return c != nil && c.Read(id)
}

func (m *Manager) CharacteristicWrite(address, id string, value []byte, withoutResponse bool) bool {
	c := m.existing(address)
	return c != nil && c.Write(id, value, withoutResponse)
}

func (m *Manager) CharacteristicSetNotification(address, id string, enable bool) bool {
	c := m.existing(address)
	return c != nil && c.SetNotification(id, enable)
}

// Disconnect detaches the session of address. Returns whether it held a handle.
func (m *Manager) Disconnect(address string) bool {
	c := m.existing(address)
	return c != nil && c.Disconnect()
}

// RefreshCache drops the platform attribute cache of address, when the backend supports it.
func (m *Manager) RefreshCache(address string) bool {
	c := m.existing(address)
	return c != nil && c.RefreshCache()
}

// State returns the connection state of address.
func (m *Manager) State(address string) device.ConnectionState {
	c := m.existing(address)
	if c == nil {
		return device.Disconnected
	}
	return c.State()
}

// Connection returns the session of address, if one was created.
func (m *Manager) Connection(address string) (*Connection, bool) {
	c := m.existing(address)
	return c, c != nil
}

func (m *Manager) StartScan(opts ScanOptions, r reply.Reply[Results]) {
	m.scan.StartScan(opts, r)
}

func (m *Manager) StopScan() Results {
	return m.scan.StopScan()
}

func (m *Manager) Scan() *Scan { return m.scan }

// ConnectWait connects and blocks until the outcome is known or ctx ends.
func (m *Manager) ConnectWait(ctx context.Context, address string, timeout time.Duration) (bool, error) {
	f := reply.NewFuture[bool]()
	m.Connect(address, timeout, f)
	return f.Wait(ctx)
}

// RequestMTUWait negotiates the MTU and blocks for the outcome.
func (m *Manager) RequestMTUWait(ctx context.Context, address string, size int) (bool, error) {
	f := reply.NewFuture[bool]()
	m.RequestMTU(address, size, f)
	return f.Wait(ctx)
}

// DiscoverServicesWait discovers services and blocks for the characteristic identifiers.
func (m *Manager) DiscoverServicesWait(ctx context.Context, address string, timeout time.Duration) ([]string, error) {
	f := reply.NewFuture[[]string]()
	m.DiscoverServices(address, timeout, f)
	return f.Wait(ctx)
}

// ScanWait scans until the scan stops by itself or ctx ends, whichever comes first, and
// returns the accumulated results.
func (m *Manager) ScanWait(ctx context.Context, opts ScanOptions) (Results, error) {
	f := reply.NewFuture[Results]()
	m.StartScan(opts, f)
	select {
	case <-f.Done():
	case <-ctx.Done():
		m.StopScan()
	}
	return f.Wait(context.Background())
}

// Flush waits until every callback posted to the session loop so far has run.
func (m *Manager) Flush() {
	m.loop.Call(func() {})
}

// Close stops scanning, releases every connection handle and stops the loop.
func (m *Manager) Close() {
	m.loop.Call(func() {
		m.scan.stopScan()
		for _, c := range m.sessions {
			c.Release()
		}
		m.active = nil
	})
	m.loop.Close()
}
