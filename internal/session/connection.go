package session

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/reply"
	"github.com/srg/blehelper/internal/timer"
)

// Connection is the connection state machine for one peripheral.
//
// Public methods may be called from any goroutine; they run on the session loop. Adapter
// events are re-posted onto the loop and tagged with the connect attempt that produced them,
// so events from a released handle are dropped.
type Connection struct {
	dev     device.Device
	adapter device.Adapter
	loop    *Loop
	timers  *timer.Scheduler
	router  *Router
	logger  *logrus.Logger

	state   device.ConnectionState
	gatt    device.Gatt
	attempt uint64
	mtu     int
	chars   *CharTable

	connectReply  *reply.Pending[bool]
	mtuReply      *reply.Pending[bool]
	discoverReply *reply.Pending[[]string]

	// acquire runs before a new handle is requested; the manager uses it to release the
	// handle held by any other session.
	acquire func(*Connection)
}

// ConnectionOptions wires a Connection to its collaborators.
type ConnectionOptions struct {
	Adapter device.Adapter
	Loop    *Loop
	Clock   timer.Clock
	Router  *Router
	Logger  *logrus.Logger
	// Acquire is called on the loop before the session requests a new handle.
	Acquire func(*Connection)
}

func NewConnection(dev device.Device, opts ConnectionOptions) *Connection {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	router := opts.Router
	if router == nil {
		router = NewRouter(logger)
	}
	return &Connection{
		dev:           dev,
		adapter:       opts.Adapter,
		loop:          opts.Loop,
		timers:        timer.NewScheduler(opts.Clock, func(f func()) { opts.Loop.Post(f) }, logger),
		router:        router,
		logger:        logger,
		state:         device.Disconnected,
		chars:         NewCharTable(),
		connectReply:  reply.NewPending[bool](reply.Connect),
		mtuReply:      reply.NewPending[bool](reply.RequestMTU),
		discoverReply: reply.NewPending[[]string](reply.DiscoverServices),
		acquire:       opts.Acquire,
	}
}

func (c *Connection) Address() string { return c.dev.Address }

func (c *Connection) Device() device.Device { return c.dev }

// State returns the current connection state.
func (c *Connection) State() device.ConnectionState {
	var s device.ConnectionState
	c.loop.Call(func() { s = c.state })
	return s
}

// MTU returns the last successfully negotiated MTU, 0 if none.
func (c *Connection) MTU() int {
	var mtu int
	c.loop.Call(func() { mtu = c.mtu })
	return mtu
}

// Characteristics returns the identifiers of the current characteristic table.
func (c *Connection) Characteristics() []string {
	var ids []string
	c.loop.Call(func() { ids = c.chars.IDs() })
	return ids
}

// HasHandle reports whether the session holds a raw connection handle.
func (c *Connection) HasHandle() bool {
	var ok bool
	c.loop.Call(func() { ok = c.gatt != nil })
	return ok
}

func (c *Connection) log() *logrus.Entry {
	return c.logger.WithField("device", c.dev.Address)
}

// Connect starts a connection attempt. r receives true once connected, false on failure,
// timeout or preemption by a newer Connect, or ErrAdapterDisabled.
func (c *Connection) Connect(timeout time.Duration, r reply.Reply[bool]) {
	c.loop.Call(func() { c.connect(timeout, r) })
}

func (c *Connection) connect(timeout time.Duration, r reply.Reply[bool]) {
	if r == nil {
		r = reply.Discard[bool]()
	}
	if c.state == device.Connected {
		c.log().Debug("Already connected")
		r.Success(true)
		return
	}
	if c.connectReply.Live() {
		c.log().Debug("Connect already in progress, preempting previous caller")
		c.connectReply.Succeed(false)
	}
	if !c.adapter.Enabled() {
		r.Error(device.ErrAdapterDisabled)
		return
	}

	// A handle left over from an attempt that never completed is released before reconnecting.
	c.releaseHandle()
	if c.acquire != nil {
		c.acquire(c)
	}

	c.attempt++
	gatt, err := c.adapter.Connect(c.dev, c.sinkFor(c.attempt))
	if err != nil {
		c.log().WithError(err).Warn("Failed to issue connect")
		r.Success(false)
		c.teardown()
		return
	}

	c.gatt = gatt
	c.connectReply.Arm(r, nil)
	c.setState(device.Connecting)
	c.timers.Arm(timer.ConnectTimeout, timeout, c.onConnectTimeout)
	c.log().WithField("timeout", timeout).Info("Connecting")
}

func (c *Connection) onConnectTimeout() {
	c.log().Warn("Connect timed out")
	c.connectReply.Succeed(false)
	c.teardown()
}

// RequestMTU asks the peripheral for a larger MTU. r receives true when the negotiation
// completes successfully, false if it fails, is rejected or is preempted.
func (c *Connection) RequestMTU(size int, r reply.Reply[bool]) {
	c.loop.Call(func() { c.requestMTU(size, r) })
}

func (c *Connection) requestMTU(size int, r reply.Reply[bool]) {
	if r == nil {
		r = reply.Discard[bool]()
	}
	if c.state != device.Connected || c.gatt == nil {
		r.Error(device.ErrNotConnected)
		return
	}
	c.mtuReply.Arm(r, func(stale reply.Reply[bool]) {
		c.log().Debug("MTU request already in progress, preempting previous caller")
		stale.Success(false)
	})
	if !c.gatt.RequestMTU(size) {
		c.log().WithField("mtu", size).Warn("Adapter rejected MTU request")
		c.mtuReply.Succeed(false)
	}
}

// DiscoverServices enumerates services and rebuilds the characteristic table. r receives the
// sorted characteristic identifiers, ErrTimeout on timeout or preemption, or ErrNotConnected.
func (c *Connection) DiscoverServices(timeout time.Duration, r reply.Reply[[]string]) {
	c.loop.Call(func() { c.discoverServices(timeout, r) })
}

func (c *Connection) discoverServices(timeout time.Duration, r reply.Reply[[]string]) {
	if r == nil {
		r = reply.Discard[[]string]()
	}
	if c.state != device.Connected || c.gatt == nil {
		r.Error(device.ErrNotConnected)
		return
	}
	c.discoverReply.Arm(r, func(stale reply.Reply[[]string]) {
		c.log().Debug("Discovery already in progress, preempting previous caller")
		stale.Error(device.Errorf(device.KindTimeout, "superseded by a newer discovery"))
	})
	c.chars.Clear()
	if !c.gatt.DiscoverServices() {
		c.log().Warn("Adapter rejected service discovery, waiting for timeout")
	}
	c.timers.Arm(timer.DiscoverTimeout, timeout, func() {
		c.log().Warn("Service discovery timed out")
		c.discoverReply.Fail(device.ErrTimeout)
	})
}

// Read issues a characteristic read. The value arrives as CharacteristicReadResult.
func (c *Connection) Read(id string) bool {
	var ok bool
	c.loop.Call(func() {
		ch, found := c.lookup(id)
		ok = found && c.gatt.ReadCharacteristic(ch)
	})
	return ok
}

// Write stages value into the characteristic and issues the write. A payload rejected
// locally returns false; the remote outcome arrives as CharacteristicWriteResult.
func (c *Connection) Write(id string, value []byte, withoutResponse bool) bool {
	var ok bool
	c.loop.Call(func() {
		ch, found := c.lookup(id)
		if !found {
			return
		}
		c.log().WithField("length", len(value)).Debug("Writing characteristic")
		if err := ch.Stage(value); err != nil {
			c.log().WithError(err).WithField("characteristic", id).Debug("Could not stage characteristic value")
			return
		}
		wt := device.WriteDefault
		if withoutResponse {
			wt = device.WriteNoResponse
		}
		ok = c.gatt.WriteCharacteristic(ch, wt)
	})
	return ok
}

// SetNotification toggles pushes for a characteristic. Succeeds only if the local flag was
// set and the client configuration descriptor write was issued.
func (c *Connection) SetNotification(id string, enable bool) bool {
	var ok bool
	c.loop.Call(func() {
		ch, found := c.lookup(id)
		if !found {
			return
		}
		flagged := c.gatt.SetCharacteristicNotification(ch, enable)
		c.log().WithFields(logrus.Fields{
			"characteristic": id,
			"enable":         enable,
			"result":         flagged,
		}).Debug("Set characteristic notification")

		cccd := ch.ClientConfig()
		if cccd == nil {
			return
		}
		if err := cccd.Stage(device.ClientConfigValue(ch, enable)); err != nil {
			c.log().WithError(err).Debug("Could not stage client configuration value")
			return
		}
		written := c.gatt.WriteDescriptor(cccd)
		ok = flagged && written
	})
	return ok
}

func (c *Connection) lookup(id string) (device.CharacteristicHandle, bool) {
	if c.gatt == nil || c.state != device.Connected {
		return nil, false
	}
	return c.chars.Lookup(id)
}

// Disconnect detaches the session: pending callers are dropped, timers cancelled and the
// adapter told to disconnect. The raw handle is kept until the next connect releases it.
// Returns whether there was a handle to disconnect.
func (c *Connection) Disconnect() bool {
	var had bool
	c.loop.Call(func() { had = c.disconnect() })
	return had
}

func (c *Connection) disconnect() bool {
	c.connectReply.Clear()
	c.mtuReply.Clear()
	c.discoverReply.Clear()
	c.timers.Cancel(timer.ConnectTimeout)
	c.timers.Cancel(timer.DiscoverTimeout)
	c.setState(device.Disconnected)

	if c.gatt == nil {
		c.log().Debug("Already disconnected")
		return false
	}
	c.log().Debug("Disconnecting")
	c.gatt.Disconnect()
	return true
}

// teardown is the terminal path after a failed or lost connection. Whoever triggered it
// has already resolved the callers it owed an answer to.
func (c *Connection) teardown() {
	c.disconnect()
	c.chars.Clear()
}

// Release disconnects and closes the raw handle. Events still in flight from it are dropped.
// Waiting callers are answered as if preempted: connect and MTU with false, discovery with
// ErrTimeout.
func (c *Connection) Release() bool {
	var had bool
	c.loop.Call(func() {
		had = c.gatt != nil
		c.connectReply.Succeed(false)
		c.mtuReply.Succeed(false)
		c.discoverReply.Fail(device.ErrTimeout)
		c.disconnect()
		c.chars.Clear()
		c.releaseHandle()
	})
	return had
}

func (c *Connection) releaseHandle() {
	if c.gatt == nil {
		return
	}
	c.log().Debug("Releasing connection handle")
	c.gatt.Disconnect()
	c.gatt.Close()
	c.gatt = nil
	c.attempt++
}

// RefreshCache asks the platform to drop its attribute cache, if the backend can.
func (c *Connection) RefreshCache() bool {
	var ok bool
	c.loop.Call(func() {
		if r, can := c.gatt.(device.CacheRefresher); can {
			ok = r.RefreshCache()
			return
		}
		c.log().Debug("Backend cannot refresh the attribute cache")
	})
	return ok
}

func (c *Connection) setState(s device.ConnectionState) {
	if c.state == s {
		return
	}
	c.log().WithFields(logrus.Fields{"from": c.state, "to": s}).Debug("Connection state changed")
	c.state = s
	c.router.Publish(StateChanged{Address: c.dev.Address, State: s})
}

// sinkFor tags adapter events with the attempt that produced them.
func (c *Connection) sinkFor(attempt uint64) device.EventSink {
	return device.EventSinkFunc(func(ev device.Event) {
		c.loop.Post(func() {
			if attempt != c.attempt {
				c.log().WithField("event", ev).Debug("Dropping event from a released handle")
				return
			}
			c.handle(ev)
		})
	})
}

func (c *Connection) handle(ev device.Event) {
	switch e := ev.(type) {
	case device.ConnectionStateChanged:
		c.onConnectionStateChanged(e)
	case device.ServicesDiscovered:
		c.onServicesDiscovered(e)
	case device.MTUChanged:
		c.onMTUChanged(e)
	case device.CharacteristicRead:
		c.router.Publish(CharacteristicReadResult{
			Address:        c.dev.Address,
			Characteristic: device.CanonicalUUID(e.Characteristic.UUID()),
			Value:          e.Value,
			Status:         e.Status,
		})
	case device.CharacteristicWritten:
		if e.Status == device.StatusInvalidAttributeLength {
			c.log().Debug("Write rejected, value too long")
		}
		c.router.Publish(CharacteristicWriteResult{
			Address:        c.dev.Address,
			Characteristic: device.CanonicalUUID(e.Characteristic.UUID()),
			Success:        e.Status == device.StatusSuccess,
			Status:         e.Status,
		})
	case device.CharacteristicChanged:
		c.router.Publish(CharacteristicNotify{
			Address:        c.dev.Address,
			Characteristic: device.CanonicalUUID(e.Characteristic.UUID()),
			Value:          e.Value,
		})
	case device.DescriptorWritten:
		c.log().WithFields(logrus.Fields{
			"descriptor": e.Descriptor.UUID(),
			"status":     e.Status,
		}).Debug("Descriptor written")
	default:
		c.log().WithField("event", ev).Debug("Ignoring unexpected adapter event")
	}
}

func (c *Connection) onConnectionStateChanged(e device.ConnectionStateChanged) {
	c.log().WithFields(logrus.Fields{"status": e.Status, "state": e.State}).Debug("Adapter connection state")
	switch {
	case e.State == device.Connected && e.Status == device.StatusSuccess:
		c.timers.Cancel(timer.ConnectTimeout)
		c.setState(device.Connected)
		c.connectReply.Succeed(true)
		c.log().Info("Connected")
	case e.State == device.Disconnected || e.Status != device.StatusSuccess:
		c.connectReply.Succeed(false)
		c.teardown()
		c.log().WithField("status", e.Status).Info("Disconnected")
	}
}

func (c *Connection) onServicesDiscovered(e device.ServicesDiscovered) {
	if e.Status != device.StatusSuccess {
		c.log().WithField("status", e.Status).Warn("Service discovery failed")
		return
	}
	c.timers.Cancel(timer.DiscoverTimeout)
	ids := c.chars.Rebuild(e.Services)
	c.log().WithField("characteristics", len(ids)).Info("Services discovered")
	if !c.discoverReply.Succeed(ids) {
		c.router.Publish(ServicesDiscovered{Address: c.dev.Address, Characteristics: ids})
	}
}

func (c *Connection) onMTUChanged(e device.MTUChanged) {
	ok := e.Status == device.StatusSuccess
	if ok {
		c.mtu = e.MTU
	}
	c.log().WithFields(logrus.Fields{"mtu": e.MTU, "status": e.Status}).Debug("MTU changed")
	c.mtuReply.Succeed(ok)
}
