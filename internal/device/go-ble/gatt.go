package goble

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/groutine"
)

// DefaultRequestQueue is how many GATT requests may wait for the link before new ones are rejected.
const DefaultRequestQueue = 64

// client is the part of ble.Client a Gatt drives.
type client interface {
	ExchangeMTU(rxMTU int) (txMTU int, err error)
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	WriteDescriptor(d *ble.Descriptor, value []byte) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

type dialFunc func(ctx context.Context) (client, error)

// Gatt is a device.Gatt over a go-ble client.
//
// go-ble calls block, so every request is queued to a per-connection worker that runs them in
// order and reports each outcome as an event. Once closed, no further events are delivered.
type Gatt struct {
	address string
	sink    device.EventSink
	logger  *logrus.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	reqs    chan func(client)

	mu     sync.Mutex
	client client
	closed bool

	// local notification flags by characteristic UUID
	notify *hashmap.Map[string, bool]
}

func newGatt(address string, sink device.EventSink, logger *logrus.Logger) *Gatt {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gatt{
		address: address,
		sink:    sink,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		reqs:    make(chan func(client), DefaultRequestQueue),
		notify:  hashmap.New[string, bool](),
	}
}

func (g *Gatt) log() *logrus.Entry {
	return g.logger.WithField("device", g.address)
}

// start dials in the background, then serves requests until the link drops or the handle closes.
func (g *Gatt) start(dial dialFunc) {
	groutine.Go(g.ctx, "ble-link-"+g.address, func(ctx context.Context) {
		c, err := dial(ctx)
		if err != nil {
			err = NormalizeError(err)
			g.log().WithError(err).Warn("Failed to connect")
			g.emit(device.ConnectionStateChanged{Status: statusOf(err), State: device.Disconnected})
			return
		}

		g.mu.Lock()
		g.client = c
		g.mu.Unlock()
		g.emit(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Connected})

		for {
			select {
			case <-c.Disconnected():
				g.mu.Lock()
				g.client = nil
				g.mu.Unlock()
				g.emit(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Disconnected})
				return
			case <-ctx.Done():
				if err := c.CancelConnection(); err != nil {
					g.log().WithError(NormalizeError(err)).Debug("Cancel connection on close failed")
				}
				return
			case req := <-g.reqs:
				req(c)
			}
		}
	})
}

func (g *Gatt) emit(ev device.Event) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return
	}
	g.sink.Deliver(ev)
}

func (g *Gatt) current() client {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	return g.client
}

// enqueue hands req to the worker. It fails when not connected or the queue is full.
func (g *Gatt) enqueue(name string, req func(client)) bool {
	if g.current() == nil {
		g.log().WithField("request", name).Debug("Not connected, rejecting request")
		return false
	}
	select {
	case g.reqs <- req:
		return true
	default:
		g.log().WithField("request", name).Warn("Request queue full, rejecting request")
		return false
	}
}

func (g *Gatt) Disconnect() {
	c := g.current()
	if c == nil {
		// still dialing
		g.cancel()
		return
	}
	groutine.Go(context.Background(), "ble-disconnect-"+g.address, func(context.Context) {
		if err := c.CancelConnection(); err != nil {
			g.log().WithError(NormalizeError(err)).Debug("Cancel connection failed")
		}
	})
}

func (g *Gatt) Close() {
	g.mu.Lock()
	g.closed = true
	g.client = nil
	g.mu.Unlock()
	g.cancel()
}

func (g *Gatt) RequestMTU(size int) bool {
	return g.enqueue("mtu", func(c client) {
		mtu, err := c.ExchangeMTU(size)
		if err != nil {
			g.log().WithError(err).Debug("MTU exchange failed")
		}
		g.emit(device.MTUChanged{MTU: mtu, Status: statusOf(err)})
	})
}

func (g *Gatt) DiscoverServices() bool {
	return g.enqueue("discover", func(c client) {
		profile, err := c.DiscoverProfile(true)
		if err != nil {
			g.log().WithError(err).Warn("Profile discovery failed")
			g.emit(device.ServicesDiscovered{Status: statusOf(err)})
			return
		}
		g.emit(device.ServicesDiscovered{Status: device.StatusSuccess, Services: services(profile)})
	})
}

func (g *Gatt) ReadCharacteristic(h device.CharacteristicHandle) bool {
	ch, ok := h.(*Characteristic)
	if !ok {
		return false
	}
	return g.enqueue("read", func(c client) {
		value, err := c.ReadCharacteristic(ch.raw)
		g.emit(device.CharacteristicRead{Status: statusOf(err), Characteristic: ch, Value: value})
	})
}

func (g *Gatt) WriteCharacteristic(h device.CharacteristicHandle, wt device.WriteType) bool {
	ch, ok := h.(*Characteristic)
	if !ok {
		return false
	}
	value := ch.value()
	return g.enqueue("write", func(c client) {
		err := c.WriteCharacteristic(ch.raw, value, wt == device.WriteNoResponse)
		g.emit(device.CharacteristicWritten{Status: statusOf(err), Characteristic: ch})
	})
}

// SetCharacteristicNotification only flips the local flag; the subscription itself is made
// when the client configuration descriptor is written.
func (g *Gatt) SetCharacteristicNotification(h device.CharacteristicHandle, enable bool) bool {
	ch, ok := h.(*Characteristic)
	if !ok {
		return false
	}
	g.notify.Set(ch.uuid, enable)
	return true
}

func (g *Gatt) WriteDescriptor(h device.DescriptorHandle) bool {
	d, ok := h.(*Descriptor)
	if !ok {
		return false
	}
	value := d.value()
	if !d.isClientConfig() {
		return g.enqueue("write-descriptor", func(c client) {
			err := c.WriteDescriptor(d.raw, value)
			g.emit(device.DescriptorWritten{Status: statusOf(err), Descriptor: d})
		})
	}

	ch := d.owner
	enable := !bytes.Equal(value, device.DisableNotificationValue)
	return g.enqueue("subscribe", func(c client) {
		var err error
		if enable {
			err = c.Subscribe(ch.raw, ch.indicates(), func(data []byte) {
				if on, _ := g.notify.Get(ch.uuid); on {
					g.emit(device.CharacteristicChanged{Characteristic: ch, Value: append([]byte(nil), data...)})
				}
			})
		} else {
			err = c.Unsubscribe(ch.raw, ch.indicates())
		}
		if err != nil {
			g.log().WithError(NormalizeError(err)).WithFields(logrus.Fields{
				"characteristic": ch.uuid,
				"enable":         enable,
			}).Warn("Failed to update subscription")
		}
		g.emit(device.DescriptorWritten{Status: statusOf(err), Descriptor: d})
	})
}

func (g *Gatt) String() string {
	return fmt.Sprintf("goble.Gatt(%s)", g.address)
}
