package tinygo

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/groutine"
)

// DefaultRequestQueue is how many GATT requests may wait for the link before new ones are rejected.
const DefaultRequestQueue = 64

// link is a connected peripheral.
type link interface {
	// Characteristics discovers every characteristic, grouped by service UUID.
	Characteristics() ([]discovered, error)
	Disconnect() error
}

type discovered struct {
	service         string
	characteristics []remoteCharacteristic
}

// Gatt is a device.Gatt over a tinygo bluetooth connection.
// Requests run in order on a per-connection worker and report back as events.
type Gatt struct {
	address string
	sink    device.EventSink
	logger  *logrus.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	reqs    chan func(link)

	mu      sync.Mutex
	link    link
	aborted bool
	closed  bool
	chars   []*Characteristic
	notify  map[*Characteristic]bool
}

func newGatt(address string, sink device.EventSink, logger *logrus.Logger) *Gatt {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gatt{
		address: address,
		sink:    sink,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		reqs:    make(chan func(link), DefaultRequestQueue),
		notify:  make(map[*Characteristic]bool),
	}
}

func (g *Gatt) log() *logrus.Entry {
	return g.logger.WithField("device", g.address)
}

// start connects in the background. tinygo cannot cancel a pending connect, so a Disconnect
// issued meanwhile drops the link as soon as it is established.
func (g *Gatt) start(dial func() (link, error)) {
	groutine.Go(g.ctx, "tinygo-link-"+g.address, func(ctx context.Context) {
		l, err := dial()
		if err != nil {
			g.log().WithError(err).Warn("Failed to connect")
			g.emit(device.ConnectionStateChanged{Status: device.StatusFailure, State: device.Disconnected})
			return
		}

		g.mu.Lock()
		aborted := g.aborted || g.closed
		if !aborted {
			g.link = l
		}
		g.mu.Unlock()
		if aborted {
			_ = l.Disconnect()
			g.emit(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Disconnected})
			return
		}
		g.emit(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Connected})

		for {
			select {
			case <-ctx.Done():
				if err := l.Disconnect(); err != nil {
					g.log().WithError(err).Debug("Disconnect on close failed")
				}
				return
			case req := <-g.reqs:
				req(l)
			}
		}
	})
}

// linkLost is called by the adapter when the platform reports the peripheral gone.
func (g *Gatt) linkLost() {
	g.mu.Lock()
	had := g.link != nil
	g.link = nil
	g.mu.Unlock()
	if had {
		g.emit(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Disconnected})
	}
}

func (g *Gatt) emit(ev device.Event) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if !closed {
		g.sink.Deliver(ev)
	}
}

func (g *Gatt) enqueue(name string, req func(link)) bool {
	g.mu.Lock()
	ok := g.link != nil && !g.closed
	g.mu.Unlock()
	if !ok {
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
	g.mu.Lock()
	l := g.link
	if l == nil {
		g.aborted = true
	}
	g.mu.Unlock()
	if l == nil {
		return
	}
	groutine.Go(context.Background(), "tinygo-disconnect-"+g.address, func(context.Context) {
		if err := l.Disconnect(); err != nil {
			g.log().WithError(err).Debug("Disconnect failed")
		}
		g.linkLost()
	})
}

func (g *Gatt) Close() {
	g.mu.Lock()
	g.closed = true
	g.link = nil
	g.mu.Unlock()
	g.cancel()
}

// RequestMTU reports the MTU the platform negotiated; tinygo cannot request a size.
func (g *Gatt) RequestMTU(int) bool {
	return g.enqueue("mtu", func(l link) {
		chars, err := g.characteristics(l)
		if err != nil || len(chars) == 0 {
			g.emit(device.MTUChanged{Status: device.StatusFailure})
			return
		}
		mtu, err := chars[0].raw.GetMTU()
		if err != nil {
			g.log().WithError(err).Debug("MTU query failed")
			g.emit(device.MTUChanged{Status: device.StatusFailure})
			return
		}
		g.emit(device.MTUChanged{MTU: int(mtu), Status: device.StatusSuccess})
	})
}

// characteristics returns the last discovery, discovering first when there was none.
func (g *Gatt) characteristics(l link) ([]*Characteristic, error) {
	g.mu.Lock()
	chars := g.chars
	g.mu.Unlock()
	if chars != nil {
		return chars, nil
	}
	_, err := g.discover(l)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chars, err
}

func (g *Gatt) discover(l link) ([]device.Service, error) {
	found, err := l.Characteristics()
	if err != nil {
		return nil, err
	}
	var (
		out   []device.Service
		chars []*Characteristic
	)
	for _, d := range found {
		svc := device.Service{UUID: device.CanonicalUUID(d.service)}
		for _, rc := range d.characteristics {
			ch := newCharacteristic(rc)
			if ch.uuid == "" {
				continue
			}
			svc.Characteristics = append(svc.Characteristics, ch)
			chars = append(chars, ch)
		}
		out = append(out, svc)
	}
	g.mu.Lock()
	g.chars = chars
	g.notify = make(map[*Characteristic]bool)
	g.mu.Unlock()
	return out, nil
}

func (g *Gatt) DiscoverServices() bool {
	return g.enqueue("discover", func(l link) {
		services, err := g.discover(l)
		if err != nil {
			g.log().WithError(err).Warn("Service discovery failed")
			g.emit(device.ServicesDiscovered{Status: device.StatusFailure})
			return
		}
		g.emit(device.ServicesDiscovered{Status: device.StatusSuccess, Services: services})
	})
}

func (g *Gatt) ReadCharacteristic(h device.CharacteristicHandle) bool {
	ch, ok := h.(*Characteristic)
	if !ok {
		return false
	}
	return g.enqueue("read", func(link) {
		buf := make([]byte, device.MaxAttributeLength)
		n, err := ch.raw.Read(buf)
		if err != nil {
			g.emit(device.CharacteristicRead{Status: device.StatusFailure, Characteristic: ch})
			return
		}
		g.emit(device.CharacteristicRead{Status: device.StatusSuccess, Characteristic: ch, Value: buf[:n]})
	})
}

func (g *Gatt) WriteCharacteristic(h device.CharacteristicHandle, wt device.WriteType) bool {
	ch, ok := h.(*Characteristic)
	if !ok {
		return false
	}
	value := ch.value()
	return g.enqueue("write", func(link) {
		var err error
		if wt == device.WriteNoResponse {
			_, err = ch.raw.WriteWithoutResponse(value)
		} else {
			_, err = ch.raw.Write(value)
		}
		status := device.StatusSuccess
		if err != nil {
			status = device.StatusFailure
		}
		g.emit(device.CharacteristicWritten{Status: status, Characteristic: ch})
	})
}

func (g *Gatt) SetCharacteristicNotification(h device.CharacteristicHandle, enable bool) bool {
	ch, ok := h.(*Characteristic)
	if !ok {
		return false
	}
	g.mu.Lock()
	g.notify[ch] = enable
	g.mu.Unlock()
	return true
}

func (g *Gatt) notifying(ch *Characteristic) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.notify[ch]
}

// WriteDescriptor only supports the virtual client configuration descriptor.
func (g *Gatt) WriteDescriptor(h device.DescriptorHandle) bool {
	d, ok := h.(*Descriptor)
	if !ok || d.owner == nil {
		return false
	}
	ch := d.owner
	enable := !bytes.Equal(d.value(), device.DisableNotificationValue)
	return g.enqueue("subscribe", func(link) {
		var err error
		if enable {
			err = ch.raw.EnableNotifications(func(buf []byte) {
				if g.notifying(ch) {
					g.emit(device.CharacteristicChanged{Characteristic: ch, Value: append([]byte(nil), buf...)})
				}
			})
		} else {
			err = ch.raw.EnableNotifications(nil)
		}
		status := device.StatusSuccess
		if err != nil {
			status = device.StatusFailure
			g.log().WithError(err).WithFields(logrus.Fields{
				"characteristic": ch.uuid,
				"enable":         enable,
			}).Warn("Failed to update subscription")
		}
		g.emit(device.DescriptorWritten{Status: status, Descriptor: d})
	})
}

func (g *Gatt) String() string {
	return fmt.Sprintf("tinygo.Gatt(%s)", g.address)
}
