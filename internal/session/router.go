package session

import (
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/device"
)

// Event is an unsolicited notification pushed to the host.
type Event interface {
	// Name is the host-facing event name.
	Name() string
	DeviceAddress() string
}

// StateChanged reports every connection state transition.
type StateChanged struct {
	Address string                 `json:"deviceId"`
	State   device.ConnectionState `json:"-"`
}

// ServicesDiscovered is pushed when discovery completes with no caller waiting for it.
type ServicesDiscovered struct {
	Address         string   `json:"deviceId"`
	Characteristics []string `json:"characteristics"`
}

type CharacteristicReadResult struct {
	Address        string        `json:"deviceId"`
	Characteristic string        `json:"characteristicId"`
	Value          []byte        `json:"value"`
	Status         device.Status `json:"status"`
}

type CharacteristicWriteResult struct {
	Address        string        `json:"deviceId"`
	Characteristic string        `json:"characteristicId"`
	Success        bool          `json:"success"`
	Status         device.Status `json:"status"`
}

type CharacteristicNotify struct {
	Address        string `json:"deviceId"`
	Characteristic string `json:"characteristicId"`
	Value          []byte `json:"value"`
}

func (e StateChanged) Name() string              { return "onDeviceStateChange" }
func (e ServicesDiscovered) Name() string        { return "onServicesDiscovered" }
func (e CharacteristicReadResult) Name() string  { return "onCharacteristicReadResult" }
func (e CharacteristicWriteResult) Name() string { return "onCharacteristicWriteResult" }
func (e CharacteristicNotify) Name() string      { return "onCharacteristicNotifyData" }

func (e StateChanged) DeviceAddress() string              { return e.Address }
func (e ServicesDiscovered) DeviceAddress() string        { return e.Address }
func (e CharacteristicReadResult) DeviceAddress() string  { return e.Address }
func (e CharacteristicWriteResult) DeviceAddress() string { return e.Address }
func (e CharacteristicNotify) DeviceAddress() string      { return e.Address }

// Sink consumes routed events. Deliver is called from the session loop and must not block.
type Sink interface {
	Deliver(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Deliver(ev Event) { f(ev) }

// Router fans events out to every subscribed sink.
type Router struct {
	sinks  *hashmap.Map[uint64, Sink]
	nextID atomic.Uint64
	logger *logrus.Logger
}

func NewRouter(logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{
		sinks:  hashmap.New[uint64, Sink](),
		logger: logger,
	}
}

// Subscribe registers sink. The returned function unsubscribes it.
func (r *Router) Subscribe(sink Sink) (cancel func()) {
	id := r.nextID.Add(1)
	r.sinks.Set(id, sink)
	return func() { r.sinks.Del(id) }
}

// Publish delivers ev to all sinks.
func (r *Router) Publish(ev Event) {
	if r.sinks.Len() == 0 {
		r.logger.WithFields(logrus.Fields{
			"event":  ev.Name(),
			"device": ev.DeviceAddress(),
		}).Debug("No subscribers, dropping event")
		return
	}
	r.sinks.Range(func(_ uint64, sink Sink) bool {
		sink.Deliver(ev)
		return true
	})
}
