package tinygo

import (
	"sync"

	"github.com/srg/blehelper/internal/device"
	"tinygo.org/x/bluetooth"
)

// remoteCharacteristic is the part of bluetooth.DeviceCharacteristic a Gatt drives.
type remoteCharacteristic interface {
	UUID() bluetooth.UUID
	Read(data []byte) (int, error)
	Write(p []byte) (int, error)
	WriteWithoutResponse(p []byte) (int, error)
	EnableNotifications(callback func(buf []byte)) error
	GetMTU() (uint16, error)
}

// Characteristic wraps a discovered characteristic. tinygo does not expose the property
// bitmask, so Properties is always empty.
type Characteristic struct {
	raw  remoteCharacteristic
	uuid string
	cccd *Descriptor

	mu     sync.Mutex
	staged []byte
}

func newCharacteristic(raw remoteCharacteristic) *Characteristic {
	ch := &Characteristic{raw: raw, uuid: device.CanonicalUUID(raw.UUID().String())}
	ch.cccd = &Descriptor{uuid: device.CanonicalUUID(device.DescriptorClientConfig), owner: ch}
	return ch
}

func (c *Characteristic) UUID() string                  { return c.uuid }
func (c *Characteristic) Properties() device.Properties { return 0 }

func (c *Characteristic) Stage(value []byte) error {
	if len(value) > device.MaxAttributeLength {
		return device.ErrPayloadTooLarge
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = append([]byte(nil), value...)
	return nil
}

func (c *Characteristic) value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staged
}

// ClientConfig returns a virtual descriptor; writing it toggles EnableNotifications.
func (c *Characteristic) ClientConfig() device.DescriptorHandle { return c.cccd }

// Descriptor is the virtual client configuration descriptor of a Characteristic.
type Descriptor struct {
	uuid  string
	owner *Characteristic

	mu     sync.Mutex
	staged []byte
}

func (d *Descriptor) UUID() string { return d.uuid }

func (d *Descriptor) Stage(value []byte) error {
	if len(value) > device.MaxAttributeLength {
		return device.ErrPayloadTooLarge
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.staged = append([]byte(nil), value...)
	return nil
}

func (d *Descriptor) value() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.staged
}
