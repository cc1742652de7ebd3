package goble

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/blehelper/internal/device"
)

// Characteristic wraps a discovered ble.Characteristic and the value staged for the next write.
type Characteristic struct {
	raw   *ble.Characteristic
	uuid  string
	props device.Properties
	cccd  *Descriptor

	mu     sync.Mutex
	staged []byte
}

func newCharacteristic(c *ble.Characteristic) *Characteristic {
	ch := &Characteristic{
		raw:   c,
		uuid:  device.CanonicalUUID(c.UUID.String()),
		props: properties(c.Property),
	}
	if c.CCCD != nil {
		ch.cccd = &Descriptor{raw: c.CCCD, uuid: device.CanonicalUUID(c.CCCD.UUID.String()), owner: ch}
	}
	return ch
}

func (c *Characteristic) UUID() string                  { return c.uuid }
func (c *Characteristic) Properties() device.Properties { return c.props }

// Stage sets the value sent by the next WriteCharacteristic.
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

func (c *Characteristic) ClientConfig() device.DescriptorHandle {
	if c.cccd == nil {
		return nil
	}
	return c.cccd
}

// indicates reports whether pushes for c are indications rather than notifications.
func (c *Characteristic) indicates() bool {
	return !c.props.Has(device.PropNotify) && c.props.Has(device.PropIndicate)
}

// Descriptor wraps a ble.Descriptor of a discovered characteristic.
type Descriptor struct {
	raw   *ble.Descriptor
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

func (d *Descriptor) isClientConfig() bool {
	return d.owner != nil && d.owner.cccd == d
}

// properties maps go-ble property bits onto device.Properties.
func properties(p ble.Property) device.Properties {
	var out device.Properties
	for _, m := range []struct {
		bit  ble.Property
		prop device.Properties
	}{
		{ble.CharBroadcast, device.PropBroadcast},
		{ble.CharRead, device.PropRead},
		{ble.CharWriteNR, device.PropWriteNoResponse},
		{ble.CharWrite, device.PropWrite},
		{ble.CharNotify, device.PropNotify},
		{ble.CharIndicate, device.PropIndicate},
	} {
		if p&m.bit != 0 {
			out |= m.prop
		}
	}
	return out
}

// services converts a discovered profile. Characteristics without a usable UUID are skipped.
func services(p *ble.Profile) []device.Service {
	if p == nil {
		return nil
	}
	out := make([]device.Service, 0, len(p.Services))
	for _, s := range p.Services {
		svc := device.Service{UUID: device.CanonicalUUID(s.UUID.String())}
		for _, c := range s.Characteristics {
			ch := newCharacteristic(c)
			if ch.uuid == "" {
				continue
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		out = append(out, svc)
	}
	return out
}
