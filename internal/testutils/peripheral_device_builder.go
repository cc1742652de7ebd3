package testutils

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/srg/blehelper/internal/device"
)

// CharacteristicConfig describes a fake characteristic.
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "read,write,notify"
	Value      []byte `json:"value,omitempty"`
	NoCCCD     bool   `json:"no_cccd,omitempty"`
}

// ServiceConfig describes a fake service.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig is the complete GATT profile of a fake peripheral.
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds the service list a fake peripheral reports on discovery.
type PeripheralDeviceBuilder struct {
	profile DeviceProfileConfig
	chars   map[string]*FakeCharacteristic
}

func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{chars: make(map[string]*FakeCharacteristic)}
}

// WithService adds a service to the profile.
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := &b.profile.Services[len(b.profile.Services)-1]
	last.Characteristics = append(last.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FromJSON replaces the profile with one decoded from JSON.
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...any) *PeripheralDeviceBuilder {
	var config DeviceProfileConfig
	if err := jsoniter.UnmarshalFromString(fmt.Sprintf(jsonStrFmt, args...), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// Build returns the services. Characteristics are created once and reused by later calls,
// so Characteristic returns the same handles the session sees.
func (b *PeripheralDeviceBuilder) Build() []device.Service {
	services := make([]device.Service, 0, len(b.profile.Services))
	for _, svc := range b.profile.Services {
		s := device.Service{UUID: svc.UUID}
		for _, cc := range svc.Characteristics {
			s.Characteristics = append(s.Characteristics, b.characteristic(svc.UUID, cc))
		}
		services = append(services, s)
	}
	return services
}

// Characteristic returns the fake handle built for uuid, in any UUID form.
func (b *PeripheralDeviceBuilder) Characteristic(uuid string) *FakeCharacteristic {
	want := device.CanonicalUUID(uuid)
	for key, c := range b.chars {
		if strings.HasSuffix(key, "/"+want) {
			return c
		}
	}
	panic(fmt.Sprintf("characteristic %s was not built", uuid))
}

func (b *PeripheralDeviceBuilder) characteristic(service string, cc CharacteristicConfig) *FakeCharacteristic {
	key := service + "/" + device.CanonicalUUID(cc.UUID)
	if c, ok := b.chars[key]; ok {
		return c
	}
	c := NewFakeCharacteristic(cc.UUID, ParseProperties(cc.Properties), cc.Value)
	if cc.NoCCCD {
		c.WithoutClientConfig()
	}
	b.chars[key] = c
	return c
}

// ParseProperties converts "read,write,notify" style strings into a property mask.
// An empty string means read, write and notify.
func ParseProperties(props string) device.Properties {
	if strings.TrimSpace(props) == "" {
		return device.PropRead | device.PropWrite | device.PropNotify
	}
	var p device.Properties
	for _, part := range strings.Split(props, ",") {
		switch strings.TrimSpace(part) {
		case "broadcast":
			p |= device.PropBroadcast
		case "read":
			p |= device.PropRead
		case "write-without-response", "write_no_response":
			p |= device.PropWriteNoResponse
		case "write":
			p |= device.PropWrite
		case "notify":
			p |= device.PropNotify
		case "indicate":
			p |= device.PropIndicate
		}
	}
	return p
}

// DefaultPeripheral is a Battery Service (180F) with a readable, notifying level (2A19) at 50%.
func DefaultPeripheral() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().FromJSON(`
	{
		"services": [
			{
				"uuid": "180F",
				"characteristics": [
					{ "uuid": "2A19", "properties": "read,notify", "value": [50] }
				]
			}
		]
	}`)
}
