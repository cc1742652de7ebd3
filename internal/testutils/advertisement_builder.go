package testutils

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/srg/blehelper/internal/device"
)

// AdvertisementBuilder builds scan results with a fluent API.
type AdvertisementBuilder struct {
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	RSSI     int      `json:"rssi"`
	Services []string `json:"services"`
}

func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.Name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.RSSI = rssi
	return b
}

// WithServices adds advertised service UUIDs, short or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.Services = append(b.Services, uuids...)
	return b
}

// FromJSON fills the builder from JSON with the fields name, address, rssi and services.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...any) *AdvertisementBuilder {
	if err := jsoniter.UnmarshalFromString(fmt.Sprintf(jsonStrFmt, args...), b); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	return b
}

func (b *AdvertisementBuilder) Build() device.ScanResult {
	return device.ScanResult{
		Device:       device.Device{Handle: b.Address, Address: b.Address, Name: b.Name},
		RSSI:         b.RSSI,
		ServiceUUIDs: append([]string(nil), b.Services...),
	}
}
