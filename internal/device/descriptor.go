package device

import (
	"encoding/binary"
	"fmt"
)

// DescriptorClientConfig is the short UUID of the Client Characteristic Configuration descriptor.
const DescriptorClientConfig = "2902"

// Client Characteristic Configuration values written to enable or disable pushes.
var (
	EnableNotificationValue  = []byte{0x01, 0x00}
	EnableIndicationValue    = []byte{0x02, 0x00}
	DisableNotificationValue = []byte{0x00, 0x00}
)

// ClientConfig represents the Client Characteristic Configuration descriptor (0x2902)
type ClientConfig struct {
	Notifications bool
	Indications   bool
}

// ClientConfigValue returns the descriptor value that turns pushes on or off for c.
// Characteristics that only indicate are enabled with the indication bit.
func ClientConfigValue(c CharacteristicHandle, enable bool) []byte {
	switch {
	case !enable:
		return DisableNotificationValue
	case c != nil && !c.Properties().Has(PropNotify) && c.Properties().Has(PropIndicate):
		return EnableIndicationValue
	default:
		return EnableNotificationValue
	}
}

// ParseClientConfig parses the Client Characteristic Configuration descriptor value.
// The descriptor is 2 bytes: bit 0 = Notifications, bit 1 = Indications.
func ParseClientConfig(data []byte) (*ClientConfig, error) {
	if len(data) != 2 {
		return nil, fmt.Errorf("invalid length for client config: expected 2, got %d", len(data))
	}
	value := binary.LittleEndian.Uint16(data)
	return &ClientConfig{
		Notifications: (value & 0x0001) != 0,
		Indications:   (value & 0x0002) != 0,
	}, nil
}
