package device

import (
	"fmt"
	"strings"
)

// Device identifies a remote peripheral. Address is its identity; Handle is whatever the
// backend needs to reach it again and is never inspected outside the backend.
type Device struct {
	Handle  any
	Address string
	Name    string
}

func (d Device) String() string {
	if d.Name == "" {
		return d.Address
	}
	return fmt.Sprintf("%s (%s)", d.Address, d.Name)
}

// ConnectionState is the link-level state of a connection session
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// Status is a GATT completion status as reported by the adapter.
type Status int

const (
	StatusSuccess                Status = 0x00
	StatusInvalidAttributeLength Status = 0x0d
	StatusFailure                Status = 0x101
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidAttributeLength:
		return "invalid attribute length"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("status 0x%02x", int(s))
	}
}

// Properties is the characteristic capability bitmask.
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteNoResponse
	PropWrite
	PropNotify
	PropIndicate
)

// Has reports whether all bits of p are set.
func (p Properties) Has(flag Properties) bool {
	return p&flag == flag
}

func (p Properties) String() string {
	var parts []string
	names := []struct {
		flag Properties
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteNoResponse, "write-without-response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	}
	for _, n := range names {
		if p.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// MaxAttributeLength is the largest value a characteristic or descriptor can hold.
const MaxAttributeLength = 512

// WriteType selects between acknowledged and unacknowledged writes.
type WriteType int

const (
	WriteDefault WriteType = iota
	WriteNoResponse
)

// DescriptorHandle is a backend descriptor with a locally staged value.
type DescriptorHandle interface {
	UUID() string
	Stage(value []byte) error
}

// CharacteristicHandle is a backend characteristic. Values are staged locally with Stage and
// then sent with Gatt.WriteCharacteristic.
type CharacteristicHandle interface {
	UUID() string
	Properties() Properties
	Stage(value []byte) error
	// ClientConfig returns the Client Characteristic Configuration descriptor or nil.
	ClientConfig() DescriptorHandle
}

// Service groups characteristics as reported by discovery.
type Service struct {
	UUID            string
	Characteristics []CharacteristicHandle
}

// Gatt is a raw connection handle. Every bool result means "the request was issued";
// completions are delivered later as events to the EventSink given to Adapter.Connect.
type Gatt interface {
	Disconnect()
	Close()
	RequestMTU(size int) bool
	DiscoverServices() bool
	ReadCharacteristic(c CharacteristicHandle) bool
	WriteCharacteristic(c CharacteristicHandle, wt WriteType) bool
	SetCharacteristicNotification(c CharacteristicHandle, enable bool) bool
	WriteDescriptor(d DescriptorHandle) bool
}

// CacheRefresher is implemented by Gatt handles able to drop the platform attribute cache.
type CacheRefresher interface {
	RefreshCache() bool
}

// Adapter is the host Bluetooth radio.
type Adapter interface {
	Enabled() bool
	// Device resolves an address into a Device the adapter can connect to.
	Device(address string) (Device, error)
	// Connect starts an asynchronous connection; the outcome arrives as ConnectionStateChanged.
	Connect(dev Device, sink EventSink) (Gatt, error)
	StartScan(filter ScanFilter, settings ScanSettings, sink EventSink) error
	// StopScan may return ErrScanNotRunning, callers treat it as success.
	StopScan() error
}

// LocationService reports whether the platform location service is on.
type LocationService interface {
	Enabled() bool
}

// PermissionStatus is the current answer for the scan permission.
type PermissionStatus int

const (
	PermissionUnknown PermissionStatus = iota
	PermissionGranted
	PermissionDenied
)

func (s PermissionStatus) String() string {
	switch s {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Permissions asks the platform for the permission required to scan.
type Permissions interface {
	Status() PermissionStatus
	// Request asks asynchronously; answer may be called from any goroutine.
	Request(answer func(granted bool))
}

// ScanMode selects the adapter duty cycle
type ScanMode int

const (
	ScanModeLowPower ScanMode = iota
	ScanModeBalanced
	ScanModeLowLatency
)

// ScanSettings configures the adapter scan.
type ScanSettings struct {
	Mode ScanMode
}

// ScanFilter narrows scan results. Empty fields are absent; present fields are AND-combined.
type ScanFilter struct {
	Name        string
	Address     string
	ServiceUUID string
}

// Empty reports whether no criteria are set.
func (f ScanFilter) Empty() bool {
	return f.Name == "" && f.Address == "" && f.ServiceUUID == ""
}

// Match reports whether a scan result satisfies every present criterion.
func (f ScanFilter) Match(r ScanResult) bool {
	if f.Name != "" && r.Device.Name != f.Name {
		return false
	}
	if f.Address != "" && !strings.EqualFold(r.Device.Address, f.Address) {
		return false
	}
	if f.ServiceUUID != "" {
		want := NormalizeUUID(f.ServiceUUID)
		for _, u := range r.ServiceUUIDs {
			if NormalizeUUID(u) == want {
				return true
			}
		}
		return false
	}
	return true
}
