package device

// Event is an asynchronous adapter callback. Backends deliver events to an EventSink
// from arbitrary goroutines; sessions re-post them onto their own loop.
type Event interface {
	isEvent()
}

// EventSink receives adapter events.
type EventSink interface {
	Deliver(ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev Event)

func (f EventSinkFunc) Deliver(ev Event) { f(ev) }

type ConnectionStateChanged struct {
	Status Status
	State  ConnectionState
}

type ServicesDiscovered struct {
	Status   Status
	Services []Service
}

type CharacteristicRead struct {
	Status         Status
	Characteristic CharacteristicHandle
	Value          []byte
}

type CharacteristicWritten struct {
	Status         Status
	Characteristic CharacteristicHandle
}

// CharacteristicChanged is a notification or indication pushed by the peripheral.
type CharacteristicChanged struct {
	Characteristic CharacteristicHandle
	Value          []byte
}

type DescriptorWritten struct {
	Status     Status
	Descriptor DescriptorHandle
}

type MTUChanged struct {
	MTU    int
	Status Status
}

// ScanResult is one advertisement seen while scanning.
type ScanResult struct {
	Device       Device
	RSSI         int
	ServiceUUIDs []string
}

// ScanFailed reports that the adapter aborted the scan.
type ScanFailed struct {
	Code int
}

func (ConnectionStateChanged) isEvent() {}
func (ServicesDiscovered) isEvent()     {}
func (CharacteristicRead) isEvent()     {}
func (CharacteristicWritten) isEvent()  {}
func (CharacteristicChanged) isEvent()  {}
func (DescriptorWritten) isEvent()      {}
func (MTUChanged) isEvent()             {}
func (ScanResult) isEvent()             {}
func (ScanFailed) isEvent()             {}
