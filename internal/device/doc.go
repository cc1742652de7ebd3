// Package device defines the platform-neutral view of a BLE adapter used by the session layer.
//
// Backends (go-ble, tinygo) implement Adapter, Gatt and the handle interfaces and report
// everything asynchronously through an EventSink:
//   - Advertisement for every scan result
//   - ConnectionStateChanged, MTUChanged and ServicesDiscovered for link changes
//   - CharacteristicRead, CharacteristicWrite and CharacteristicChanged for GATT traffic
//
// Sentinel errors and SessionError carry the failure kinds surfaced to callers.
package device
