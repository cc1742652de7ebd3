// Package host exposes a session.Manager over a line-delimited JSON channel.
//
// Each inbound line is a request:
//
//	{"id":1,"method":"connect","args":{"deviceId":"AA:BB:CC:DD:EE:FF","timeout":5}}
//
// Timeouts are in seconds. Each request gets exactly one reply line, either
// {"id":1,"result":true} or {"id":1,"error":{"code":"NOT_CONNECTED","message":"not connected"}}.
// Unsolicited events are written as {"event":"onDeviceStateChange","args":{...}}.
package host

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/srg/blehelper/internal/device"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Method names accepted in Request.Method.
const (
	MethodStartScan        = "startScan"
	MethodStopScan         = "stopScan"
	MethodConnect          = "connect"
	MethodDisconnect       = "disconnect"
	MethodRequestMTU       = "requestMtu"
	MethodDiscoverServices = "discoverServices"
	MethodRead             = "characteristicRead"
	MethodWrite            = "characteristicWrite"
	MethodSetNotification  = "characteristicSetNotification"
	MethodRefreshCache     = "refreshCache"
	MethodState            = "state"
)

// Error codes that are not session failure kinds.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnknownMethod = "UNKNOWN_METHOD"
)

type Request struct {
	ID     int64               `json:"id"`
	Method string              `json:"method"`
	Args   jsoniter.RawMessage `json:"args,omitempty"`
}

// Args is the union of every method's arguments; each method reads the fields it needs.
type Args struct {
	DeviceID         string  `json:"deviceId"`
	CharacteristicID string  `json:"characteristicId"`
	Name             string  `json:"name"`
	Address          string  `json:"address"`
	ServiceUUID      string  `json:"serviceUuid"`
	Timeout          float64 `json:"timeout"` // seconds
	MTU              int     `json:"mtu"`
	Value            []byte  `json:"value"`
	WithoutResponse  bool    `json:"withoutResponse"`
	Enable           bool    `json:"enable"`
}

// timeout returns the requested timeout, or def when none was given.
func (a Args) timeout(def time.Duration) time.Duration {
	if a.Timeout <= 0 {
		return def
	}
	return time.Duration(a.Timeout * float64(time.Second))
}

type resultMessage struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMessage struct {
	ID    int64     `json:"id"`
	Error ErrorBody `json:"error"`
}

type eventMessage struct {
	Event string `json:"event"`
	Args  any    `json:"args"`
}

// stateArgs carries the connection state, which session.StateChanged leaves implicit.
type stateArgs struct {
	DeviceID string `json:"deviceId"`
	State    string `json:"state"`
}

func errorBody(err error) ErrorBody {
	return ErrorBody{Code: device.Code(err), Message: err.Error()}
}
