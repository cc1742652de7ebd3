package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "device", "characteristic", "descriptor"
	UUIDs    []string // one or more identifiers, outermost first
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parent := "service"
	if e.Resource == "descriptor" {
		parent = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parent, e.UUIDs[0])
}

// FailureKind classifies a SessionError; the values double as wire error codes.
type FailureKind string

const (
	KindAdapterDisabled         FailureKind = "ADAPTER_DISABLED"
	KindLocationServiceDisabled FailureKind = "LOCATION_SERVICE_DISABLED"
	KindPermissionDenied        FailureKind = "PERMISSION_DENIED"
	KindNotConnected            FailureKind = "NOT_CONNECTED"
	KindTimeout                 FailureKind = "TIMEOUT"
	KindOperationBusy           FailureKind = "OPERATION_BUSY"
)

// SessionError is a typed failure surfaced to callers of session operations.
type SessionError struct {
	Kind FailureKind
	Msg  string
}

func (e *SessionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	text := strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " "))
	if e.Msg == "" {
		return text
	}
	return fmt.Sprintf("%s: %s", text, e.Msg)
}

// Is allows errors.Is to compare SessionError values by Kind
func (e *SessionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrAdapterDisabled         = &SessionError{Kind: KindAdapterDisabled}
	ErrLocationServiceDisabled = &SessionError{Kind: KindLocationServiceDisabled}
	ErrPermissionDenied        = &SessionError{Kind: KindPermissionDenied}
	ErrNotConnected            = &SessionError{Kind: KindNotConnected}
	ErrTimeout                 = &SessionError{Kind: KindTimeout}
	ErrOperationBusy           = &SessionError{Kind: KindOperationBusy}
)

// Adapter-level errors
var (
	ErrScanNotRunning  = errors.New("scan not running")
	ErrPayloadTooLarge = fmt.Errorf("payload exceeds %d bytes", MaxAttributeLength)
	ErrUnsupported     = errors.New("unsupported")
)

// Errorf builds a SessionError of the given kind with a formatted message.
func Errorf(kind FailureKind, format string, args ...any) error {
	return &SessionError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a SessionError of the given kind
func IsKind(err error, kind FailureKind) bool {
	var serr *SessionError
	if errors.As(err, &serr) {
		return serr.Kind == kind
	}
	return false
}

// Code maps an error to a stable wire code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var serr *SessionError
	if errors.As(err, &serr) {
		return string(serr.Kind)
	}
	var nf *NotFoundError
	switch {
	case errors.As(err, &nf):
		return "NOT_FOUND"
	case errors.Is(err, ErrPayloadTooLarge):
		return "PAYLOAD_TOO_LARGE"
	case errors.Is(err, ErrUnsupported):
		return "UNSUPPORTED"
	default:
		return "INTERNAL"
	}
}

// ContainsIgnoreCase checks substring case-insensitively; backends use it to classify
// library error messages.
func ContainsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
