package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionError(t *testing.T) {
	assert.Equal(t, "not connected", ErrNotConnected.Error())
	assert.Equal(t, "timeout: superseded", Errorf(KindTimeout, "superseded").Error())

	wrapped := fmt.Errorf("discover: %w", Errorf(KindTimeout, "after %ds", 5))
	assert.ErrorIs(t, wrapped, ErrTimeout, "errors.Is MUST compare by kind")
	assert.NotErrorIs(t, wrapped, ErrNotConnected)
	assert.True(t, IsKind(wrapped, KindTimeout))
	assert.False(t, IsKind(errors.New("timeout"), KindTimeout))
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{name: "nil", err: nil, code: ""},
		{name: "session error", err: ErrPermissionDenied, code: "PERMISSION_DENIED"},
		{name: "wrapped session error", err: fmt.Errorf("scan: %w", ErrOperationBusy), code: "OPERATION_BUSY"},
		{name: "not found", err: &NotFoundError{Resource: "characteristic", UUIDs: []string{"2a19"}}, code: "NOT_FOUND"},
		{name: "payload too large", err: ErrPayloadTooLarge, code: "PAYLOAD_TOO_LARGE"},
		{name: "unsupported", err: fmt.Errorf("refresh: %w", ErrUnsupported), code: "UNSUPPORTED"},
		{name: "anything else", err: assert.AnError, code: "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "device not found", (&NotFoundError{Resource: "device"}).Error())
	assert.Equal(t, `characteristic "2a19" not found`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"2a19"}}).Error())
	assert.Equal(t, `characteristic "2a19" not found in service "180f"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180f", "2a19"}}).Error())
	assert.Equal(t, `descriptor "2902" not found in characteristic "2a19"`,
		(&NotFoundError{Resource: "descriptor", UUIDs: []string{"2a19", "2902"}}).Error())
}
