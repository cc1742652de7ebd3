package permission

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/srg/blehelper/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func await(t *testing.T, answers <-chan bool) bool {
	t.Helper()
	select {
	case granted := <-answers:
		return granted
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no answer")
		return false
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    device.PermissionStatus
		wantErr bool
	}{
		{in: "granted", want: device.PermissionGranted},
		{in: " Denied ", want: device.PermissionDenied},
		{in: "prompt", want: device.PermissionUnknown},
		{in: "", want: device.PermissionUnknown},
		{in: "maybe", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatic(t *testing.T) {
	answers := make(chan bool, 1)

	s := Static{Location: true, Answer: device.PermissionGranted}
	assert.True(t, s.Enabled())
	assert.Equal(t, device.PermissionGranted, s.Status())
	s.Request(func(granted bool) { answers <- granted })
	assert.True(t, await(t, answers))

	Static{}.Request(func(granted bool) { answers <- granted })
	assert.False(t, await(t, answers), "unknown MUST answer denied")
}

func TestPromptWithoutTerminalUsesFallback(t *testing.T) {
	p := &Prompt{Fallback: true, in: strings.NewReader(""), out: &bytes.Buffer{}}
	answers := make(chan bool, 1)

	assert.Equal(t, device.PermissionUnknown, p.Status())
	p.Request(func(granted bool) { answers <- granted })
	assert.True(t, await(t, answers))
	assert.Equal(t, device.PermissionGranted, p.Status())
}

func TestPromptAsksOnce(t *testing.T) {
	out := &bytes.Buffer{}
	p := &Prompt{in: strings.NewReader("yes\n"), out: out, isTTY: true}
	answers := make(chan bool, 2)

	p.Request(func(granted bool) { answers <- granted })
	assert.True(t, await(t, answers))
	assert.Contains(t, out.String(), "[y/N]")

	out.Reset()
	p.Request(func(granted bool) { answers <- granted })
	assert.True(t, await(t, answers))
	assert.Empty(t, out.String(), "a remembered answer MUST not prompt again")
}

func TestPromptDefaultsToDeny(t *testing.T) {
	p := &Prompt{in: strings.NewReader("\n"), out: &bytes.Buffer{}, isTTY: true}
	answers := make(chan bool, 1)

	p.Request(func(granted bool) { answers <- granted })
	assert.False(t, await(t, answers))
	assert.Equal(t, device.PermissionDenied, p.Status())
}
