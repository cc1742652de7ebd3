package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batteryLevel = "00002a19-0000-1000-8000-00805f9b34fb"

func TestParseStreamMode(t *testing.T) {
	tests := []struct {
		input   string
		want    StreamMode
		wantErr bool
	}{
		{input: "live", want: StreamEveryUpdate},
		{input: "EVERY", want: StreamEveryUpdate},
		{input: "batched", want: StreamBatched},
		{input: "latest", want: StreamAggregated},
		{input: "aggregated", want: StreamAggregated},
		{input: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseStreamMode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// runStreamer feeds values to a streamer and returns the records emitted once ctx is cancelled.
func runStreamer(t *testing.T, mode StreamMode, values ...[]byte) []*Record {
	t.Helper()
	var records []*Record
	s := &streamer{mode: mode, rate: time.Hour, emit: func(r *Record) { records = append(records, r) }}

	notifications := make(chan session.CharacteristicNotify)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx, notifications, nil) }()

	for _, v := range values {
		notifications <- session.CharacteristicNotify{Characteristic: batteryLevel, Value: v}
	}
	cancel()
	require.NoError(t, <-done)
	return records
}

func TestStreamer_Modes(t *testing.T) {
	values := [][]byte{{0x01}, {0x02}, {0x03}}

	live := runStreamer(t, StreamEveryUpdate, values...)
	require.Len(t, live, 3, "live mode MUST emit one record per notification")
	assert.Equal(t, []byte{0x03}, live[2].Values[batteryLevel])

	batched := runStreamer(t, StreamBatched, values...)
	require.Len(t, batched, 1, "batched mode MUST flush once on exit")
	assert.Equal(t, values, batched[0].BatchValues[batteryLevel])

	latest := runStreamer(t, StreamAggregated, values...)
	require.Len(t, latest, 1)
	assert.Equal(t, []byte{0x03}, latest[0].Values[batteryLevel], "latest mode MUST keep only the last value")

	assert.Empty(t, runStreamer(t, StreamBatched), "an empty interval MUST NOT emit")
}

func TestStreamer_ConnectionLost(t *testing.T) {
	states := make(chan session.StateChanged, 1)
	states <- session.StateChanged{Address: "AA:BB:CC:DD:EE:01", State: device.Disconnected}

	s := &streamer{mode: StreamEveryUpdate, emit: func(*Record) {}}
	err := s.run(context.Background(), nil, states)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestPrintRecord(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 30, 45, 123_000_000, time.Local)

	var buf bytes.Buffer
	printRecord(&buf, &Record{At: at, BatchValues: map[string][][]byte{
		batteryLevel: {{0x31}, {0x32}},
		"2a00":       {[]byte("Thermo")},
	}}, false)
	assert.Equal(t, "12:30:45.123 2a00: Thermo\n12:30:45.123 2a19: 1 2\n", buf.String())

	buf.Reset()
	printRecord(&buf, &Record{At: at, Values: map[string][]byte{batteryLevel: {0x32}}}, true)
	assert.Equal(t, "12:30:45.123 2a19: 32\n", buf.String())
}
