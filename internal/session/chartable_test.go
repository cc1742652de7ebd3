package session_test

import (
	"testing"

	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/session"
	"github.com/srg/blehelper/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharTable_Rebuild(t *testing.T) {
	first := testutils.NewFakeCharacteristic("2A19", device.PropRead, nil)
	duplicate := testutils.NewFakeCharacteristic("00002a19-0000-1000-8000-00805f9b34fb", device.PropRead, nil)
	custom := testutils.NewFakeCharacteristic("6E400002-B5A3-F393-E0A9-E50E24DCCA9E", device.PropWrite, nil)

	table := session.NewCharTable()
	ids := table.Rebuild([]device.Service{
		{UUID: "180F", Characteristics: []device.CharacteristicHandle{first}},
		{UUID: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", Characteristics: []device.CharacteristicHandle{custom, duplicate}},
	})

	require.Equal(t, []string{
		"00002a19-0000-1000-8000-00805f9b34fb",
		"6e400002-b5a3-f393-e0a9-e50e24dcca9e",
	}, ids)
	require.Equal(t, 2, table.Len())

	got, ok := table.Lookup("2a19")
	require.True(t, ok)
	assert.Same(t, duplicate, got, "later duplicate MUST win")

	got, ok = table.Lookup("6e400002b5a3f393e0a9e50e24dcca9e")
	require.True(t, ok)
	assert.Same(t, custom, got)

	_, ok = table.Lookup("not-a-uuid")
	assert.False(t, ok)
}

func TestCharTable_RebuildReplacesEverything(t *testing.T) {
	table := session.NewCharTable()
	table.Rebuild([]device.Service{{Characteristics: []device.CharacteristicHandle{
		testutils.NewFakeCharacteristic("2A19", device.PropRead, nil),
	}}})

	ids := table.Rebuild([]device.Service{{Characteristics: []device.CharacteristicHandle{
		testutils.NewFakeCharacteristic("2A37", device.PropNotify, nil),
	}}})

	assert.Equal(t, []string{device.CanonicalUUID("2A37")}, ids)
	_, ok := table.Lookup("2A19")
	assert.False(t, ok)

	table.Clear()
	assert.Zero(t, table.Len())
	assert.Empty(t, table.IDs())
}
