package session_test

import (
	"testing"
	"time"

	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/session"
	"github.com/srg/blehelper/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventNames(t *testing.T) {
	tests := []struct {
		event session.Event
		name  string
	}{
		{session.StateChanged{Address: addrA, State: device.Connected}, "onDeviceStateChange"},
		{session.ServicesDiscovered{Address: addrA}, "onServicesDiscovered"},
		{session.CharacteristicReadResult{Address: addrA}, "onCharacteristicReadResult"},
		{session.CharacteristicWriteResult{Address: addrA}, "onCharacteristicWriteResult"},
		{session.CharacteristicNotify{Address: addrA}, "onCharacteristicNotifyData"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.event.Name())
			assert.Equal(t, addrA, tt.event.DeviceAddress())
		})
	}
}

func TestEventJSON(t *testing.T) {
	ja := testutils.NewJSONAsserter(t).WithOptions(testutils.WithIgnoreExtraKeys(false))

	ja.AssertValue(session.StateChanged{Address: addrA, State: device.Connected}, `{"deviceId": "AA:BB:CC:DD:EE:01"}`)
	ja.AssertValue(session.CharacteristicWriteResult{
		Address:        addrA,
		Characteristic: batteryLevel,
		Success:        true,
	}, `{
		"deviceId": "AA:BB:CC:DD:EE:01",
		"characteristicId": "00002a19-0000-1000-8000-00805f9b34fb",
		"success": true,
		"status": 0
	}`)
}

func TestRouter_FanOutAndUnsubscribe(t *testing.T) {
	router := session.NewRouter(nil)
	first := testutils.NewEventRecorder()
	second := testutils.NewEventRecorder()

	cancelFirst := router.Subscribe(first)
	router.Subscribe(second)

	ev := session.StateChanged{Address: addrA, State: device.Connecting}
	router.Publish(ev)
	cancelFirst()
	router.Publish(session.StateChanged{Address: addrA, State: device.Connected})

	assert.Equal(t, []session.Event{ev}, first.Events())
	assert.Len(t, second.Events(), 2)
}

func TestRouter_PublishWithoutSubscribers(t *testing.T) {
	router := session.NewRouter(nil)
	require.NotPanics(t, func() {
		router.Publish(session.CharacteristicNotify{Address: addrA})
	})
}

func TestQueue_Validation(t *testing.T) {
	_, err := session.NewQueue(nil, 8, nil)
	require.Error(t, err)

	_, err = session.NewQueue(testutils.NewEventRecorder(), 0, nil)
	require.Error(t, err)

	_, err = session.NewQueue(testutils.NewEventRecorder(), session.MaxQueueSize+1, nil)
	require.Error(t, err)
}

func TestQueue_DeliversInOrder(t *testing.T) {
	rec := testutils.NewEventRecorder()
	q, err := session.NewQueue(rec, 64, nil)
	require.NoError(t, err)
	require.NoError(t, q.Start())
	require.Error(t, q.Start(), "second start MUST fail")

	for i := 0; i < 10; i++ {
		q.Deliver(session.CharacteristicNotify{Address: addrA, Value: []byte{byte(i)}})
	}
	require.NoError(t, q.Stop())

	events := rec.Events()
	require.Len(t, events, 10)
	for i, ev := range events {
		require.Equal(t, []byte{byte(i)}, ev.(session.CharacteristicNotify).Value)
	}
	assert.Equal(t, int64(10), q.Metrics().EventsDelivered)
	assert.Zero(t, q.Metrics().EventsOverwritten)
}

func TestQueue_OverwritesOldestWhenConsumerFallsBehind(t *testing.T) {
	sink := testutils.NewEventRecorder()
	q, err := session.NewQueue(sink, 4, nil)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		q.Deliver(session.CharacteristicNotify{Address: addrA, Value: []byte{byte(i)}})
	}
	require.Positive(t, q.Metrics().EventsOverwritten)

	require.NoError(t, q.Start())
	require.NoError(t, q.Stop())

	events := sink.Events()
	require.NotEmpty(t, events)
	require.LessOrEqual(t, len(events), 4)
}

func TestQueue_StopWithoutStart(t *testing.T) {
	q, err := session.NewQueue(testutils.NewEventRecorder(), 8, nil)
	require.NoError(t, err)
	require.NoError(t, q.Stop())
}

func TestQueue_AsRouterSink(t *testing.T) {
	rec := testutils.NewEventRecorder()
	q, err := session.NewQueue(rec, 16, nil)
	require.NoError(t, err)
	require.NoError(t, q.Start())
	defer q.Stop()

	router := session.NewRouter(nil)
	router.Subscribe(q)
	router.Publish(session.StateChanged{Address: addrB, State: device.Connected})

	require.Eventually(t, func() bool {
		return len(rec.States(addrB)) == 1
	}, time.Second, 5*time.Millisecond)
}
