package tinygo

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/device"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"tinygo.org/x/bluetooth"
)

// MockCharacteristic implements remoteCharacteristic for testing
type MockCharacteristic struct {
	mock.Mock
	uuid bluetooth.UUID
}

func (m *MockCharacteristic) UUID() bluetooth.UUID { return m.uuid }

func (m *MockCharacteristic) Read(data []byte) (int, error) {
	args := m.Called()
	n := copy(data, args.Get(0).([]byte))
	return n, args.Error(1)
}

func (m *MockCharacteristic) Write(p []byte) (int, error) {
	args := m.Called(p)
	return len(p), args.Error(0)
}

func (m *MockCharacteristic) WriteWithoutResponse(p []byte) (int, error) {
	args := m.Called(p)
	return len(p), args.Error(0)
}

func (m *MockCharacteristic) EnableNotifications(callback func(buf []byte)) error {
	return m.Called(callback == nil, callback).Error(0)
}

func (m *MockCharacteristic) GetMTU() (uint16, error) {
	args := m.Called()
	return uint16(args.Int(0)), args.Error(1)
}

// fakeLink is a link serving a fixed set of characteristics.
type fakeLink struct {
	found       []discovered
	err         error
	disconnects chan struct{}
}

func (l *fakeLink) Characteristics() ([]discovered, error) { return l.found, l.err }

func (l *fakeLink) Disconnect() error {
	l.disconnects <- struct{}{}
	return nil
}

type eventRecorder chan device.Event

func (r eventRecorder) Deliver(ev device.Event) { r <- ev }

type GattTestSuite struct {
	suite.Suite
	battery *MockCharacteristic
	link    *fakeLink
	events  eventRecorder
	gatt    *Gatt
}

func (s *GattTestSuite) SetupTest() {
	s.battery = &MockCharacteristic{uuid: bluetooth.New16BitUUID(0x2A19)}
	s.link = &fakeLink{
		found:       []discovered{{service: bluetooth.New16BitUUID(0x180F).String(), characteristics: []remoteCharacteristic{s.battery}}},
		disconnects: make(chan struct{}, 4),
	}
	s.events = make(eventRecorder, 32)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	s.gatt = newGatt("AA:BB:CC:DD:EE:01", s.events, logger)
}

func (s *GattTestSuite) TearDownTest() {
	s.gatt.Close()
}

func (s *GattTestSuite) next() device.Event {
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for an event")
		return nil
	}
}

func (s *GattTestSuite) connect() {
	s.gatt.start(func() (link, error) { return s.link, nil })
	s.Equal(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Connected}, s.next())
}

func (s *GattTestSuite) discover() *Characteristic {
	s.True(s.gatt.DiscoverServices())
	ev := s.next().(device.ServicesDiscovered)
	s.Require().Equal(device.StatusSuccess, ev.Status)
	s.Require().Len(ev.Services, 1)
	s.Require().Len(ev.Services[0].Characteristics, 1)
	return ev.Services[0].Characteristics[0].(*Characteristic)
}

func (s *GattTestSuite) TestDiscoverServices() {
	s.connect()
	ch := s.discover()
	s.Equal("00002a19-0000-1000-8000-00805f9b34fb", ch.UUID())
	s.Equal("00002902-0000-1000-8000-00805f9b34fb", ch.ClientConfig().UUID())
}

func (s *GattTestSuite) TestDiscoverFailure() {
	s.link.err = errors.New("dbus: no reply")
	s.connect()
	s.True(s.gatt.DiscoverServices())
	s.Equal(device.ServicesDiscovered{Status: device.StatusFailure}, s.next())
}

func (s *GattTestSuite) TestDialFailure() {
	s.gatt.start(func() (link, error) { return nil, errors.New("connection timed out") })
	s.Equal(device.ConnectionStateChanged{Status: device.StatusFailure, State: device.Disconnected}, s.next())
	s.False(s.gatt.DiscoverServices())
}

func (s *GattTestSuite) TestDisconnectWhileDialingDropsLink() {
	release := make(chan struct{})
	s.gatt.start(func() (link, error) {
		<-release
		return s.link, nil
	})
	s.gatt.Disconnect()
	close(release)

	s.Equal(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Disconnected}, s.next())
	s.Len(s.link.disconnects, 1)
}

func (s *GattTestSuite) TestRequestMTUReportsNegotiatedSize() {
	s.battery.On("GetMTU").Return(247, nil).Once()
	s.connect()

	s.True(s.gatt.RequestMTU(512))
	s.Equal(device.MTUChanged{MTU: 247, Status: device.StatusSuccess}, s.next())
}

func (s *GattTestSuite) TestReadAndWrite() {
	s.battery.On("Read").Return([]byte{77}, nil).Once()
	s.battery.On("Write", []byte{1}).Return(nil).Once()
	s.battery.On("WriteWithoutResponse", []byte{2}).Return(errors.New("busy")).Once()
	s.connect()
	ch := s.discover()

	s.True(s.gatt.ReadCharacteristic(ch))
	s.Equal(device.CharacteristicRead{Status: device.StatusSuccess, Characteristic: ch, Value: []byte{77}}, s.next())

	s.Require().NoError(ch.Stage([]byte{1}))
	s.True(s.gatt.WriteCharacteristic(ch, device.WriteDefault))
	s.Equal(device.CharacteristicWritten{Status: device.StatusSuccess, Characteristic: ch}, s.next())

	s.Require().NoError(ch.Stage([]byte{2}))
	s.True(s.gatt.WriteCharacteristic(ch, device.WriteNoResponse))
	s.Equal(device.CharacteristicWritten{Status: device.StatusFailure, Characteristic: ch}, s.next())
	s.battery.AssertExpectations(s.T())
}

func (s *GattTestSuite) TestNotifications() {
	var callback func([]byte)
	s.battery.On("EnableNotifications", false, mock.Anything).
		Run(func(args mock.Arguments) { callback = args.Get(1).(func([]byte)) }).
		Return(nil).Once()
	s.battery.On("EnableNotifications", true, mock.Anything).Return(nil).Once()
	s.connect()
	ch := s.discover()
	cccd := ch.ClientConfig()

	s.True(s.gatt.SetCharacteristicNotification(ch, true))
	s.Require().NoError(cccd.Stage(device.EnableNotificationValue))
	s.True(s.gatt.WriteDescriptor(cccd))
	s.Equal(device.DescriptorWritten{Status: device.StatusSuccess, Descriptor: cccd}, s.next())

	callback([]byte{9})
	s.Equal(device.CharacteristicChanged{Characteristic: ch, Value: []byte{9}}, s.next())

	s.Require().NoError(cccd.Stage(device.DisableNotificationValue))
	s.True(s.gatt.WriteDescriptor(cccd))
	s.Equal(device.DescriptorWritten{Status: device.StatusSuccess, Descriptor: cccd}, s.next())
	s.battery.AssertExpectations(s.T())
}

func (s *GattTestSuite) TestLinkLost() {
	s.connect()
	s.gatt.linkLost()
	s.Equal(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Disconnected}, s.next())
	s.False(s.gatt.RequestMTU(23))

	s.gatt.linkLost()
	s.Empty(s.events, "a second loss report MUST not publish again")
}

func (s *GattTestSuite) TestDisconnect() {
	s.connect()
	s.gatt.Disconnect()
	s.Equal(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Disconnected}, s.next())
	s.Len(s.link.disconnects, 1)
}

func TestGattTestSuite(t *testing.T) {
	suite.Run(t, new(GattTestSuite))
}
