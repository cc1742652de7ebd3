package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/device"
	"github.com/srg/blehelper/internal/reply"
	"github.com/srg/blehelper/internal/session"
	"github.com/srg/blehelper/internal/timer"
	"github.com/stretchr/testify/suite"
)

// MockBLEPeripheralSuite is a testify suite wired to a fake adapter and a manual clock.
//
// Basic usage:
//
//	type ConnectSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
//	func (s *ConnectSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{80})
//
//	    s.MockBLEPeripheralSuite.SetupTest() // call parent last to apply configuration
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Adapter     *FakeAdapter
	Location    *FakeLocation
	Permissions *FakePermissions
	Clock       *timer.ManualClock
	Manager     *session.Manager
	Events      *EventRecorder

	PeripheralBuilder *PeripheralDeviceBuilder

	cancel      context.CancelFunc
	unsubscribe func()
}

func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest builds a fresh manager for each test.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = DefaultPeripheral()
	}

	s.Adapter = NewFakeAdapter().SetProfile(s.PeripheralBuilder.Build())
	s.Location = NewFakeLocation(true)
	s.Permissions = NewFakePermissions(device.PermissionGranted)
	s.Clock = timer.NewManualClock()
	s.Events = NewEventRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.Manager = session.NewManager(ctx, session.Options{
		Adapter:     s.Adapter,
		Location:    s.Location,
		Permissions: s.Permissions,
		Clock:       s.Clock,
		Logger:      s.Logger,
	})
	s.unsubscribe = s.Manager.Subscribe(s.Events)
}

func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.Manager != nil {
		s.Manager.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.PeripheralBuilder = nil
}

// WithPeripheral returns the peripheral builder for configuring the profile before SetupTest.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralDeviceBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralDeviceBuilder()
	}
	return s.PeripheralBuilder
}

// Flush waits until every adapter event and timer expiry delivered so far has been handled.
func (s *MockBLEPeripheralSuite) Flush() {
	s.Manager.Flush()
}

// Advance moves the manual clock and handles the expiries it caused.
func (s *MockBLEPeripheralSuite) Advance(d time.Duration) {
	s.Clock.Advance(d)
	s.Flush()
}

// Connect connects to address and completes the link, returning the handle.
func (s *MockBLEPeripheralSuite) Connect(address string) *FakeGatt {
	r := NewReplyRecorder[bool]()
	s.Manager.Connect(address, 5*time.Second, r)
	gatt := s.Adapter.LastGatt()
	s.Require().NotNil(gatt, "connect MUST issue an adapter connect")
	gatt.Emit(device.ConnectionStateChanged{Status: device.StatusSuccess, State: device.Connected})
	s.Flush()
	s.Require().Equal([]bool{true}, r.Values(), "connect MUST succeed")
	return gatt
}

// ConnectAndDiscover connects and completes discovery with the configured profile.
func (s *MockBLEPeripheralSuite) ConnectAndDiscover(address string) *FakeGatt {
	gatt := s.Connect(address)
	r := NewReplyRecorder[[]string]()
	s.Manager.DiscoverServices(address, 5*time.Second, r)
	gatt.Emit(device.ServicesDiscovered{Status: device.StatusSuccess, Services: s.PeripheralBuilder.Build()})
	s.Flush()
	s.Require().Len(r.Values(), 1, "discovery MUST resolve")
	return gatt
}

// ReplyRecorder is a reply.Reply that records every resolution, including ones a correct
// session would never make, so tests can assert "exactly once".
type ReplyRecorder[T any] struct {
	mu     sync.Mutex
	values []T
	errs   []error
}

var _ reply.Reply[bool] = (*ReplyRecorder[bool])(nil)

func NewReplyRecorder[T any]() *ReplyRecorder[T] {
	return &ReplyRecorder[T]{}
}

func (r *ReplyRecorder[T]) Success(value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, value)
}

func (r *ReplyRecorder[T]) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *ReplyRecorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func (r *ReplyRecorder[T]) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Resolutions counts every resolution received.
func (r *ReplyRecorder[T]) Resolutions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values) + len(r.errs)
}

// EventRecorder is a session.Sink that keeps every routed event.
type EventRecorder struct {
	mu     sync.Mutex
	events []session.Event
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

func (r *EventRecorder) Deliver(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *EventRecorder) Events() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Event(nil), r.events...)
}

// Named returns the events with the given host-facing name.
func (r *EventRecorder) Named(name string) []session.Event {
	var out []session.Event
	for _, ev := range r.Events() {
		if ev.Name() == name {
			out = append(out, ev)
		}
	}
	return out
}

// States returns the connection states published for address, in order.
func (r *EventRecorder) States(address string) []device.ConnectionState {
	var out []device.ConnectionState
	for _, ev := range r.Events() {
		if sc, ok := ev.(session.StateChanged); ok && sc.Address == address {
			out = append(out, sc.State)
		}
	}
	return out
}

func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
