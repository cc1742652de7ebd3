package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/reply"
	"github.com/srg/blehelper/internal/session"
)

// MaxLineSize bounds a single request line.
const MaxLineSize = 1024 * 1024

// Defaults fill in arguments a request leaves out.
type Defaults struct {
	ConnectTimeout  time.Duration
	DiscoverTimeout time.Duration
	ScanTimeout     time.Duration
	EventBuffer     uint32
}

// Server dispatches requests to a session.Manager and streams replies and events to an Outbound.
type Server struct {
	manager  *session.Manager
	out      *Outbound
	defaults Defaults
	logger   *logrus.Logger
}

func NewServer(manager *session.Manager, out *Outbound, defaults Defaults, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if defaults.EventBuffer == 0 {
		defaults.EventBuffer = 256
	}
	return &Server{manager: manager, out: out, defaults: defaults, logger: logger}
}

// Serve reads requests from in until EOF or ctx ends. Events are streamed for as long as
// Serve runs.
func (s *Server) Serve(ctx context.Context, in io.Reader) error {
	events, err := session.NewQueue(session.SinkFunc(s.publish), s.defaults.EventBuffer, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create event queue: %w", err)
	}
	if err := events.Start(); err != nil {
		return err
	}
	unsubscribe := s.manager.Subscribe(events)
	defer func() {
		unsubscribe()
		if err := events.Stop(); err != nil {
			s.logger.WithError(err).Warn("Event queue stop")
		}
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			s.Handle(line)
		}
	}
}

// Handle processes one request line. Replies may be written after Handle returns.
func (s *Server) Handle(line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeError(0, ErrorBody{Code: CodeBadRequest, Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	var args Args
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			s.writeError(req.ID, ErrorBody{Code: CodeBadRequest, Message: fmt.Sprintf("invalid args: %v", err)})
			return
		}
	}

	s.logger.WithFields(logrus.Fields{
		"id":     req.ID,
		"method": req.Method,
		"device": args.DeviceID,
	}).Debug("Request")

	if needsDevice(req.Method) && args.DeviceID == "" {
		s.writeError(req.ID, ErrorBody{Code: CodeBadRequest, Message: "deviceId is required"})
		return
	}

	m := s.manager
	switch req.Method {
	case MethodStartScan:
		m.StartScan(session.ScanOptions{
			Name:        args.Name,
			Address:     args.Address,
			ServiceUUID: args.ServiceUUID,
			Timeout:     args.timeout(s.defaults.ScanTimeout),
		}, respond[session.Results](s, req.ID))
	case MethodStopScan:
		s.writeResult(req.ID, m.StopScan())
	case MethodConnect:
		m.Connect(args.DeviceID, args.timeout(s.defaults.ConnectTimeout), respond[bool](s, req.ID))
	case MethodDisconnect:
		s.writeResult(req.ID, m.Disconnect(args.DeviceID))
	case MethodRequestMTU:
		if args.MTU <= 0 {
			s.writeError(req.ID, ErrorBody{Code: CodeBadRequest, Message: "mtu must be positive"})
			return
		}
		m.RequestMTU(args.DeviceID, args.MTU, respond[bool](s, req.ID))
	case MethodDiscoverServices:
		m.DiscoverServices(args.DeviceID, args.timeout(s.defaults.DiscoverTimeout), respond[[]string](s, req.ID))
	case MethodRead:
		s.writeResult(req.ID, m.CharacteristicRead(args.DeviceID, args.CharacteristicID))
	case MethodWrite:
		s.writeResult(req.ID, m.CharacteristicWrite(args.DeviceID, args.CharacteristicID, args.Value, args.WithoutResponse))
	case MethodSetNotification:
		s.writeResult(req.ID, m.CharacteristicSetNotification(args.DeviceID, args.CharacteristicID, args.Enable))
	case MethodRefreshCache:
		s.writeResult(req.ID, m.RefreshCache(args.DeviceID))
	case MethodState:
		s.writeResult(req.ID, m.State(args.DeviceID).String())
	default:
		s.writeError(req.ID, ErrorBody{Code: CodeUnknownMethod, Message: fmt.Sprintf("unknown method %q", req.Method)})
	}
}

func needsDevice(method string) bool {
	switch method {
	case MethodStartScan, MethodStopScan:
		return false
	default:
		return true
	}
}

// respond returns a Reply that writes the outcome as the reply to request id.
func respond[T any](s *Server, id int64) reply.Reply[T] {
	return reply.New(
		func(v T) { s.writeResult(id, v) },
		func(err error) { s.writeError(id, errorBody(err)) },
	)
}

func (s *Server) writeResult(id int64, result any) {
	s.reply(resultMessage{ID: id, Result: result})
}

func (s *Server) writeError(id int64, body ErrorBody) {
	s.reply(errorMessage{ID: id, Error: body})
}

// publish encodes a routed event. It runs on the event queue goroutine.
func (s *Server) publish(ev session.Event) {
	var args any = ev
	if sc, ok := ev.(session.StateChanged); ok {
		args = stateArgs{DeviceID: sc.Address, State: sc.State.String()}
	}
	line, ok := s.encode(eventMessage{Event: ev.Name(), Args: args})
	if !ok {
		return
	}
	if err := s.out.WriteEvent(line); err != nil && !errors.Is(err, ErrOutboundFull) {
		s.logger.WithError(err).Debug("Dropping event")
	}
}

func (s *Server) reply(msg any) {
	line, ok := s.encode(msg)
	if !ok {
		return
	}
	if err := s.out.WriteReply(line); err != nil {
		s.logger.WithError(err).Warn("Reply not written")
	}
}

func (s *Server) encode(msg any) ([]byte, bool) {
	line, err := json.Marshal(msg)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode message")
		return nil, false
	}
	return line, true
}
