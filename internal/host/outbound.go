package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/blehelper/internal/groutine"
)

// ErrOutboundFull is returned when a line does not fit in the outbound buffer.
var ErrOutboundFull = errors.New("outbound buffer full")

// DefaultOutboundCapacity is the outbound buffer size in bytes.
const DefaultOutboundCapacity = 256 * 1024

// OutboundStats provides runtime counters useful for monitoring/backpressure.
type OutboundStats struct {
	QueueLen     int
	QueueCap     int
	Deferred     int
	LinesDropped uint64
	BytesWritten uint64
}

// Outbound queues whole lines in a byte ring and writes them to w on its own goroutine,
// so writers (including the session loop) never block on a slow reader.
// Lines are never split or interleaved. Event lines that do not fit are dropped; reply lines
// that do not fit wait in a deferred queue and are written, in order, once the ring drains.
type Outbound struct {
	w      io.Writer
	buf    *ringbuffer.RingBuffer
	notify chan struct{}
	logger *logrus.Logger

	mu       sync.Mutex // serializes writes into buf and deferred
	deferred [][]byte   // framed reply lines queued behind buf
	ctx      context.Context
	cancel   context.CancelFunc
	done     <-chan struct{}
	closed   atomic.Bool
	dropped  atomic.Uint64
	written  atomic.Uint64
}

// NewOutbound starts writing to w. capacity <= 0 selects DefaultOutboundCapacity.
func NewOutbound(w io.Writer, capacity int, logger *logrus.Logger) *Outbound {
	if capacity <= 0 {
		capacity = DefaultOutboundCapacity
	}
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Outbound{
		w:      w,
		buf:    ringbuffer.New(capacity),
		notify: make(chan struct{}, 1),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	o.done = groutine.Go(ctx, "host-write-loop", func(ctx context.Context) { o.writeLoop(ctx) })
	return o
}

// WriteEvent queues line followed by a newline. The line is dropped with ErrOutboundFull
// when the ring has no room or replies are already waiting.
func (o *Outbound) WriteEvent(line []byte) error {
	return o.write(line, false)
}

// WriteReply queues line followed by a newline. A reply is never dropped: when the ring is
// full it is deferred until the writer catches up.
func (o *Outbound) WriteReply(line []byte) error {
	return o.write(line, true)
}

func (o *Outbound) write(line []byte, reply bool) error {
	if o.closed.Load() {
		return io.ErrClosedPipe
	}
	framed := make([]byte, 0, len(line)+1)
	framed = append(append(framed, line...), '\n')

	o.mu.Lock()
	switch {
	case len(o.deferred) == 0 && o.buf.Free() >= len(framed):
		if _, err := o.buf.Write(framed); err != nil {
			o.mu.Unlock()
			return fmt.Errorf("outbound write: %w", err)
		}
	case reply:
		o.deferred = append(o.deferred, framed)
		o.logger.WithField("deferred", len(o.deferred)).Debug("Outbound buffer full, deferring reply")
	default:
		o.mu.Unlock()
		o.dropped.Add(1)
		o.logger.WithField("bytes", len(line)).Warn("Outbound buffer overflow, dropping event")
		return ErrOutboundFull
	}
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
		// signal already pending
	}
	return nil
}

func (o *Outbound) writeLoop(ctx context.Context) {
	chunk := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			o.flush(chunk)
			return
		case <-o.notify:
			o.flush(chunk)
		}
	}
}

// flush writes everything currently buffered, then the deferred replies. Nothing enters the
// ring while replies are deferred, so an empty ring is a line boundary.
func (o *Outbound) flush(chunk []byte) {
	for {
		if !o.drain(chunk) {
			return
		}
		o.mu.Lock()
		deferred := o.deferred
		o.deferred = nil
		o.mu.Unlock()
		if len(deferred) == 0 {
			return
		}
		for _, line := range deferred {
			if !o.emit(line) {
				return
			}
		}
	}
}

// drain empties the ring into w. Returns false if w failed.
func (o *Outbound) drain(chunk []byte) bool {
	for {
		n, err := o.buf.TryRead(chunk)
		if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
			return true
		}
		if !o.emit(chunk[:n]) {
			return false
		}
	}
}

func (o *Outbound) emit(p []byte) bool {
	written, err := o.w.Write(p)
	o.written.Add(uint64(written))
	if err != nil {
		o.logger.WithError(err).Warn("Outbound write failed")
		return false
	}
	return true
}

// Close writes what is still buffered and stops the writer goroutine.
func (o *Outbound) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	o.cancel()
	<-o.done
	return nil
}

// Stats returns instantaneous stats for monitoring.
func (o *Outbound) Stats() OutboundStats {
	o.mu.Lock()
	deferred := len(o.deferred)
	o.mu.Unlock()
	return OutboundStats{
		QueueLen:     o.buf.Length(),
		QueueCap:     o.buf.Capacity(),
		Deferred:     deferred,
		LinesDropped: o.dropped.Load(),
		BytesWritten: o.written.Load(),
	}
}
