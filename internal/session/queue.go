package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/groutine"
)

// QueueMetrics provides lock-free counters for a Queue.
type QueueMetrics struct {
	EventsDelivered   int64 // handed to the consumer
	EventsOverwritten int64 // lost because the consumer fell behind
	ErrorsOccurred    int64
}

func (m *QueueMetrics) incDelivered()               { atomic.AddInt64(&m.EventsDelivered, 1) }
func (m *QueueMetrics) incErrors()                  { atomic.AddInt64(&m.ErrorsOccurred, 1) }
func (m *QueueMetrics) addOverwritten(count uint32) { atomic.AddInt64(&m.EventsOverwritten, int64(count)) }

func (m *QueueMetrics) snapshot() QueueMetrics {
	return QueueMetrics{
		EventsDelivered:   atomic.LoadInt64(&m.EventsDelivered),
		EventsOverwritten: atomic.LoadInt64(&m.EventsOverwritten),
		ErrorsOccurred:    atomic.LoadInt64(&m.ErrorsOccurred),
	}
}

const (
	queueNotRunning uint32 = iota
	queueRunning
	queueStopping

	// MaxQueueSize guards against accidental misconfiguration.
	MaxQueueSize uint32 = 1024 * 1024
)

// Queue is a Sink that buffers events in an overwrite-oldest ring and hands them to a consumer
// on its own goroutine, so a slow consumer never stalls the session loop.
//
// All methods are thread-safe.
type Queue struct {
	buffer   mpmc.RichOverlappedRingBuffer[Event]
	consumer Sink
	signal   chan struct{}
	stop     chan struct{}
	done     <-chan struct{}
	metrics  QueueMetrics
	state    uint32
	logger   *logrus.Logger
}

// NewQueue creates a stopped queue of size events feeding consumer.
func NewQueue(consumer Sink, size uint32, logger *logrus.Logger) (*Queue, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if size == 0 {
		return nil, fmt.Errorf("queue size must be > 0")
	}
	if size > MaxQueueSize {
		return nil, fmt.Errorf("queue size %d exceeds maximum %d", size, MaxQueueSize)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Queue{
		buffer:   mpmc.NewOverlappedRingBuffer[Event](size),
		consumer: consumer,
		signal:   make(chan struct{}, 1),
		logger:   logger,
	}, nil
}

// Deliver enqueues ev, dropping the oldest buffered event when full.
func (q *Queue) Deliver(ev Event) {
	overwrites, err := q.buffer.EnqueueM(ev)
	if err != nil {
		q.metrics.incErrors()
		q.logger.WithError(err).WithField("event", ev.Name()).Warn("Failed to enqueue event")
		return
	}
	if overwrites > 0 {
		q.metrics.addOverwritten(overwrites)
		q.logger.WithField("dropped", overwrites).Warn("Event consumer is falling behind, oldest events dropped")
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Start begins draining. Returns an error if already running.
func (q *Queue) Start() error {
	if !atomic.CompareAndSwapUint32(&q.state, queueNotRunning, queueRunning) {
		return fmt.Errorf("queue is already running")
	}
	q.stop = make(chan struct{})
	stop := q.stop
	q.done = groutine.Go(context.Background(), "event-queue-drain", func(ctx context.Context) {
		defer atomic.StoreUint32(&q.state, queueNotRunning)
		for {
			select {
			case <-stop:
				q.drain()
				return
			case <-q.signal:
				q.drain()
			}
		}
	})
	return nil
}

// Stop delivers whatever is buffered and stops the drain goroutine.
func (q *Queue) Stop() error {
	if !atomic.CompareAndSwapUint32(&q.state, queueRunning, queueStopping) {
		if atomic.LoadUint32(&q.state) == queueNotRunning {
			return nil
		}
	} else {
		close(q.stop)
	}

	select {
	case <-q.done:
		return nil
	case <-time.After(5 * time.Second):
		<-q.done
		return fmt.Errorf("stop completed but exceeded 5s timeout")
	}
}

func (q *Queue) drain() {
	for !q.buffer.IsEmpty() {
		ev, err := q.buffer.Dequeue()
		if err != nil {
			q.metrics.incErrors()
			q.logger.WithError(err).Warn("Failed to dequeue event")
			return
		}
		q.consumer.Deliver(ev)
		q.metrics.incDelivered()
	}
}

// Metrics returns a copy of the current counters.
func (q *Queue) Metrics() QueueMetrics {
	return q.metrics.snapshot()
}
