package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehelper/internal/groutine"
)

// Loop runs callbacks one at a time on a single goroutine, in the order they were posted.
// All session state is mutated only from loop callbacks.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool

	gid    atomic.Uint64
	done   <-chan struct{}
	logger *logrus.Logger
}

// NewLoop starts a loop goroutine named name. It stops when ctx ends or Close is called.
func NewLoop(ctx context.Context, name string, logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.New()
	}
	l := &Loop{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
	started := make(chan struct{})
	l.done = groutine.Go(ctx, name, func(ctx context.Context) {
		l.gid.Store(groutine.GetGID())
		close(started)
		l.run(ctx)
	})
	<-started
	return l
}

func (l *Loop) run(ctx context.Context) {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			l.invoke(fn)
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Session loop callback panicked")
		}
	}()
	fn()
}

// Post enqueues fn. Returns false if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debug("Dropping callback posted to a closed loop")
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it. When already on the loop goroutine fn runs inline.
// Returns false if the loop is closed and fn did not run.
func (l *Loop) Call(fn func()) bool {
	if l.OnLoop() {
		fn()
		return true
	}
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		// Closed after posting: the queue is drained before exit, so ran is closed too.
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// OnLoop reports whether the caller runs on the loop goroutine.
func (l *Loop) OnLoop() bool {
	return groutine.GetGID() == l.gid.Load()
}

// Close stops accepting callbacks, drains what is queued and waits for the goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	if !l.OnLoop() {
		<-l.done
	}
}
