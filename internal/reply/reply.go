// Package reply models single-completion result handles.
//
// A Reply is resolved at most once, either with a value or with an error. Pending is the
// slot a session keeps for the one in-flight caller of an operation kind.
package reply

import (
	"context"
	"fmt"
	"sync"
)

// Reply receives the terminal outcome of one operation.
type Reply[T any] interface {
	Success(value T)
	Error(err error)
}

// Func adapts a pair of functions to Reply. Only the first resolution is delivered.
type Func[T any] struct {
	once      sync.Once
	onSuccess func(T)
	onError   func(error)
}

// New returns a Reply calling onSuccess or onError. Either may be nil.
func New[T any](onSuccess func(T), onError func(error)) *Func[T] {
	return &Func[T]{onSuccess: onSuccess, onError: onError}
}

func (f *Func[T]) Success(value T) {
	f.once.Do(func() {
		if f.onSuccess != nil {
			f.onSuccess(value)
		}
	})
}

func (f *Func[T]) Error(err error) {
	f.once.Do(func() {
		if f.onError != nil {
			f.onError(err)
		}
	})
}

// Discard returns a Reply that ignores its outcome.
func Discard[T any]() Reply[T] {
	return New[T](nil, nil)
}

// Future is a Reply a blocking caller can wait on.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) Success(value T) {
	f.once.Do(func() {
		f.value = value
		close(f.done)
	})
}

func (f *Future[T]) Error(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is resolved or ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Kind tags the operation a Pending slot awaits.
type Kind int

const (
	Connect Kind = iota
	RequestMTU
	DiscoverServices
	Scan
)

func (k Kind) String() string {
	switch k {
	case Connect:
		return "connect"
	case RequestMTU:
		return "request-mtu"
	case DiscoverServices:
		return "discover-services"
	case Scan:
		return "scan"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Pending holds at most one live Reply for one operation kind.
//
// Every terminal method resolves the held reply and clears the slot before returning, so a
// reply is never resolved twice. Pending is not safe for concurrent use; sessions only touch
// it from their loop.
type Pending[T any] struct {
	kind Kind
	r    Reply[T]
}

func NewPending[T any](kind Kind) *Pending[T] {
	return &Pending[T]{kind: kind}
}

func (p *Pending[T]) Kind() Kind { return p.kind }

// Live reports whether a caller is waiting.
func (p *Pending[T]) Live() bool { return p.r != nil }

// Arm stores next as the waiting caller. A caller still waiting is first handed to preempt,
// which must resolve it. Returns whether a previous caller was preempted.
func (p *Pending[T]) Arm(next Reply[T], preempt func(stale Reply[T])) bool {
	if next == nil {
		next = Discard[T]()
	}
	stale := p.r
	p.r = nil
	if stale != nil {
		preempt(stale)
	}
	p.r = next
	return stale != nil
}

// Succeed resolves the waiting caller with value. Returns false if nobody was waiting.
func (p *Pending[T]) Succeed(value T) bool {
	r := p.take()
	if r == nil {
		return false
	}
	r.Success(value)
	return true
}

// Fail resolves the waiting caller with err. Returns false if nobody was waiting.
func (p *Pending[T]) Fail(err error) bool {
	r := p.take()
	if r == nil {
		return false
	}
	r.Error(err)
	return true
}

// Clear drops the waiting caller without resolving it.
func (p *Pending[T]) Clear() {
	p.r = nil
}

func (p *Pending[T]) take() Reply[T] {
	r := p.r
	p.r = nil
	return r
}
