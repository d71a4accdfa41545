package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

// FiberState is the lifecycle state of a Fiber.
type FiberState int32

const (
	// FiberInit: created, never resumed
	FiberInit FiberState = iota
	// FiberReady: suspended in Yield, may be resumed
	FiberReady
	// FiberRunning: currently owns its worker
	FiberRunning
	// FiberTerm: body returned or panicked
	FiberTerm
)

func (s FiberState) String() string {
	switch s {
	case FiberInit:
		return "INIT"
	case FiberReady:
		return "READY"
	case FiberRunning:
		return "RUNNING"
	case FiberTerm:
		return "TERM"
	default:
		return fmt.Sprintf("FiberState(%d)", int32(s))
	}
}

// Runnable reports whether a fiber in this state may be resumed.
func (s FiberState) Runnable() bool {
	return s == FiberInit || s == FiberReady
}

var (
	ErrFiberNotRunnable = errors.New("fiber is not runnable")
	ErrNestedResume     = errors.New("fiber resumed from inside another fiber")
	ErrNotInFiber       = errors.New("not called from inside a fiber")
	ErrNotOwner         = errors.New("fiber has no resumption owner")
)

// FiberPanicError is stored as the fiber's Err when its body panicked.
type FiberPanicError struct {
	Value any
	Stack []byte
}

func (e *FiberPanicError) Error() string {
	return fmt.Sprintf("fiber panicked: %v", e.Value)
}

var lastFiberID atomic.Uint64

type fiberKeyType struct{}

var fiberKey fiberKeyType

// resumeOwner is the token a resumer hands to the fiber it resumes. Yield is
// only legal while a token is present, and it goes back to whoever set it.
type resumeOwner struct {
	sched  *Scheduler
	thread ThreadID
	root   *Fiber
}

// Fiber is a goroutine-backed coroutine. Control moves between the resumer and
// the fiber over unbuffered channels, so at most one of them runs at a time.
//
// A fiber that yields and is never resumed again keeps its goroutine parked
// for the life of the process.
type Fiber struct {
	id   uint64
	fn   Task
	root bool

	state    atomic.Int32
	owner    atomic.Pointer[resumeOwner]
	started  atomic.Bool
	resubmit atomic.Bool

	resumeCh chan struct{}
	yieldCh  chan struct{}
	done     chan struct{}

	// err is written before the TERM state is published.
	err error
}

// NewFiber creates a fiber in FiberInit state. The body starts on the first Resume.
func NewFiber(fn Task) *Fiber {
	if fn == nil {
		panic("fiberrunner: NewFiber called with a nil body")
	}
	return &Fiber{
		id:       lastFiberID.Add(1),
		fn:       fn,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// newRootFiber represents a worker's own scheduling context. It is always
// RUNNING and is never resumed or yielded.
func newRootFiber(owner *resumeOwner) *Fiber {
	f := &Fiber{
		id:   lastFiberID.Add(1),
		root: true,
		done: make(chan struct{}),
	}
	f.state.Store(int32(FiberRunning))
	f.owner.Store(owner)
	return f
}

func (f *Fiber) ID() uint64 { return f.id }

func (f *Fiber) State() FiberState { return FiberState(f.state.Load()) }

// IsRoot reports whether f is a worker's scheduling fiber.
func (f *Fiber) IsRoot() bool { return f.root }

// Done is closed when the fiber reaches FiberTerm.
func (f *Fiber) Done() <-chan struct{} { return f.done }

// Err returns the *FiberPanicError of a fiber whose body panicked.
// It is only meaningful once the fiber is TERM.
func (f *Fiber) Err() error {
	if f.State() != FiberTerm {
		return nil
	}
	return f.err
}

// context returns a context that identifies f as the current fiber.
func (f *Fiber) context() context.Context {
	return context.WithValue(context.Background(), fiberKey, f)
}

// Resume runs f until it yields or terminates. It must not be called from
// inside another fiber's body.
func (f *Fiber) Resume(ctx context.Context) error {
	owner := &resumeOwner{thread: AnyThread}
	if cur := FiberFromContext(ctx); cur != nil && cur.root {
		if o := cur.owner.Load(); o != nil {
			owner = o
		}
	}
	return f.resume(ctx, owner)
}

func (f *Fiber) resume(ctx context.Context, owner *resumeOwner) error {
	if cur := FiberFromContext(ctx); cur != nil && !cur.root {
		return ErrNestedResume
	}
	if f.root {
		return fmt.Errorf("fiber %d: %w: root fiber", f.id, ErrFiberNotRunnable)
	}

	from := f.State()
	if !from.Runnable() || !f.state.CompareAndSwap(int32(from), int32(FiberRunning)) {
		return fmt.Errorf("fiber %d in state %s: %w", f.id, f.State(), ErrFiberNotRunnable)
	}
	f.owner.Store(owner)

	if f.started.CompareAndSwap(false, true) {
		go f.main()
	} else {
		f.resumeCh <- struct{}{}
	}
	<-f.yieldCh
	return nil
}

func (f *Fiber) main() {
	defer func() {
		var panicErr error
		if rec := recover(); rec != nil {
			panicErr = &FiberPanicError{Value: rec, Stack: debug.Stack()}
		}
		f.owner.Store(nil)
		for {
			if f.State() == FiberRunning {
				f.err = panicErr
				if f.state.CompareAndSwap(int32(FiberRunning), int32(FiberTerm)) {
					close(f.done)
					f.yieldCh <- struct{}{}
					return
				}
				continue
			}
			// Another goroutine yielded on the body's behalf and the resumer
			// already has control back; nobody waits on yieldCh.
			f.err = errors.Join(fmt.Errorf("fiber %d: yielded outside its body: %w", f.id, ErrNotOwner), panicErr)
			if f.state.CompareAndSwap(int32(FiberReady), int32(FiberTerm)) {
				close(f.done)
				return
			}
		}
	}()
	f.fn(f.context())
}

// yield hands control back to the resumer. Taking the owner token is a
// compare-and-swap, so of several goroutines yielding at once only one wins.
func (f *Fiber) yield(resubmit bool) error {
	o := f.owner.Load()
	if o == nil || !f.owner.CompareAndSwap(o, nil) {
		return ErrNotOwner
	}
	if resubmit {
		f.resubmit.Store(true)
	}
	// The owner is released before READY is published: once READY is visible
	// another resumer may install its own token.
	if !f.state.CompareAndSwap(int32(FiberRunning), int32(FiberReady)) {
		f.resubmit.Store(false)
		return ErrNotOwner
	}
	f.yieldCh <- struct{}{}
	select {
	case <-f.resumeCh:
		return nil
	case <-f.done:
		return fmt.Errorf("fiber %d terminated while suspended: %w", f.id, ErrNotOwner)
	}
}

// takeResubmit reports and clears a pending Reschedule request.
func (f *Fiber) takeResubmit() bool {
	return f.resubmit.Swap(false)
}

// Yield suspends the calling fiber and returns control to its resumer.
func Yield(ctx context.Context) error {
	f := FiberFromContext(ctx)
	if f == nil || f.root {
		return ErrNotInFiber
	}
	return f.yield(false)
}

// Reschedule yields the calling fiber and asks the worker that resumed it to
// submit it again, keeping the affinity it was submitted with. This is the
// safe form of cooperative self-rescheduling: the fiber is only back in the
// queue once it is READY.
func Reschedule(ctx context.Context) error {
	f := FiberFromContext(ctx)
	if f == nil || f.root {
		return ErrNotInFiber
	}
	owner := f.owner.Load()
	if owner == nil || owner.sched == nil {
		return ErrNotOwner
	}
	return f.yield(true)
}

// FiberFromContext returns the fiber running with ctx, or nil.
func FiberFromContext(ctx context.Context) *Fiber {
	if ctx == nil {
		return nil
	}
	if f, ok := ctx.Value(fiberKey).(*Fiber); ok {
		return f
	}
	return nil
}
