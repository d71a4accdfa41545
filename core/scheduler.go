package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Scheduler multiplexes fibers and callables onto a fixed set of workers.
//
// Every worker runs the same loop: claim the first eligible item from the
// shared queue, resume it until it yields or terminates, repeat. A worker with
// nothing to do resumes its idle fiber instead, which terminates exactly when
// the stop predicate holds.
type Scheduler struct {
	name      string
	threadIDs []ThreadID

	queue        *WorkQueue
	delayManager *DelayManager
	idler        Idler

	// Handlers and Metrics
	logger          Logger
	panicHandler    PanicHandler
	metrics         Metrics
	rejectedHandler RejectedHandler
	history         *executionHistory

	workersMu sync.Mutex
	workers   []*worker

	activeCount atomic.Int32
	idleCount   atomic.Int32
	rejected    atomic.Int64
	tickles     atomic.Int64

	// Lifecycle
	stopping atomic.Bool
	closed   atomic.Bool
}

type worker struct {
	id    ThreadID
	owner *resumeOwner
	done  chan struct{}
}

// NewScheduler creates a scheduler with threads workers. An empty name gets a
// generated one. threads must be positive.
func NewScheduler(threads int, name string) *Scheduler {
	return NewSchedulerWithConfig(threads, name, DefaultSchedulerConfig())
}

func NewSchedulerWithConfig(threads int, name string, config *SchedulerConfig) *Scheduler {
	if threads <= 0 {
		panic(fmt.Sprintf("fiberrunner: scheduler needs at least one thread, got %d", threads))
	}
	if name == "" {
		name = "fibers-" + uuid.NewString()[:8]
	}

	s := &Scheduler{
		name:      name,
		threadIDs: make([]ThreadID, threads),
		queue:     NewWorkQueue(),
	}
	for i := range threads {
		s.threadIDs[i] = ThreadID(i)
	}

	historyCapacity := defaultHistoryCapacity
	// Apply config
	if config != nil {
		s.panicHandler = config.PanicHandler
		s.metrics = config.Metrics
		s.rejectedHandler = config.RejectedHandler
		s.logger = config.Logger
		s.idler = config.Idler
		if config.HistoryCapacity > 0 {
			historyCapacity = config.HistoryCapacity
		}
	}

	// Use defaults if not provided
	if s.panicHandler == nil {
		s.panicHandler = &DefaultPanicHandler{}
	}
	if s.metrics == nil {
		s.metrics = &NilMetrics{}
	}
	if s.rejectedHandler == nil {
		s.rejectedHandler = &DefaultRejectedHandler{}
	}
	if s.logger == nil {
		s.logger = NewDefaultLogger()
	}
	if s.idler == nil {
		s.idler = NewSignalIdler(DefaultIdleMaxWait)
	}

	s.history = newExecutionHistory(historyCapacity)
	s.idler.Attach(s.threadIDs)
	s.delayManager = NewDelayManager(s.enqueue)
	return s
}

func (s *Scheduler) Name() string { return s.name }

func (s *Scheduler) ThreadCount() int { return len(s.threadIDs) }

// ThreadIDs returns the identifiers usable as affinity, in worker order.
func (s *Scheduler) ThreadIDs() []ThreadID {
	return append([]ThreadID(nil), s.threadIDs...)
}

// =============================================================================
// Submission
// =============================================================================

// Submit queues a callable that any worker may run.
func (s *Scheduler) Submit(task Task) {
	s.SubmitNamed("", task, AnyThread)
}

// SubmitOn queues a callable that only worker thread may run.
func (s *Scheduler) SubmitOn(task Task, thread ThreadID) {
	s.SubmitNamed("", task, thread)
}

// SubmitNamed queues a callable under name. The callable is only wrapped in a
// fiber by the worker that claims it.
func (s *Scheduler) SubmitNamed(name string, task Task, thread ThreadID) {
	s.mustKnowThread(thread)
	s.enqueue(newTaskItem(name, task, thread))
}

// SubmitFiber queues a runnable fiber for any worker.
func (s *Scheduler) SubmitFiber(f *Fiber) {
	s.SubmitFiberOn(f, AnyThread)
}

// SubmitFiberOn queues a runnable fiber for worker thread. Submitting a fiber
// that is RUNNING or TERM panics; a running fiber reschedules itself with
// Reschedule instead.
func (s *Scheduler) SubmitFiberOn(f *Fiber, thread ThreadID) {
	if f == nil {
		panic("fiberrunner: SubmitFiber called with a nil fiber")
	}
	s.mustKnowThread(thread)
	s.enqueue(newFiberItem(fiberName(f), f, thread))
}

// SubmitAfter queues task on thread once delay has elapsed.
func (s *Scheduler) SubmitAfter(task Task, delay time.Duration, thread ThreadID) {
	s.mustKnowThread(thread)
	s.delay(newTaskItem("", task, thread), delay)
}

// SubmitFiberAfter queues f on thread once delay has elapsed. The fiber must
// still be runnable when the delay expires.
func (s *Scheduler) SubmitFiberAfter(f *Fiber, delay time.Duration, thread ThreadID) {
	if f == nil {
		panic("fiberrunner: SubmitFiberAfter called with a nil fiber")
	}
	s.mustKnowThread(thread)
	s.delay(newFiberItem(fiberName(f), f, thread), delay)
}

func (s *Scheduler) delay(item *WorkItem, delay time.Duration) {
	if delay <= 0 {
		s.enqueue(item)
		return
	}
	if s.stopping.Load() || !s.delayManager.Add(item, delay) {
		s.reject(item, "scheduler is stopping")
	}
}

func fiberName(f *Fiber) string {
	return fmt.Sprintf("fiber-%d", f.ID())
}

func (s *Scheduler) mustKnowThread(thread ThreadID) {
	if thread == AnyThread {
		return
	}
	if thread < 0 || int(thread) >= len(s.threadIDs) {
		panic(fmt.Sprintf("fiberrunner: scheduler %q has no thread %s", s.name, thread))
	}
}

// enqueue inserts item at the tail of the queue and tickles its target.
func (s *Scheduler) enqueue(item *WorkItem) {
	if !s.queue.Push(item) {
		s.reject(item, "scheduler is stopped")
		return
	}
	s.metrics.RecordQueueDepth(s.name, s.queue.Len())
	s.tickle(item.Affinity)
}

func (s *Scheduler) reject(item *WorkItem, reason string) {
	s.rejected.Add(1)
	s.logger.Warn("work rejected",
		F("scheduler", s.name),
		F("work", item.Name),
		F("id", item.ID.String()),
		F("reason", reason),
	)
	s.rejectedHandler.HandleRejected(s.name, reason)
	s.metrics.RecordWorkRejected(s.name, reason)
	s.history.Add(ExecutionRecord{
		WorkID:        item.ID,
		Name:          item.Name,
		Kind:          item.Kind(),
		SchedulerName: s.name,
		Thread:        item.Affinity,
		FinishedAt:    time.Now(),
		Outcome:       OutcomeRejected,
	})
	item.reset()
}

// tickle notifies thread, or every worker for AnyThread, that it should look
// at the queue or at the stop predicate again.
func (s *Scheduler) tickle(thread ThreadID) {
	s.tickles.Add(1)
	s.metrics.RecordTickle(s.name)
	s.idler.Tickle(thread)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start spawns one goroutine per worker. It does not wait for them to run.
// Starting a stopping scheduler is rejected; starting twice panics.
func (s *Scheduler) Start() {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	if s.stopping.Load() {
		s.logger.Warn("start rejected: scheduler is stopping", F("scheduler", s.name))
		s.rejected.Add(1)
		s.rejectedHandler.HandleRejected(s.name, "start while stopping")
		s.metrics.RecordWorkRejected(s.name, "start while stopping")
		return
	}
	if len(s.workers) > 0 {
		panic(fmt.Sprintf("fiberrunner: scheduler %q started twice", s.name))
	}

	s.workers = make([]*worker, len(s.threadIDs))
	for i, id := range s.threadIDs {
		w := &worker{id: id, done: make(chan struct{})}
		s.workers[i] = w
		go s.run(w)
	}
	s.logger.Info("scheduler started", F("scheduler", s.name), F("threads", len(s.threadIDs)))
}

// Stopping evaluates the stop predicate: stop was requested, the queue is
// empty and no worker is resuming an item. Once it holds the queue refuses
// new work, so it stays true.
func (s *Scheduler) Stopping() bool {
	return s.queue.CloseIf(func(queued int) bool {
		return s.stopping.Load() && queued == 0 && s.activeCount.Load() == 0
	})
}

// StopRequested reports whether Stop has been called.
func (s *Scheduler) StopRequested() bool { return s.stopping.Load() }

// Stop requests shutdown and waits for every worker to leave its loop. Work
// already queued still runs. Delayed work that has not fired is rejected, and
// so is queued work of a scheduler that was never started. Stop is idempotent.
func (s *Scheduler) Stop() {
	if !s.Stopping() {
		s.workersMu.Lock()
		s.stopping.Store(true)
		started := len(s.workers) > 0
		s.workersMu.Unlock()

		for _, item := range s.delayManager.Stop() {
			s.reject(item, "delayed work dropped by stop")
		}

		if !started {
			for !s.Stopping() {
				for _, item := range s.queue.Drain() {
					s.reject(item, "scheduler stopped before start")
				}
			}
		}

		for _, id := range s.threadIDs {
			s.tickle(id)
		}
	}

	s.join()
	s.logger.Info("scheduler stopped", F("scheduler", s.name))
}

func (s *Scheduler) join() {
	s.workersMu.Lock()
	workers := s.workers
	s.workersMu.Unlock()
	for _, w := range workers {
		<-w.done
	}
}

// Close releases the scheduler. Closing a scheduler on which Stop was never
// called panics.
func (s *Scheduler) Close() {
	if !s.stopping.Load() {
		panic(fmt.Sprintf("fiberrunner: scheduler %q closed before Stop", s.name))
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.join()
	s.queue.Clear()
	s.history.Reset()
}

// =============================================================================
// Run loop
// =============================================================================

func (s *Scheduler) run(w *worker) {
	defer close(w.done)

	// The syscall hook of a native fiber runtime has no Go counterpart:
	// goroutines already park on blocking calls without stalling the worker.
	w.owner = &resumeOwner{sched: s, thread: w.id}
	root := newRootFiber(w.owner)
	w.owner.root = root
	ctx := root.context()

	idle := NewFiber(func(ctx context.Context) { s.idle(ctx, w.id) })

	s.logger.Debug("worker started", F("scheduler", s.name), F("thread", w.id.String()))
	for {
		res := s.queue.Claim(w.id, func(*WorkItem) { s.activeCount.Add(1) })
		if res.TickleNeeded() {
			target := AnyThread
			if len(res.Skipped) == 1 && !res.MoreRemaining {
				target = res.Skipped[0]
			}
			s.tickle(target)
		}

		switch {
		case res.Item != nil && res.Item.Fiber != nil:
			s.runFiber(ctx, w, res.Item)
		case res.Item != nil:
			s.runTask(ctx, w, res.Item)
		default:
			if idle.State() == FiberTerm {
				s.logger.Debug("worker exiting", F("scheduler", s.name), F("thread", w.id.String()))
				return
			}
			s.idleCount.Add(1)
			if err := idle.resume(ctx, w.owner); err != nil {
				s.logger.Error("idle fiber resume failed", F("scheduler", s.name), F("error", err))
			}
			s.idleCount.Add(-1)
		}
	}
}

// idle is the body of every worker's idle fiber.
func (s *Scheduler) idle(ctx context.Context, thread ThreadID) {
	for !s.Stopping() {
		s.idler.Wait(thread)
		if err := Yield(ctx); err != nil {
			return
		}
	}
}

func (s *Scheduler) runFiber(ctx context.Context, w *worker, item *WorkItem) {
	s.resumeItem(ctx, w, item, item.Fiber)
}

// runTask wraps the callable in a fresh fiber. The wrapper is dropped once it
// returns control unless the callable asked to be rescheduled.
func (s *Scheduler) runTask(ctx context.Context, w *worker, item *WorkItem) {
	s.resumeItem(ctx, w, item, NewFiber(item.Task))
}

func (s *Scheduler) resumeItem(ctx context.Context, w *worker, item *WorkItem, f *Fiber) {
	defer s.finish(item)

	kind := item.Kind()
	startedAt := time.Now()
	err := f.resume(ctx, w.owner)
	finishedAt := time.Now()

	record := ExecutionRecord{
		WorkID:        item.ID,
		Name:          item.Name,
		Kind:          kind,
		SchedulerName: s.name,
		Thread:        w.id,
		FiberID:       f.ID(),
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		Duration:      finishedAt.Sub(startedAt),
	}

	if err != nil {
		s.logger.Error("dequeued fiber is not runnable",
			F("scheduler", s.name),
			F("work", item.Name),
			F("thread", w.id.String()),
			F("error", err),
		)
		s.reject(item, "fiber not runnable")
		return
	}
	s.metrics.RecordResumeDuration(s.name, kind, record.Duration)

	switch state := f.State(); {
	case state == FiberTerm:
		record.Outcome = OutcomeTerminated
		var perr *FiberPanicError
		if errors.As(f.Err(), &perr) {
			record.Outcome = OutcomePanicked
			s.metrics.RecordFiberPanic(s.name, perr.Value)
			s.panicHandler.HandlePanic(ctx, s.name, w.id, perr.Value, perr.Stack)
		}
	case f.takeResubmit():
		record.Outcome = OutcomeRescheduled
		// Pushed while the item still counts as active, so the stop
		// predicate cannot hold in between.
		if !s.queue.Push(&WorkItem{ID: item.ID, Fiber: f, Name: item.Name, Affinity: item.Affinity}) {
			s.logger.Error("rescheduled fiber refused by a closed queue", F("scheduler", s.name), F("work", item.Name))
		} else {
			s.tickle(item.Affinity)
		}
	default:
		record.Outcome = OutcomeYielded
		if kind == WorkKindCallable {
			s.logger.Warn("callable yielded without rescheduling; its fiber is discarded",
				F("scheduler", s.name),
				F("work", item.Name),
				F("fiber", f.ID()),
			)
		}
	}
	s.history.Add(record)
}

func (s *Scheduler) finish(item *WorkItem) {
	item.reset()
	s.activeCount.Add(-1)
	if s.stopping.Load() {
		s.tickle(AnyThread)
	}
}

// =============================================================================
// Observability
// =============================================================================

func (s *Scheduler) QueuedCount() int  { return s.queue.Len() }
func (s *Scheduler) ActiveCount() int  { return int(s.activeCount.Load()) }
func (s *Scheduler) IdleCount() int    { return int(s.idleCount.Load()) }
func (s *Scheduler) DelayedCount() int { return s.delayManager.Count() }
func (s *Scheduler) RejectedCount() int64 {
	return s.rejected.Load()
}

// IsRunning reports whether workers were started and have not all exited.
func (s *Scheduler) IsRunning() bool {
	s.workersMu.Lock()
	workers := s.workers
	s.workersMu.Unlock()
	for _, w := range workers {
		select {
		case <-w.done:
		default:
			return true
		}
	}
	return false
}

// Stats returns a point-in-time snapshot. The fields are read independently
// and may not be mutually consistent under load.
func (s *Scheduler) Stats() SchedulerStats {
	stats := SchedulerStats{
		Name:     s.name,
		Threads:  len(s.threadIDs),
		Queued:   s.QueuedCount(),
		Active:   s.ActiveCount(),
		Idle:     s.IdleCount(),
		Delayed:  s.DelayedCount(),
		Rejected: s.rejected.Load(),
		Tickles:  s.tickles.Load(),
		Running:  s.IsRunning(),
		Stopping: s.stopping.Load(),
		Stopped:  s.queue.IsClosed(),
	}
	if last, ok := s.history.Last(); ok {
		stats.LastWorkName = last.Name
		stats.LastWorkAt = last.FinishedAt
	}
	return stats
}

// RecentExecutions returns up to limit execution records, newest first.
func (s *Scheduler) RecentExecutions(limit int) []ExecutionRecord {
	return s.history.Recent(limit)
}

// =============================================================================
// Context lookups
// =============================================================================

func ownerFromContext(ctx context.Context) *resumeOwner {
	f := FiberFromContext(ctx)
	if f == nil {
		return nil
	}
	return f.owner.Load()
}

// SchedulerFromContext returns the scheduler whose worker is running ctx, or
// nil outside of a scheduler.
func SchedulerFromContext(ctx context.Context) *Scheduler {
	if o := ownerFromContext(ctx); o != nil {
		return o.sched
	}
	return nil
}

// RootFiberFromContext returns the scheduling fiber of the worker running ctx.
func RootFiberFromContext(ctx context.Context) *Fiber {
	f := FiberFromContext(ctx)
	if f == nil {
		return nil
	}
	if f.root {
		return f
	}
	if o := f.owner.Load(); o != nil {
		return o.root
	}
	return nil
}

// CurrentThreadID returns the worker running ctx.
func CurrentThreadID(ctx context.Context) (ThreadID, bool) {
	o := ownerFromContext(ctx)
	if o == nil || o.sched == nil {
		return AnyThread, false
	}
	return o.thread, true
}
