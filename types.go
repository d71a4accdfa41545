package fiberrunner

import (
	"time"

	"github.com/Swind/go-fiber-runner/core"
)

// Re-export commonly used types from core package for convenience.
// This allows users to import only the fiberrunner package for most use cases.

// Task is the unit of work (Closure)
type Task = core.Task

// Scheduler dispatches fibers and callables onto its workers
type Scheduler = core.Scheduler

// SchedulerConfig holds the optional handlers of a Scheduler
type SchedulerConfig = core.SchedulerConfig

// SchedulerStats is a point-in-time snapshot of a Scheduler
type SchedulerStats = core.SchedulerStats

// ExecutionRecord describes one resume of a work item
type ExecutionRecord = core.ExecutionRecord

// Fiber is a cooperatively scheduled execution context
type Fiber = core.Fiber

// FiberState is the lifecycle state of a Fiber
type FiberState = core.FiberState

// ThreadID identifies a worker of a Scheduler
type ThreadID = core.ThreadID

// Idler is the idle policy of a Scheduler
type Idler = core.Idler

// Fiber states
const (
	FiberInit    = core.FiberInit
	FiberReady   = core.FiberReady
	FiberRunning = core.FiberRunning
	FiberTerm    = core.FiberTerm
)

// AnyThread lets any worker run an item
const AnyThread = core.AnyThread

var (
	NewFiber             = core.NewFiber
	Yield                = core.Yield
	Reschedule           = core.Reschedule
	FiberFromContext     = core.FiberFromContext
	SchedulerFromContext = core.SchedulerFromContext
	RootFiberFromContext = core.RootFiberFromContext
	CurrentThreadID      = core.CurrentThreadID
)

// NewScheduler creates a scheduler with threads workers and default handlers.
func NewScheduler(threads int, name string) *Scheduler {
	return core.NewScheduler(threads, name)
}

// NewSchedulerWithConfig creates a scheduler with custom handlers.
func NewSchedulerWithConfig(threads int, name string, config *SchedulerConfig) *Scheduler {
	return core.NewSchedulerWithConfig(threads, name, config)
}

// NewSignalIdler returns the default idle policy with the given max wait.
func NewSignalIdler(maxWait time.Duration) Idler {
	return core.NewSignalIdler(maxWait)
}

// RunToCompletion starts a fresh scheduler, lets submit queue work on it and
// stops it once everything submitted (directly or by the work itself) has
// finished. It returns the final stats.
func RunToCompletion(threads int, name string, submit func(s *Scheduler)) SchedulerStats {
	s := core.NewScheduler(threads, name)
	defer s.Close()
	submit(s)
	s.Start()
	s.Stop()
	return s.Stats()
}
