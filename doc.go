// Package fiberrunner provides a cooperative fiber scheduler for Go.
//
// A Scheduler owns a fixed set of workers and one shared work queue. Producers
// submit either a Fiber (a suspendable unit of work) or a plain callable; each
// worker claims the first item it may run, resumes it until it yields or
// returns, and repeats. Workers with nothing to do run an idle fiber that ends
// exactly when the scheduler has fully stopped.
//
// # Quick Start
//
//	sched := fiberrunner.NewScheduler(4, "app")
//	sched.Submit(func(ctx context.Context) {
//		// Runs once on some worker
//	})
//	sched.Start()
//	defer sched.Close()
//	defer sched.Stop()
//
// # Key Concepts
//
// Fiber: a goroutine-backed coroutine with explicit Resume and Yield. A fiber
// that yields is not queued again by the scheduler; it calls Reschedule to
// come back, or its owner submits it again once it is READY.
//
// Affinity: SubmitOn and SubmitFiberOn pin work to one worker by ThreadID.
// Pinned work never runs anywhere else and may wait if that worker is busy.
//
// Idle policy: the Idler decides how idle workers wait. SignalIdler (default)
// parks them until a tickle arrives, BackoffIdler sleeps with exponential
// backoff, SpinIdler busy-waits.
//
// Stop: Stop lets queued work finish, then waits for every worker. The
// scheduler is fully stopped once stop was requested, the queue is empty and
// no worker is resuming anything; from then on submissions are rejected.
//
// # Context
//
// There is no global "current scheduler". Code running inside the scheduler
// finds it through the context it was given:
//
//	sched.Submit(func(ctx context.Context) {
//		s := fiberrunner.SchedulerFromContext(ctx)
//		id, _ := fiberrunner.CurrentThreadID(ctx)
//		s.SubmitOn(next, id)
//	})
package fiberrunner
