package fiberrunner_test

import (
	"context"
	"fmt"

	fiberrunner "github.com/Swind/go-fiber-runner"
)

// ExampleNewScheduler demonstrates single-worker FIFO dispatch.
func ExampleNewScheduler() {
	sched := fiberrunner.NewScheduler(1, "example")

	for _, name := range []string{"C1", "C2", "C3"} {
		sched.Submit(func(ctx context.Context) {
			fmt.Println(name)
		})
	}

	sched.Start()
	sched.Stop()
	sched.Close()

	// Output:
	// C1
	// C2
	// C3
}

// ExampleReschedule demonstrates a fiber that gives its worker back between steps.
func ExampleReschedule() {
	fiberrunner.RunToCompletion(2, "reschedule", func(s *fiberrunner.Scheduler) {
		s.SubmitOn(func(ctx context.Context) {
			for step := 1; step <= 3; step++ {
				id, _ := fiberrunner.CurrentThreadID(ctx)
				fmt.Printf("step %d on worker %s\n", step, id)
				if step < 3 {
					_ = fiberrunner.Reschedule(ctx)
				}
			}
		}, 1)
	})

	// Output:
	// step 1 on worker 1
	// step 2 on worker 1
	// step 3 on worker 1
}

// ExampleFiber demonstrates resubmitting a fiber after it yielded.
func ExampleFiber() {
	sched := fiberrunner.NewScheduler(1, "fiber")
	resumed := make(chan struct{})
	f := fiberrunner.NewFiber(func(ctx context.Context) {
		fmt.Println("first half")
		_ = fiberrunner.Yield(ctx)
		fmt.Println("second half")
		close(resumed)
	})

	sched.SubmitFiber(f)
	sched.Start()
	for f.State() != fiberrunner.FiberReady {
		// The worker publishes READY before control returns to it
	}
	sched.SubmitFiber(f)
	<-resumed
	sched.Stop()
	sched.Close()

	fmt.Println(f.State())
	// Output:
	// first half
	// second half
	// TERM
}
