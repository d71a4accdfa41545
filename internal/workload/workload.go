// Package workload generates synthetic fiber work used by the CLI and the
// HTTP server to exercise a scheduler.
package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/Swind/go-fiber-runner/core"
)

// Spec describes one synthetic work item: Segments pieces of work of
// SegmentDuration each, rescheduling itself between pieces.
type Spec struct {
	Name            string        `json:"name"`
	Segments        int           `json:"segments"`
	SegmentDuration time.Duration `json:"segment_duration"`
	Affinity        core.ThreadID `json:"affinity"`
}

// Result is reported once per finished item.
type Result struct {
	Name    string
	Threads []core.ThreadID
}

// Task turns spec into a callable. done, if not nil, receives the result when
// the last segment finished.
func Task(spec Spec, done func(Result)) core.Task {
	segments := max(spec.Segments, 1)
	return func(ctx context.Context) {
		res := Result{Name: spec.Name}
		for i := range segments {
			if id, ok := core.CurrentThreadID(ctx); ok {
				res.Threads = append(res.Threads, id)
			}
			if spec.SegmentDuration > 0 {
				time.Sleep(spec.SegmentDuration)
			}
			if i == segments-1 {
				break
			}
			if err := core.Reschedule(ctx); err != nil {
				break
			}
		}
		if done != nil {
			done(res)
		}
	}
}

// Submit queues spec on s.
func Submit(s *core.Scheduler, spec Spec, done func(Result)) {
	s.SubmitNamed(spec.Name, Task(spec, done), spec.Affinity)
}

// Generate returns n specs. Every pinEvery-th item is pinned round-robin to a
// worker of a scheduler with threads workers; pinEvery <= 0 pins nothing.
func Generate(n, threads, segments int, segmentDuration time.Duration, pinEvery int) []Spec {
	specs := make([]Spec, n)
	for i := range n {
		affinity := core.AnyThread
		if pinEvery > 0 && threads > 0 && i%pinEvery == 0 {
			affinity = core.ThreadID((i / pinEvery) % threads)
		}
		specs[i] = Spec{
			Name:            fmt.Sprintf("work-%d", i),
			Segments:        segments,
			SegmentDuration: segmentDuration,
			Affinity:        affinity,
		}
	}
	return specs
}
