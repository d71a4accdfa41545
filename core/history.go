package core

import (
	"reflect"
	"runtime"
	"sync"
	"time"
)

const defaultHistoryCapacity = 100

// ResumeOutcome tells how one resume of a work item ended.
type ResumeOutcome string

const (
	OutcomeYielded     ResumeOutcome = "yielded"
	OutcomeRescheduled ResumeOutcome = "rescheduled"
	OutcomeTerminated  ResumeOutcome = "terminated"
	OutcomePanicked    ResumeOutcome = "panicked"
	OutcomeRejected    ResumeOutcome = "rejected"
)

// ExecutionRecord captures one resume of a work item by a worker.
type ExecutionRecord struct {
	WorkID        WorkID
	Name          string
	Kind          WorkKind
	SchedulerName string
	Thread        ThreadID
	FiberID       uint64
	StartedAt     time.Time
	FinishedAt    time.Time
	Duration      time.Duration
	Outcome       ResumeOutcome
}

// SchedulerStats represents runtime observability state for a Scheduler.
type SchedulerStats struct {
	Name     string
	Threads  int
	Queued   int
	Active   int
	Idle     int
	Delayed  int
	Rejected int64
	Tickles  int64
	// Running is true between Start and the end of Stop.
	Running bool
	// Stopping is true once Stop was requested.
	Stopping bool
	// Stopped is true once the stop predicate held.
	Stopped      bool
	LastWorkName string
	LastWorkAt   time.Time
}

type executionHistory struct {
	mu    sync.Mutex
	items []ExecutionRecord
	head  int
	count int
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultHistoryCapacity
	}
	return &executionHistory{items: make([]ExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record ExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == 0 {
		return
	}

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first.
func (h *executionHistory) Recent(limit int) []ExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]ExecutionRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *executionHistory) Last() (ExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return ExecutionRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

func (h *executionHistory) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.items)
	h.head = 0
	h.count = 0
}

func resolveTaskName(task Task, explicit string) string {
	if explicit != "" {
		return explicit
	}

	if task == nil {
		return "anonymous"
	}

	v := reflect.ValueOf(task)
	if v.Kind() != reflect.Func {
		return "anonymous"
	}

	pc := v.Pointer()
	if pc == 0 {
		return "anonymous"
	}

	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "anonymous"
	}

	name := fn.Name()
	if name == "" {
		return "anonymous"
	}
	return name
}
