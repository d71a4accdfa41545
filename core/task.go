package core

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// ThreadID: identity of a worker thread inside one Scheduler
// =============================================================================

// ThreadID identifies one worker of a Scheduler. Worker IDs are assigned at
// construction time as 0..threads-1, so affinity can be requested before Start.
type ThreadID int

// AnyThread lets any worker pick the item up.
const AnyThread ThreadID = -1

func (t ThreadID) String() string {
	if t == AnyThread {
		return "any"
	}
	return strconv.Itoa(int(t))
}

// =============================================================================
// WorkItem: a queued fiber or callable plus placement metadata
// =============================================================================

// WorkID is a unique identifier attached to every submitted item for tracing.
type WorkID uuid.UUID

// GenerateWorkID returns a fresh random WorkID.
func GenerateWorkID() WorkID {
	return WorkID(uuid.New())
}

func (id WorkID) String() string {
	return uuid.UUID(id).String()
}

// WorkKind tells whether an item carried a fiber or a plain callable.
type WorkKind string

const (
	WorkKindFiber    WorkKind = "fiber"
	WorkKindCallable WorkKind = "callable"
)

// WorkItem wraps exactly one payload. When both Fiber and Task are set the
// fiber is authoritative.
type WorkItem struct {
	ID       WorkID
	Fiber    *Fiber
	Task     Task
	Name     string
	Affinity ThreadID
}

func newFiberItem(name string, f *Fiber, affinity ThreadID) *WorkItem {
	item := &WorkItem{
		ID:       GenerateWorkID(),
		Fiber:    f,
		Name:     name,
		Affinity: affinity,
	}
	item.mustBeRunnable()
	return item
}

func newTaskItem(name string, task Task, affinity ThreadID) *WorkItem {
	item := &WorkItem{
		ID:       GenerateWorkID(),
		Task:     task,
		Name:     resolveTaskName(task, name),
		Affinity: affinity,
	}
	item.mustBeRunnable()
	return item
}

// mustBeRunnable enforces the queue invariants. Violations are programming
// errors and panic.
func (w *WorkItem) mustBeRunnable() {
	if w.Fiber == nil && w.Task == nil {
		panic(fmt.Sprintf("fiberrunner: work item %s has neither a fiber nor a callable", w.ID))
	}
	if w.Fiber != nil && !w.Fiber.State().Runnable() {
		panic(fmt.Sprintf("fiberrunner: fiber %d submitted in state %s", w.Fiber.ID(), w.Fiber.State()))
	}
}

// Kind reports which payload is authoritative.
func (w *WorkItem) Kind() WorkKind {
	if w.Fiber != nil {
		return WorkKindFiber
	}
	return WorkKindCallable
}

// reset drops payload references once the item has been run.
func (w *WorkItem) reset() {
	w.Fiber = nil
	w.Task = nil
}
