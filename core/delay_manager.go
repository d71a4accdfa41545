package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DelayedWork represents a work item scheduled for the future
type DelayedWork struct {
	RunAt time.Time
	Item  *WorkItem
	index int // for heap interface
}

// DelayedWorkHeap implements heap.Interface
type DelayedWorkHeap []*DelayedWork

func (h DelayedWorkHeap) Len() int           { return len(h) }
func (h DelayedWorkHeap) Less(i, j int) bool { return h[i].RunAt.Before(h[j].RunAt) }
func (h DelayedWorkHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *DelayedWorkHeap) Push(x any) {
	n := len(*h)
	item := x.(*DelayedWork)
	item.index = n
	*h = append(*h, item)
}

func (h *DelayedWorkHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *DelayedWorkHeap) Peek() *DelayedWork {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager holds work items until their run time and then hands them to
// submit from its own goroutine.
type DelayManager struct {
	pq      DelayedWorkHeap
	mu      sync.Mutex
	stopped bool
	wakeup  chan struct{}
	submit  func(*WorkItem)
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewDelayManager(submit func(*WorkItem)) *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		pq:     make(DelayedWorkHeap, 0),
		wakeup: make(chan struct{}, 1),
		submit: submit,
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// Add schedules item to be submitted after delay. It returns false once the
// manager is stopped.
func (dm *DelayManager) Add(item *WorkItem, delay time.Duration) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.stopped {
		return false
	}

	dw := &DelayedWork{
		RunAt: time.Now().Add(delay),
		Item:  item,
	}
	heap.Push(&dm.pq, dw)

	if dw.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
	return true
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		// Calculate next run time
		nextRun := dm.calculateNextRun()
		if nextRun < 0 {
			// Nothing pending, wait for Add
			nextRun = 1000 * time.Hour
		}

		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.processExpired()
		case <-dm.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// calculateNextRun returns how long to wait for the earliest item, 0 if it is
// already due and -1 if nothing is pending.
func (dm *DelayManager) calculateNextRun() time.Duration {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return -1
	}

	d := time.Until(item.RunAt)
	if d < 0 {
		return 0
	}
	return d
}

func (dm *DelayManager) processExpired() {
	dm.mu.Lock()

	now := time.Now()
	// Collect all expired items to avoid holding lock while submitting
	var expired []*DelayedWork

	for dm.pq.Len() > 0 {
		dw := dm.pq.Peek()
		if dw.RunAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, dw)
	}

	dm.mu.Unlock()

	for _, dw := range expired {
		dm.submit(dw.Item)
	}
}

// Stop halts the timer goroutine and returns the items that never fired.
func (dm *DelayManager) Stop() []*WorkItem {
	dm.cancel()

	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.stopped = true

	dropped := make([]*WorkItem, 0, len(dm.pq))
	for _, dw := range dm.pq {
		dropped = append(dropped, dw.Item)
	}
	dm.pq = make(DelayedWorkHeap, 0)
	heap.Init(&dm.pq)
	return dropped
}

func (dm *DelayManager) Count() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
