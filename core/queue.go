package core

import (
	"slices"
	"sync"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// ClaimResult is the outcome of one scan of the queue by one worker.
type ClaimResult struct {
	// Item is the claimed item, nil when nothing was eligible.
	Item *WorkItem
	// Skipped lists the threads that own items this worker had to pass over.
	Skipped []ThreadID
	// MoreRemaining is set when items are left behind the claimed one.
	MoreRemaining bool
}

// TickleNeeded reports whether other workers should be notified.
func (r ClaimResult) TickleNeeded() bool {
	return len(r.Skipped) > 0 || r.MoreRemaining
}

// =============================================================================
// WorkQueue: ordered work shared by all workers of one Scheduler
// =============================================================================

// WorkQueue keeps items in submission order. Scanning, claiming and removal
// happen in one critical section, so an item in the queue is never claimed.
//
// Once closed the queue refuses new items; this is the "fully stopped" latch.
type WorkQueue struct {
	mu     sync.Mutex
	items  []*WorkItem
	closed bool
}

func NewWorkQueue() *WorkQueue {
	return &WorkQueue{
		items: make([]*WorkItem, 0, defaultQueueCap),
	}
}

// Push appends item at the tail. It returns false if the queue is closed.
func (q *WorkQueue) Push(item *WorkItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	return true
}

// Claim scans in insertion order and removes the first item runnable on
// thread. onClaim runs under the queue lock right after the item is removed.
func (q *WorkQueue) Claim(thread ThreadID, onClaim func(*WorkItem)) ClaimResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res ClaimResult
	for i, item := range q.items {
		if item.Affinity != AnyThread && item.Affinity != thread {
			if !slices.Contains(res.Skipped, item.Affinity) {
				res.Skipped = append(res.Skipped, item.Affinity)
			}
			continue
		}

		q.removeLocked(i)
		res.Item = item
		res.MoreRemaining = i < len(q.items)
		if onClaim != nil {
			onClaim(item)
		}
		break
	}
	return res
}

func (q *WorkQueue) removeLocked(i int) {
	if i == 0 {
		q.items[0] = nil
		q.items = q.items[1:]
	} else {
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = nil
		q.items = q.items[:len(q.items)-1]
	}
	q.maybeCompactLocked()
}

func (q *WorkQueue) MaybeCompact() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maybeCompactLocked()
}

func (q *WorkQueue) maybeCompactLocked() {
	n := len(q.items)
	c := cap(q.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.items = make([]*WorkItem, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]*WorkItem, n, newCap)
	copy(newSlice, q.items)
	q.items = newSlice
}

// CloseIf closes the queue when pred holds for the current length. It
// returns true if the queue is (now) closed. pred runs under the queue lock.
func (q *WorkQueue) CloseIf(pred func(queued int) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed && pred(len(q.items)) {
		q.closed = true
	}
	return q.closed
}

func (q *WorkQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *WorkQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Drain removes and returns every queued item.
func (q *WorkQueue) Drain() []*WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]*WorkItem, 0, defaultQueueCap)
	return out
}

// Clear removes all items from the queue and releases references
func (q *WorkQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make([]*WorkItem, 0, defaultQueueCap)
}
