package core

import (
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultIdleMaxWait bounds how long a SignalIdler sleeps without a tickle
// before the idle fiber re-checks the stop predicate.
const DefaultIdleMaxWait = 50 * time.Millisecond

// Idler is the idle policy of a Scheduler and the target of its tickle hook.
//
// Wait runs inside a worker's idle fiber between two checks of the stop
// predicate; it may block. Tickle wakes the given worker, or every worker for
// AnyThread. A tickle that arrives before Wait must not be lost.
type Idler interface {
	Attach(threads []ThreadID)
	Wait(thread ThreadID)
	Tickle(thread ThreadID)
}

// =============================================================================
// SignalIdler: park on a per-worker wake channel
// =============================================================================

// SignalIdler parks idle workers on a one-slot wake channel per worker. A
// bounded timeout covers tickles that were absorbed by a busy worker.
type SignalIdler struct {
	maxWait time.Duration

	mu    sync.RWMutex
	wakes map[ThreadID]chan struct{}
}

func NewSignalIdler(maxWait time.Duration) *SignalIdler {
	if maxWait <= 0 {
		maxWait = DefaultIdleMaxWait
	}
	return &SignalIdler{maxWait: maxWait, wakes: make(map[ThreadID]chan struct{})}
}

func (i *SignalIdler) Attach(threads []ThreadID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, t := range threads {
		if _, ok := i.wakes[t]; !ok {
			i.wakes[t] = make(chan struct{}, 1)
		}
	}
}

func (i *SignalIdler) Wait(thread ThreadID) {
	i.mu.RLock()
	wake := i.wakes[thread]
	i.mu.RUnlock()

	timer := time.NewTimer(i.maxWait)
	defer timer.Stop()
	select {
	case <-wake:
	case <-timer.C:
	}
}

func (i *SignalIdler) Tickle(thread ThreadID) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if thread != AnyThread {
		notify(i.wakes[thread])
		return
	}
	for _, wake := range i.wakes {
		notify(wake)
	}
}

func notify(wake chan struct{}) {
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
		// A wake-up is already pending
	}
}

// =============================================================================
// SpinIdler: cooperative busy-wait
// =============================================================================

// SpinIdler never blocks: the idle fiber yields straight back to the worker,
// which rescans the queue. Correct but burns a CPU per idle worker.
type SpinIdler struct{}

func (SpinIdler) Attach(threads []ThreadID) {}
func (SpinIdler) Wait(thread ThreadID)      { runtime.Gosched() }
func (SpinIdler) Tickle(thread ThreadID)    {}

// =============================================================================
// BackoffIdler: exponential sleeps between checks, cut short by tickles
// =============================================================================

// BackoffConfig tunes BackoffIdler.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      2,
	}
}

// BackoffIdler sleeps for exponentially growing intervals while nothing
// happens. A tickle wakes the worker and resets its interval.
type BackoffIdler struct {
	cfg BackoffConfig

	mu     sync.RWMutex
	states map[ThreadID]*backoffState
}

type backoffState struct {
	wake chan struct{}
	// policy is only used by the owning worker's idle fiber.
	policy *backoff.ExponentialBackOff
}

func NewBackoffIdler(cfg BackoffConfig) *BackoffIdler {
	def := DefaultBackoffConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = max(def.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	return &BackoffIdler{cfg: cfg, states: make(map[ThreadID]*backoffState)}
}

func (i *BackoffIdler) Attach(threads []ThreadID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, t := range threads {
		if _, ok := i.states[t]; ok {
			continue
		}
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = i.cfg.InitialInterval
		policy.MaxInterval = i.cfg.MaxInterval
		policy.Multiplier = i.cfg.Multiplier
		policy.Reset()
		i.states[t] = &backoffState{wake: make(chan struct{}, 1), policy: policy}
	}
}

func (i *BackoffIdler) Wait(thread ThreadID) {
	i.mu.RLock()
	st := i.states[thread]
	i.mu.RUnlock()
	if st == nil {
		time.Sleep(i.cfg.InitialInterval)
		return
	}

	d := st.policy.NextBackOff()
	if d == backoff.Stop {
		d = i.cfg.MaxInterval
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-st.wake:
		st.policy.Reset()
	case <-timer.C:
	}
}

func (i *BackoffIdler) Tickle(thread ThreadID) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if thread != AnyThread {
		if st := i.states[thread]; st != nil {
			notify(st.wake)
		}
		return
	}
	for _, st := range i.states {
		notify(st.wake)
	}
}
