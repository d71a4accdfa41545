package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

// TestSignalIdler_TickleWakesWaiter verifies a tickle ends Wait early
// Given: A SignalIdler with a one-second max wait
// When: Thread 0 is tickled while waiting
// Then: Wait returns well before the timeout
func TestSignalIdler_TickleWakesWaiter(t *testing.T) {
	idler := NewSignalIdler(time.Second)
	idler.Attach([]ThreadID{0, 1})

	done := make(chan struct{})
	start := time.Now()
	go func() {
		idler.Wait(0)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	idler.Tickle(0)

	select {
	case <-done:
		if time.Since(start) > 500*time.Millisecond {
			t.Errorf("Wait took %v, want an early wake-up", time.Since(start))
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Tickle")
	}
}

// TestSignalIdler_TickleBeforeWait verifies wake-ups are not lost
// Given: A thread tickled before it starts waiting
// When: It calls Wait
// Then: Wait returns immediately
func TestSignalIdler_TickleBeforeWait(t *testing.T) {
	idler := NewSignalIdler(time.Hour)
	idler.Attach([]ThreadID{0})

	idler.Tickle(AnyThread)

	start := time.Now()
	idler.Wait(0)
	if time.Since(start) > 100*time.Millisecond {
		t.Errorf("Wait took %v after a pending tickle", time.Since(start))
	}
}

// TestSignalIdler_MaxWait verifies the bounded timeout
func TestSignalIdler_MaxWait(t *testing.T) {
	idler := NewSignalIdler(20 * time.Millisecond)
	idler.Attach([]ThreadID{0})

	start := time.Now()
	idler.Wait(0)

	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait returned after %v, want at least 20ms", elapsed)
	}
}

// TestBackoffIdler_Growth verifies waits grow and a tickle resets them
// Given: A BackoffIdler starting at 2ms and doubling up to 40ms
// When: Thread 0 waits several times without tickles, then is tickled
// Then: Later waits are not shorter than the first and the tickle ends a wait early
func TestBackoffIdler_Growth(t *testing.T) {
	idler := NewBackoffIdler(BackoffConfig{
		InitialInterval: 2 * time.Millisecond,
		MaxInterval:     40 * time.Millisecond,
		Multiplier:      2,
	})
	idler.Attach([]ThreadID{0})

	var total time.Duration
	for range 5 {
		start := time.Now()
		idler.Wait(0)
		total += time.Since(start)
	}
	// 2+4+8+16+32ms with up to 50% jitter either way
	if total < 20*time.Millisecond {
		t.Errorf("five waits took %v, want the interval to grow", total)
	}

	done := make(chan struct{})
	go func() {
		idler.Wait(0)
		close(done)
	}()
	idler.Tickle(0)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tickle did not wake the backoff idler")
	}
}

// TestNewBackoffIdler_Defaults verifies invalid settings are replaced
func TestNewBackoffIdler_Defaults(t *testing.T) {
	idler := NewBackoffIdler(BackoffConfig{})
	def := DefaultBackoffConfig()
	if idler.cfg != def {
		t.Errorf("cfg = %+v, want %+v", idler.cfg, def)
	}
}

// TestScheduler_IdlePolicies verifies every idler drives a full start/stop cycle
func TestScheduler_IdlePolicies(t *testing.T) {
	idlers := map[string]Idler{
		"signal":  NewSignalIdler(10 * time.Millisecond),
		"spin":    SpinIdler{},
		"backoff": NewBackoffIdler(DefaultBackoffConfig()),
	}
	for name, idler := range idlers {
		t.Run(name, func(t *testing.T) {
			g := NewWithT(t)
			s := NewSchedulerWithConfig(2, name, &SchedulerConfig{Logger: NewNoOpLogger(), Idler: idler})
			var ran atomic.Int32

			s.Start()
			// Workers are idle by now; late submissions must still be picked up
			time.Sleep(20 * time.Millisecond)
			for range 10 {
				s.Submit(func(ctx context.Context) { ran.Add(1) })
			}
			g.Eventually(ran.Load).WithTimeout(2 * time.Second).Should(Equal(int32(10)))

			stopped := make(chan struct{})
			go func() {
				s.Stop()
				close(stopped)
			}()
			g.Eventually(stopped).WithTimeout(2 * time.Second).Should(BeClosed())
			g.Expect(s.IsRunning()).To(BeFalse())
		})
	}
}
