package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-fiber-runner/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	queued   *prom.GaugeVec
	active   *prom.GaugeVec
	idle     *prom.GaugeVec
	delayed  *prom.GaugeVec
	threads  *prom.GaugeVec
	rejected *prom.GaugeVec
	running  *prom.GaugeVec
	stopped  *prom.GaugeVec

	stateMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: defaultNamespace,
			Name:      name,
			Help:      help,
		}, []string{"scheduler"})
	}

	p := &SnapshotPoller{
		interval:   interval,
		schedulers: make(map[string]SchedulerSnapshotProvider),
	}
	collectors := []struct {
		dst  **prom.GaugeVec
		name string
		help string
	}{
		{&p.queued, "scheduler_queued", "Work items waiting in the queue."},
		{&p.active, "scheduler_active", "Workers currently resuming a work item."},
		{&p.idle, "scheduler_idle", "Workers currently running their idle fiber."},
		{&p.delayed, "scheduler_delayed", "Work items waiting for their delay to expire."},
		{&p.threads, "scheduler_threads", "Worker count per scheduler."},
		{&p.rejected, "scheduler_rejected_total", "Scheduler rejected operation count snapshot."},
		{&p.running, "scheduler_running", "Scheduler running state (1=running, 0=not running)."},
		{&p.stopped, "scheduler_stopped", "Stop predicate state (1=fully stopped, 0=otherwise)."},
	}
	for _, c := range collectors {
		registered, err := registerCollector(reg, gauge(c.name, c.help))
		if err != nil {
			return nil, err
		}
		*c.dst = registered
	}
	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.started {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.started {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.started = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()

	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.queued.WithLabelValues(name).Set(float64(stats.Queued))
		p.active.WithLabelValues(name).Set(float64(stats.Active))
		p.idle.WithLabelValues(name).Set(float64(stats.Idle))
		p.delayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.threads.WithLabelValues(name).Set(float64(stats.Threads))
		p.rejected.WithLabelValues(name).Set(float64(stats.Rejected))
		p.running.WithLabelValues(name).Set(boolGauge(stats.Running))
		p.stopped.WithLabelValues(name).Set(boolGauge(stats.Stopped))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
