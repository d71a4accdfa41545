package core

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// =============================================================================
// Test Metrics
// =============================================================================

// recordingMetrics is a Metrics implementation that keeps every call
type recordingMetrics struct {
	mu         sync.Mutex
	durations  map[WorkKind]int
	panics     int
	depths     []int
	rejections []string
	tickles    int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{durations: make(map[WorkKind]int)}
}

func (m *recordingMetrics) RecordResumeDuration(schedulerName string, kind WorkKind, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[kind]++
}

func (m *recordingMetrics) RecordFiberPanic(schedulerName string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics++
}

func (m *recordingMetrics) RecordQueueDepth(schedulerName string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths = append(m.depths, depth)
}

func (m *recordingMetrics) RecordWorkRejected(schedulerName string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections = append(m.rejections, reason)
}

func (m *recordingMetrics) RecordTickle(schedulerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickles++
}

func (m *recordingMetrics) snapshot() (map[WorkKind]int, int, []string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	durations := make(map[WorkKind]int, len(m.durations))
	for k, v := range m.durations {
		durations[k] = v
	}
	return durations, m.panics, append([]string(nil), m.rejections...), m.tickles
}

// TestScheduler_MetricsHooks verifies every metrics hook is reached
// Given: A scheduler with a recording Metrics implementation
// When: A callable, a fiber, a panicking callable and a late submission run through it
// Then: Durations are split by kind, the panic and the rejection are counted and tickles are recorded
func TestScheduler_MetricsHooks(t *testing.T) {
	g := NewWithT(t)
	metrics := newRecordingMetrics()
	s := newTestScheduler(2, &SchedulerConfig{
		Metrics:      metrics,
		PanicHandler: &capturingPanicHandler{ch: make(chan any, 1)},
	})

	s.Submit(func(ctx context.Context) {})
	s.SubmitFiber(NewFiber(func(ctx context.Context) {}))
	s.Submit(func(ctx context.Context) { panic("boom") })

	s.Start()
	s.Stop()
	s.Submit(func(ctx context.Context) {})
	s.Close()

	durations, panics, rejections, tickles := metrics.snapshot()
	g.Expect(durations[WorkKindCallable]).To(Equal(2))
	g.Expect(durations[WorkKindFiber]).To(Equal(1))
	g.Expect(panics).To(Equal(1))
	g.Expect(rejections).To(ConsistOf("scheduler is stopped"))
	g.Expect(tickles).To(BeNumerically(">=", 3))
}

// =============================================================================
// Test default handlers
// =============================================================================

func observeGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

// TestDefaultPanicHandler verifies panics are logged through the global logger
func TestDefaultPanicHandler(t *testing.T) {
	logs := observeGlobal(t)
	handler := &DefaultPanicHandler{}

	handler.HandlePanic(context.Background(), "test-scheduler", 3, "test panic", []byte("stack trace"))

	entries := logs.FilterMessage("fiber panicked").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d panic entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["scheduler"] != "test-scheduler" {
		t.Errorf("scheduler field = %v", fields["scheduler"])
	}
	if fields["thread"] != "3" {
		t.Errorf("thread field = %v, want 3", fields["thread"])
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Errorf("level = %v, want error", entries[0].Level)
	}
}

// TestDefaultRejectedHandler verifies rejections are logged as warnings
func TestDefaultRejectedHandler(t *testing.T) {
	logs := observeGlobal(t)
	handler := &DefaultRejectedHandler{}

	handler.HandleRejected("test-scheduler", "scheduler is stopped")

	entries := logs.FilterMessage("operation rejected").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d rejection entries, want 1", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("level = %v, want warn", entries[0].Level)
	}
	if got := entries[0].ContextMap()["reason"]; got != "scheduler is stopped" {
		t.Errorf("reason field = %v", got)
	}
}

// TestNilMetrics verifies the no-op metrics accept every call
func TestNilMetrics(t *testing.T) {
	var m Metrics = &NilMetrics{}
	m.RecordResumeDuration("s", WorkKindFiber, time.Millisecond)
	m.RecordFiberPanic("s", "p")
	m.RecordQueueDepth("s", 1)
	m.RecordWorkRejected("s", "r")
	m.RecordTickle("s")
}

// TestDefaultSchedulerConfig verifies defaults are filled in
func TestDefaultSchedulerConfig(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	if cfg.PanicHandler == nil || cfg.Metrics == nil || cfg.RejectedHandler == nil {
		t.Fatalf("DefaultSchedulerConfig() left a handler nil: %+v", cfg)
	}
	if cfg.HistoryCapacity != defaultHistoryCapacity {
		t.Errorf("HistoryCapacity = %d, want %d", cfg.HistoryCapacity, defaultHistoryCapacity)
	}
}
