package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// PanicHandler: Interface for handling fiber panics
// =============================================================================

// PanicHandler is called when a fiber body panics. The fiber has already been
// moved to FiberTerm; the scheduler only reports it.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called after a fiber panicked.
	//
	// Parameters:
	// - ctx: The scheduling context of the worker that resumed the fiber
	// - schedulerName: The name of the scheduler
	// - thread: The worker that resumed the fiber
	// - panicInfo: The panic value recovered from the fiber
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, schedulerName string, thread ThreadID, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics through the global zap logger.
type DefaultPanicHandler struct{}

// HandlePanic logs the panic value and stack.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, schedulerName string, thread ThreadID, panicInfo any, stackTrace []byte) {
	zap.L().Error("fiber panicked",
		zap.String("scheduler", schedulerName),
		zap.Stringer("thread", thread),
		zap.Any("panic", panicInfo),
		zap.ByteString("stack", stackTrace),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting scheduler metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast: they are called from worker loops.
type Metrics interface {
	// RecordResumeDuration records how long one resume of a work item took,
	// i.e. the time until the fiber yielded or terminated.
	RecordResumeDuration(schedulerName string, kind WorkKind, duration time.Duration)

	// RecordFiberPanic records that a fiber body panicked.
	RecordFiberPanic(schedulerName string, panicInfo any)

	// RecordQueueDepth records the current work queue depth.
	RecordQueueDepth(schedulerName string, depth int)

	// RecordWorkRejected records a rejected operation (submission after stop,
	// start while stopping, unrunnable fiber, ...).
	RecordWorkRejected(schedulerName string, reason string)

	// RecordTickle records one invocation of the tickle hook.
	RecordTickle(schedulerName string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordResumeDuration(schedulerName string, kind WorkKind, duration time.Duration) {
}
func (m *NilMetrics) RecordFiberPanic(schedulerName string, panicInfo any)   {}
func (m *NilMetrics) RecordQueueDepth(schedulerName string, depth int)       {}
func (m *NilMetrics) RecordWorkRejected(schedulerName string, reason string) {}
func (m *NilMetrics) RecordTickle(schedulerName string)                      {}

// =============================================================================
// RejectedHandler: Interface for handling rejected operations
// =============================================================================

// RejectedHandler is called when the scheduler refuses an operation. This can happen when:
// - Start is called on a scheduler that is already stopping
// - Work is submitted after the scheduler is fully stopped
// - Work was still queued or delayed when a never-started scheduler was stopped
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedHandler interface {
	HandleRejected(schedulerName string, reason string)
}

// DefaultRejectedHandler logs rejected operations through the global zap logger.
type DefaultRejectedHandler struct{}

// HandleRejected logs the rejection.
func (h *DefaultRejectedHandler) HandleRejected(schedulerName string, reason string) {
	zap.L().Warn("operation rejected", zap.String("scheduler", schedulerName), zap.String("reason", reason))
}

// =============================================================================
// SchedulerConfig: Configuration for Scheduler
// =============================================================================

// SchedulerConfig holds configuration options for Scheduler.
// All fields are optional; nil fields fall back to defaults.
type SchedulerConfig struct {
	// PanicHandler is called when a fiber panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics records scheduler metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedHandler is called when an operation is rejected. Defaults to DefaultRejectedHandler.
	RejectedHandler RejectedHandler

	// Logger receives scheduler debug/info/error logs. Defaults to NewDefaultLogger().
	Logger Logger

	// Idler decides how idle workers wait for work. Defaults to NewSignalIdler(DefaultIdleMaxWait).
	Idler Idler

	// HistoryCapacity bounds the execution history ring. Defaults to 100.
	HistoryCapacity int
}

// DefaultSchedulerConfig returns a config with default handlers.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PanicHandler:    &DefaultPanicHandler{},
		Metrics:         &NilMetrics{},
		RejectedHandler: &DefaultRejectedHandler{},
		HistoryCapacity: defaultHistoryCapacity,
	}
}
