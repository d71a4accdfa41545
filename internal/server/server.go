// Package server exposes a running scheduler over HTTP: health, stats,
// recent executions, synthetic work submission and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Swind/go-fiber-runner/core"
	"github.com/Swind/go-fiber-runner/internal/config"
	"github.com/Swind/go-fiber-runner/internal/workload"
)

const (
	defaultExecutionLimit = 20
	maxExecutionLimit     = 500
)

type Server struct {
	cfg    config.Server
	sched  *core.Scheduler
	logger *zap.Logger
	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the router. gatherer backs /metrics; nil means the
// default Prometheus registry.
func NewServer(cfg config.Server, sched *core.Scheduler, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg.Mode == gin.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	httpLogger := logger.Named("http")
	engine := gin.New()
	engine.Use(ginzap.Ginzap(httpLogger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(httpLogger, true))

	s := &Server{cfg: cfg, sched: sched, logger: logger, engine: engine}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	engine.GET("/healthz", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := engine.Group("/api/v1")
	v1.GET("/stats", s.stats)
	v1.GET("/executions", s.executions)
	v1.POST("/work", s.submitWork)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until ctx is done, Stop is called or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Stop(shutdownCtx); err != nil {
				s.logger.Warn("http shutdown failed", zap.Error(err))
			}
		case <-stopped:
		}
	}()

	s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	stats := s.sched.Stats()
	if stats.Stopping {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopping"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statsResponse struct {
	Name         string    `json:"name"`
	Threads      int       `json:"threads"`
	Queued       int       `json:"queued"`
	Active       int       `json:"active"`
	Idle         int       `json:"idle"`
	Delayed      int       `json:"delayed"`
	Rejected     int64     `json:"rejected"`
	Tickles      int64     `json:"tickles"`
	Running      bool      `json:"running"`
	Stopping     bool      `json:"stopping"`
	Stopped      bool      `json:"stopped"`
	LastWorkName string    `json:"last_work_name,omitempty"`
	LastWorkAt   time.Time `json:"last_work_at,omitzero"`
}

func (s *Server) stats(c *gin.Context) {
	st := s.sched.Stats()
	c.JSON(http.StatusOK, statsResponse{
		Name:         st.Name,
		Threads:      st.Threads,
		Queued:       st.Queued,
		Active:       st.Active,
		Idle:         st.Idle,
		Delayed:      st.Delayed,
		Rejected:     st.Rejected,
		Tickles:      st.Tickles,
		Running:      st.Running,
		Stopping:     st.Stopping,
		Stopped:      st.Stopped,
		LastWorkName: st.LastWorkName,
		LastWorkAt:   st.LastWorkAt,
	})
}

type executionResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Thread     string  `json:"thread"`
	Outcome    string  `json:"outcome"`
	DurationMs float64 `json:"duration_ms"`
}

func (s *Server) executions(c *gin.Context) {
	limit := defaultExecutionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxExecutionLimit)
	}

	records := s.sched.RecentExecutions(limit)
	out := make([]executionResponse, 0, len(records))
	for _, r := range records {
		out = append(out, executionResponse{
			ID:         r.WorkID.String(),
			Name:       r.Name,
			Kind:       string(r.Kind),
			Thread:     r.Thread.String(),
			Outcome:    string(r.Outcome),
			DurationMs: float64(r.Duration) / float64(time.Millisecond),
		})
	}
	c.JSON(http.StatusOK, out)
}

type workRequest struct {
	Name      string `json:"name"`
	Count     int    `json:"count"`
	Segments  int    `json:"segments"`
	SegmentMs int    `json:"segment_ms"`
	Affinity  *int   `json:"affinity"`
	DelayMs   int    `json:"delay_ms"`
}

func (s *Server) submitWork(c *gin.Context) {
	var req workRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.sched.StopRequested() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler is stopping"})
		return
	}

	count := max(req.Count, 1)
	affinity := core.AnyThread
	if req.Affinity != nil {
		if *req.Affinity < 0 || *req.Affinity >= s.sched.ThreadCount() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "affinity must name a worker between 0 and " + strconv.Itoa(s.sched.ThreadCount()-1)})
			return
		}
		affinity = core.ThreadID(*req.Affinity)
	}
	name := req.Name
	if name == "" {
		name = "http-work"
	}

	for i := range count {
		spec := workload.Spec{
			Name:            name + "-" + strconv.Itoa(i),
			Segments:        req.Segments,
			SegmentDuration: time.Duration(req.SegmentMs) * time.Millisecond,
			Affinity:        affinity,
		}
		if req.DelayMs > 0 {
			s.sched.SubmitAfter(workload.Task(spec, nil), time.Duration(req.DelayMs)*time.Millisecond, affinity)
			continue
		}
		workload.Submit(s.sched, spec, nil)
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": count})
}
