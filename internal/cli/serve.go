package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Swind/go-fiber-runner/internal/server"
	fiberprom "github.com/Swind/go-fiber-runner/observability/prometheus"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a scheduler behind an HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
	cmd.Flags().String("addr", ":8080", "HTTP listen address (or FIBERS_SERVER_ADDR env)")
	return cmd
}

func serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exporter, err := fiberprom.NewMetricsExporter("", reg, fiberprom.ExporterOptions{})
	if err != nil {
		return fmt.Errorf("creating metrics exporter: %w", err)
	}
	poller, err := fiberprom.NewSnapshotPoller(reg, cfg.Server.PollInterval)
	if err != nil {
		return fmt.Errorf("creating snapshot poller: %w", err)
	}

	sched := newScheduler(exporter)
	poller.AddScheduler(sched.Name(), sched)
	sched.Start()
	poller.Start(ctx)

	srv := server.NewServer(cfg.Server, sched, reg, logger)
	err = srv.Start(ctx)

	logger.Info("shutting down", zap.String("scheduler", sched.Name()))
	sched.Stop()
	poller.Stop()
	sched.Close()
	return err
}
