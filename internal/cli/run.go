package cli

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Swind/go-fiber-runner/core"
	"github.com/Swind/go-fiber-runner/internal/workload"
)

func newRunCmd() *cobra.Command {
	var (
		items    int
		segments int
		segment  time.Duration
		pinEvery int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic workload once and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if items < 0 || segments < 1 {
				return fmt.Errorf("--items must be >= 0 and --segments >= 1")
			}

			sched := newScheduler(&core.NilMetrics{})
			var finished atomic.Int64
			for _, spec := range workload.Generate(items, sched.ThreadCount(), segments, segment, pinEvery) {
				workload.Submit(sched, spec, func(workload.Result) { finished.Add(1) })
			}

			start := time.Now()
			sched.Start()
			sched.Stop()
			elapsed := time.Since(start)
			defer sched.Close()

			stats := sched.Stats()
			logger.Info("workload finished",
				zap.String("scheduler", stats.Name),
				zap.Int64("finished", finished.Load()),
				zap.Duration("elapsed", elapsed),
			)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scheduler: %s (%d threads)\n", stats.Name, stats.Threads)
			fmt.Fprintf(out, "finished:  %d/%d items, %d segments each\n", finished.Load(), items, segments)
			fmt.Fprintf(out, "rejected:  %d\n", stats.Rejected)
			fmt.Fprintf(out, "tickles:   %d\n", stats.Tickles)
			fmt.Fprintf(out, "elapsed:   %s\n", elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().IntVar(&items, "items", 100, "Number of work items")
	cmd.Flags().IntVar(&segments, "segments", 3, "Segments per item; items reschedule themselves between segments")
	cmd.Flags().DurationVar(&segment, "segment-duration", time.Millisecond, "Time spent in each segment")
	cmd.Flags().IntVar(&pinEvery, "pin-every", 0, "Pin every n-th item to a worker (0 disables affinity)")
	return cmd
}
