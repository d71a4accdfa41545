package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/Swind/go-fiber-runner/core"
	"github.com/Swind/go-fiber-runner/internal/config"
)

var _ = Describe("Configuration", func() {
	Context("defaults", func() {
		It("fills every field", func() {
			cfg, err := config.NewConfigurationWithDefaults()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Scheduler.Threads).To(Equal(4))
			Expect(cfg.Scheduler.Idle).To(Equal(config.IdleSignal))
			Expect(cfg.Scheduler.IdleMaxWait).To(Equal(50 * time.Millisecond))
			Expect(cfg.Server.Addr).To(Equal(":8080"))
			Expect(cfg.Server.PollInterval).To(Equal(time.Second))
			Expect(cfg.LogLevel).To(Equal("info"))
			Expect(cfg.Validate()).To(Succeed())
		})
	})

	Context("Load", func() {
		It("returns defaults without file, env or flags", func() {
			cfg, err := config.Load("", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Scheduler.Name).To(Equal("fibersched"))
		})

		It("reads a YAML file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "fibers.yaml")
			Expect(os.WriteFile(path, []byte("scheduler:\n  threads: 7\n  idle: backoff\nserver:\n  addr: \":9090\"\n"), 0o600)).To(Succeed())

			cfg, err := config.Load(path, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Scheduler.Threads).To(Equal(7))
			Expect(cfg.Scheduler.Idle).To(Equal(config.IdleBackoff))
			Expect(cfg.Server.Addr).To(Equal(":9090"))
			Expect(cfg.Scheduler.HistoryCapacity).To(Equal(100))
		})

		It("lets the environment override the file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "fibers.yaml")
			Expect(os.WriteFile(path, []byte("scheduler:\n  threads: 7\n"), 0o600)).To(Succeed())
			GinkgoT().Setenv("FIBERS_SCHEDULER_THREADS", "3")
			GinkgoT().Setenv("FIBERS_SCHEDULER_IDLE_MAX_WAIT", "5ms")

			cfg, err := config.Load(path, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Scheduler.Threads).To(Equal(3))
			Expect(cfg.Scheduler.IdleMaxWait).To(Equal(5 * time.Millisecond))
		})

		It("lets explicitly set flags override the environment", func() {
			GinkgoT().Setenv("FIBERS_SCHEDULER_THREADS", "3")
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			fs.Int("threads", 1, "")
			fs.String("idle", "signal", "")
			Expect(fs.Parse([]string{"--threads=9"})).To(Succeed())

			cfg, err := config.Load("", fs)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Scheduler.Threads).To(Equal(9))
			Expect(cfg.Scheduler.Idle).To(Equal(config.IdleSignal))
		})

		It("fails on a missing file", func() {
			_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"), nil)
			Expect(err).To(HaveOccurred())
		})

		It("rejects invalid values", func() {
			GinkgoT().Setenv("FIBERS_SCHEDULER_THREADS", "0")
			GinkgoT().Setenv("FIBERS_SCHEDULER_IDLE", "sleepy")

			_, err := config.Load("", nil)
			Expect(err).To(MatchError(ContainSubstring("scheduler.threads")))
			Expect(err).To(MatchError(ContainSubstring("scheduler.idle")))
		})
	})

	Context("Idler", func() {
		DescribeTable("builds the selected policy",
			func(kind string, match func(core.Idler) bool) {
				s := config.Scheduler{Idle: kind, IdleMaxWait: time.Millisecond, BackoffInitial: time.Millisecond, BackoffMax: time.Second}
				Expect(match(s.Idler())).To(BeTrue())
			},
			Entry("signal", config.IdleSignal, func(i core.Idler) bool { _, ok := i.(*core.SignalIdler); return ok }),
			Entry("spin", config.IdleSpin, func(i core.Idler) bool { _, ok := i.(core.SpinIdler); return ok }),
			Entry("backoff", config.IdleBackoff, func(i core.Idler) bool { _, ok := i.(*core.BackoffIdler); return ok }),
		)
	})
})
