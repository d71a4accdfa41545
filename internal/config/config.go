package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Swind/go-fiber-runner/core"
)

// EnvPrefix prefixes every environment override, e.g. FIBERS_SCHEDULER_THREADS.
const EnvPrefix = "FIBERS"

const (
	IdleSignal  = "signal"
	IdleSpin    = "spin"
	IdleBackoff = "backoff"
)

type Configuration struct {
	Scheduler Scheduler `mapstructure:"scheduler"`
	Server    Server    `mapstructure:"server"`
	LogLevel  string    `mapstructure:"log_level" default:"info"`
	LogFormat string    `mapstructure:"log_format" default:"console"`
}

type Scheduler struct {
	Name            string        `mapstructure:"name" default:"fibersched"`
	Threads         int           `mapstructure:"threads" default:"4"`
	Idle            string        `mapstructure:"idle" default:"signal"`
	IdleMaxWait     time.Duration `mapstructure:"idle_max_wait" default:"50ms"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial" default:"1ms"`
	BackoffMax      time.Duration `mapstructure:"backoff_max" default:"100ms"`
	HistoryCapacity int           `mapstructure:"history_capacity" default:"100"`
}

type Server struct {
	Addr         string        `mapstructure:"addr" default:":8080"`
	Mode         string        `mapstructure:"mode" default:"release"`
	PollInterval time.Duration `mapstructure:"poll_interval" default:"1s"`
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"threads":    "scheduler.threads",
	"name":       "scheduler.name",
	"idle":       "scheduler.idle",
	"addr":       "server.addr",
	"log-level":  "log_level",
	"log-format": "log_format",
}

// NewConfigurationWithDefaults returns a configuration with every default applied.
func NewConfigurationWithDefaults() (*Configuration, error) {
	c := &Configuration{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	return c, nil
}

// Load builds the configuration from, in increasing precedence: struct
// defaults, the optional config file at path, FIBERS_* environment variables
// and the flags of fs that were set explicitly.
func Load(path string, fs *pflag.FlagSet) (*Configuration, error) {
	c, err := NewConfigurationWithDefaults()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v, c)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// registerDefaults makes every key known to viper so AutomaticEnv can
// override keys that appear in no config file.
func registerDefaults(v *viper.Viper, c *Configuration) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
	v.SetDefault("scheduler.name", c.Scheduler.Name)
	v.SetDefault("scheduler.threads", c.Scheduler.Threads)
	v.SetDefault("scheduler.idle", c.Scheduler.Idle)
	v.SetDefault("scheduler.idle_max_wait", c.Scheduler.IdleMaxWait)
	v.SetDefault("scheduler.backoff_initial", c.Scheduler.BackoffInitial)
	v.SetDefault("scheduler.backoff_max", c.Scheduler.BackoffMax)
	v.SetDefault("scheduler.history_capacity", c.Scheduler.HistoryCapacity)
	v.SetDefault("server.addr", c.Server.Addr)
	v.SetDefault("server.mode", c.Server.Mode)
	v.SetDefault("server.poll_interval", c.Server.PollInterval)
}

func (c *Configuration) Validate() error {
	var errs []error
	if c.Scheduler.Threads <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.threads must be positive, got %d", c.Scheduler.Threads))
	}
	switch c.Scheduler.Idle {
	case IdleSignal, IdleSpin, IdleBackoff:
	default:
		errs = append(errs, fmt.Errorf("scheduler.idle must be one of %s, %s, %s; got %q", IdleSignal, IdleSpin, IdleBackoff, c.Scheduler.Idle))
	}
	if c.Scheduler.IdleMaxWait <= 0 {
		errs = append(errs, errors.New("scheduler.idle_max_wait must be positive"))
	}
	if c.Server.Mode != "release" && c.Server.Mode != "debug" {
		errs = append(errs, fmt.Errorf("server.mode must be release or debug, got %q", c.Server.Mode))
	}
	return errors.Join(errs...)
}

// Idler builds the idle policy selected by Idle.
func (s Scheduler) Idler() core.Idler {
	switch s.Idle {
	case IdleSpin:
		return core.SpinIdler{}
	case IdleBackoff:
		return core.NewBackoffIdler(core.BackoffConfig{
			InitialInterval: s.BackoffInitial,
			MaxInterval:     s.BackoffMax,
			Multiplier:      2,
		})
	default:
		return core.NewSignalIdler(s.IdleMaxWait)
	}
}
