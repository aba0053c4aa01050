package scheduler

import (
	"time"

	"github.com/smallbiznis/cooptariff/internal/config"
)

const (
	JobExpireServices    = "expire_services"
	JobExpireAssignments = "expire_assignments"
)

// Config controls the sweep interval, per-job timeout and the cross-replica lock.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	LockTTL     time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		JobTimeout:  30 * time.Second,
		LockTTL:     2 * time.Minute,
	}
}

// ProvideConfig derives the scheduler config from ledger.yml and SCHEDULER_JOBS.
func ProvideConfig(appCfg config.Config, holder *config.LedgerConfigHolder) Config {
	ledger := holder.Get()
	cfg := Config{
		RunInterval: ledger.Sweep.Interval,
		JobTimeout:  ledger.Sweep.Timeout,
		EnabledJobs: appCfg.SchedulerJobs,
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 4 * c.JobTimeout
	}
	return c
}
