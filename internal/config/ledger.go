package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// LedgerConfig tunes the expiry sweep and the transaction retry policy.
type LedgerConfig struct {
	Sweep SweepConfig `mapstructure:"sweep"`
	Retry RetryConfig `mapstructure:"retry"`
}

type SweepConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	OnRead    bool          `mapstructure:"onRead"`
	BatchSize int           `mapstructure:"batchSize"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"maxAttempts"`
	InitialInterval time.Duration `mapstructure:"initialInterval"`
	MaxInterval     time.Duration `mapstructure:"maxInterval"`
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Sweep: SweepConfig{
			Enabled:   true,
			Interval:  time.Hour,
			OnRead:    true,
			BatchSize: 200,
			Timeout:   30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     time.Second,
		},
	}
}

type LedgerConfigHolder struct {
	current atomic.Value // holds LedgerConfig
}

// NewStaticLedgerConfigHolder serves a fixed config; used by tests and tools.
func NewStaticLedgerConfigHolder(cfg LedgerConfig) *LedgerConfigHolder {
	holder := &LedgerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewLedgerConfigHolder(appCfg Config) (*LedgerConfigHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(appCfg.LedgerConfigPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ledger")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/cooptariff")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("COOPTARIFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLedgerConfig()
	v.SetDefault("ledger.sweep.enabled", defaults.Sweep.Enabled)
	v.SetDefault("ledger.sweep.interval", defaults.Sweep.Interval)
	v.SetDefault("ledger.sweep.onRead", defaults.Sweep.OnRead)
	v.SetDefault("ledger.sweep.batchSize", defaults.Sweep.BatchSize)
	v.SetDefault("ledger.sweep.timeout", defaults.Sweep.Timeout)
	v.SetDefault("ledger.retry.maxAttempts", defaults.Retry.MaxAttempts)
	v.SetDefault("ledger.retry.initialInterval", defaults.Retry.InitialInterval)
	v.SetDefault("ledger.retry.maxInterval", defaults.Retry.MaxInterval)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg LedgerConfig
	if err := v.UnmarshalKey("ledger", &cfg); err != nil {
		return nil, err
	}
	if err := validateLedgerConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticLedgerConfigHolder(cfg)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated LedgerConfig
			if err := v.UnmarshalKey("ledger", &updated); err != nil {
				log.Printf("[ledger-config] reload failed: %v", err)
				return
			}
			if err := validateLedgerConfig(updated); err != nil {
				log.Printf("[ledger-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[ledger-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *LedgerConfigHolder) Get() LedgerConfig {
	if h == nil {
		return DefaultLedgerConfig()
	}
	return h.current.Load().(LedgerConfig)
}

func validateLedgerConfig(cfg LedgerConfig) error {
	if cfg.Sweep.Interval <= 0 {
		return errors.New("ledger.sweep.interval must be positive")
	}
	if cfg.Sweep.BatchSize <= 0 {
		return errors.New("ledger.sweep.batchSize must be positive")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("ledger.retry.maxAttempts must be at least 1")
	}
	if cfg.Retry.InitialInterval < 0 || cfg.Retry.MaxInterval < 0 {
		return errors.New("ledger.retry intervals must not be negative")
	}
	return nil
}
