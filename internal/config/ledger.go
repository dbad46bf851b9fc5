package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// LedgerConfig holds the operational knobs of the balance ledger and plan
// engine. It is loadable from ledger.yml and hot-reloads on file change so
// plan rollouts do not require a restart.
type LedgerConfig struct {
	// DefaultPlanCode is the sentinel plan bound to freshly provisioned users.
	DefaultPlanCode string `mapstructure:"defaultPlanCode"`
	// InitialExpiryDays is the validity window of the provisioning plan.
	InitialExpiryDays int `mapstructure:"initialExpiryDays"`
	// CycleDays is the subscription cycle length in days.
	CycleDays int `mapstructure:"cycleDays"`

	RenewalInterval  time.Duration `mapstructure:"renewalInterval"`
	RenewalBatchSize int           `mapstructure:"renewalBatchSize"`

	PlanCacheTTL time.Duration `mapstructure:"planCacheTTL"`
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		DefaultPlanCode:   "0000",
		InitialExpiryDays: 365,
		CycleDays:         30,
		RenewalInterval:   time.Minute,
		RenewalBatchSize:  50,
		PlanCacheTTL:      5 * time.Minute,
	}
}

type LedgerConfigHolder struct {
	current atomic.Value // holds LedgerConfig
}

func NewLedgerConfigHolder(logger *zap.Logger) (*LedgerConfigHolder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ledger.config")

	v := viper.New()

	v.SetConfigName("ledger")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/unitledger/config")
	v.AddConfigPath("/etc/unitledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("UNITLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLedgerConfig()
	v.SetDefault("ledger.defaultPlanCode", defaults.DefaultPlanCode)
	v.SetDefault("ledger.initialExpiryDays", defaults.InitialExpiryDays)
	v.SetDefault("ledger.cycleDays", defaults.CycleDays)
	v.SetDefault("ledger.renewalInterval", defaults.RenewalInterval)
	v.SetDefault("ledger.renewalBatchSize", defaults.RenewalBatchSize)
	v.SetDefault("ledger.planCacheTTL", defaults.PlanCacheTTL)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg LedgerConfig
	if err := v.UnmarshalKey("ledger", &cfg); err != nil {
		return nil, err
	}
	if err := validateLedgerConfig(cfg); err != nil {
		return nil, err
	}

	holder := &LedgerConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated LedgerConfig
		if err := v.UnmarshalKey("ledger", &updated); err != nil {
			logger.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateLedgerConfig(updated); err != nil {
			logger.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		logger.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *LedgerConfigHolder) Get() LedgerConfig {
	return h.current.Load().(LedgerConfig)
}

// NewStaticLedgerConfigHolder wraps a fixed config, for tests and tools that
// must not watch the filesystem.
func NewStaticLedgerConfigHolder(cfg LedgerConfig) *LedgerConfigHolder {
	holder := &LedgerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateLedgerConfig(cfg LedgerConfig) error {
	if strings.TrimSpace(cfg.DefaultPlanCode) == "" {
		return errors.New("ledger.defaultPlanCode cannot be empty")
	}
	if cfg.InitialExpiryDays <= 0 {
		return errors.New("ledger.initialExpiryDays must be positive")
	}
	if cfg.CycleDays <= 0 {
		return errors.New("ledger.cycleDays must be positive")
	}
	if cfg.RenewalInterval <= 0 {
		return errors.New("ledger.renewalInterval must be positive")
	}
	if cfg.RenewalBatchSize <= 0 {
		return errors.New("ledger.renewalBatchSize must be positive")
	}
	return nil
}
