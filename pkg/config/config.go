// Package config loads scheduler settings from files and the environment.
//
// Settings are read with viper: a YAML, TOML or JSON file (optional) layered
// under EXECFLOW_* environment variables, with nested keys joined by an
// underscore (EXECFLOW_CACHE_TTL, EXECFLOW_LOG_LEVEL). Build turns them into
// an executor.Config together with the logger, worker pool and Redis store
// they describe.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vnykmshr/execflow/pkg/cache"
	gferrors "github.com/vnykmshr/execflow/pkg/common/errors"
	"github.com/vnykmshr/execflow/pkg/common/validation"
	"github.com/vnykmshr/execflow/pkg/executor"
	"github.com/vnykmshr/execflow/pkg/logging"
	"github.com/vnykmshr/execflow/pkg/metrics"
	"github.com/vnykmshr/execflow/pkg/policy"
	"github.com/vnykmshr/execflow/pkg/workerpool"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EXECFLOW"

// Settings are the static parts of a scheduler configuration.
type Settings struct {
	Name          string         `mapstructure:"name"`
	Mode          string         `mapstructure:"mode"`
	Policy        string         `mapstructure:"policy"`
	MergeCapacity int            `mapstructure:"merge_capacity"`
	Detailed      bool           `mapstructure:"detailed"`
	Cache         CacheSettings  `mapstructure:"cache"`
	Workers       int            `mapstructure:"workers"` // 0 runs each invocation on its own goroutine
	Log           logging.Config `mapstructure:"log"`
}

// CacheSettings configure result caching.
type CacheSettings struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Sweep   string        `mapstructure:"sweep"` // cron schedule, memory store only
	Redis   RedisSettings `mapstructure:"redis"`
}

// RedisSettings select a shared Redis store. An empty Addr keeps results in memory.
type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SetDefaults registers the default value of every key. Keys without a
// default are not picked up from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("name", "default")
	v.SetDefault("mode", policy.Sequential.String())
	v.SetDefault("policy", policy.Switch.String())
	v.SetDefault("merge_capacity", 1)
	v.SetDefault("detailed", false)
	v.SetDefault("workers", 0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttl", time.Duration(0))
	v.SetDefault("cache.sweep", "")
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "execflow")

	defaults := logging.DefaultConfig()
	v.SetDefault("log.level", defaults.Level)
	v.SetDefault("log.development", defaults.Development)
	v.SetDefault("log.encoding", defaults.Encoding)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads settings from path, when non-empty, and the environment.
func Load(path string) (*Settings, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, gferrors.NewOperationError("config", "Load", err).WithContext(path)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates settings held by v.
func FromViper(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, gferrors.NewOperationError("config", "Unmarshal", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every field without building anything.
func (s *Settings) Validate() error {
	if _, err := policy.ParseMode(s.Mode); err != nil {
		return err
	}
	if _, err := policy.ParsePolicy(s.Policy); err != nil {
		return err
	}
	if err := validation.ValidatePositive("config", "merge_capacity", s.MergeCapacity); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("config", "workers", s.Workers); err != nil {
		return err
	}
	if err := validation.ValidateDuration("config", "cache.ttl", s.Cache.TTL); err != nil {
		return err
	}
	if s.Cache.Sweep != "" && s.Cache.Redis.Addr != "" {
		return gferrors.NewValidationError("config", "cache.sweep", s.Cache.Sweep, "redis expires entries itself").
			WithHint("drop cache.sweep or cache.redis.addr")
	}
	return validation.ValidateOneOf("config", "log.encoding", s.Log.Encoding, "json", "console")
}

// Apply copies the scalar settings onto cfg.
func Apply[P, D any](s *Settings, cfg *executor.Config[P, D]) error {
	mode, err := policy.ParseMode(s.Mode)
	if err != nil {
		return err
	}
	p, err := policy.ParsePolicy(s.Policy)
	if err != nil {
		return err
	}

	cfg.Name = s.Name
	cfg.Mode = mode
	cfg.Policy = p
	cfg.MergeCapacity = s.MergeCapacity
	cfg.Detailed = s.Detailed
	cfg.Cache = s.Cache.Enabled
	cfg.CacheTTL = s.Cache.TTL
	cfg.CacheSweep = s.Cache.Sweep
	return nil
}

// Build applies s to cfg and creates the resources it names: a logger when
// cfg has none, a worker pool when Workers is positive and a Redis store when
// caching is on with a Redis address. release frees them once the scheduler
// is closed.
func Build[P, D any](s *Settings, cfg *executor.Config[P, D], m *metrics.Registry) (release func() error, err error) {
	if err := Apply(s, cfg); err != nil {
		return nil, err
	}

	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = cleanup()
		}
	}()

	if cfg.Logger == nil {
		logger, err := logging.New(s.Log)
		if err != nil {
			return nil, err
		}
		cfg.Logger = logger
		closers = append(closers, func() error {
			_ = logger.Sync() // stderr cannot always be synced
			return nil
		})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = m
	}

	if s.Workers > 0 {
		pool, err := workerpool.NewSafe(workerpool.Config{
			WorkerCount: s.Workers,
			Name:        s.Name,
			Logger:      cfg.Logger,
			Metrics:     cfg.Metrics,
		})
		if err != nil {
			return nil, err
		}
		cfg.Pool = pool
		closers = append(closers, func() error {
			<-pool.Shutdown()
			return nil
		})
	}

	if s.Cache.Enabled && s.Cache.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     s.Cache.Redis.Addr,
			Password: s.Cache.Redis.Password,
			DB:       s.Cache.Redis.DB,
		})
		closers = append(closers, rdb.Close)

		store, err := cache.NewRedisStore[D](cache.RedisConfig{
			Redis:  rdb,
			Prefix: fmt.Sprintf("%s:%s", s.Cache.Redis.Prefix, s.Name),
			TTL:    s.Cache.TTL,
		}, nil)
		if err != nil {
			return nil, err
		}
		cfg.CacheStore = store
		cfg.Logger.Debug("using redis cache store",
			zap.String("addr", s.Cache.Redis.Addr),
			zap.String(logging.FieldScheduler, s.Name))
	}

	return cleanup, nil
}
