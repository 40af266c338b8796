package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/hookline"
)

// Config is the service configuration, read from an optional YAML file and
// HOOKLINE_* environment variables (HOOKLINE_DELIVERY_MAX_ATTEMPTS and so on).
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Log      LogConfig      `mapstructure:"log"`
	API      APIConfig      `mapstructure:"api"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend. Driver is "memory" or "redis".
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	RedisURL string `mapstructure:"redis_url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type APIConfig struct {
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type DeliveryConfig struct {
	WorkerID         string        `mapstructure:"worker_id"`
	Concurrency      int           `mapstructure:"concurrency"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	ClaimTTL         time.Duration `mapstructure:"claim_ttl"`
	RateLimit        int           `mapstructure:"rate_limit"`
	RateWindow       time.Duration `mapstructure:"rate_window"`
	SkipInactive     bool          `mapstructure:"skip_inactive"`
	StrictEventTypes bool          `mapstructure:"strict_event_types"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
}

// LoadConfig reads the configuration. An empty file searches ./hookline.yaml
// and ./config/hookline.yaml and tolerates neither existing.
func LoadConfig(v *viper.Viper, file string) (Config, error) {
	var cfg Config

	v.SetConfigType("yaml")
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.SetConfigName("hookline")
	}

	v.SetEnvPrefix("HOOKLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("error loading configuration: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshaling configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Delivery.ClaimTTL <= c.Delivery.RequestTimeout {
		return fmt.Errorf("delivery.claim_ttl %s must exceed delivery.request_timeout %s",
			c.Delivery.ClaimTTL, c.Delivery.RequestTimeout)
	}
	return nil
}

// HooklineConfig translates the delivery section into the library config.
func (c Config) HooklineConfig() hookline.Config {
	d := c.Delivery
	return hookline.Config{
		WorkerID:           d.WorkerID,
		Concurrency:        d.Concurrency,
		PollInterval:       d.PollInterval,
		BatchSize:          d.BatchSize,
		RequestTimeout:     d.RequestTimeout,
		MaxAttempts:        d.MaxAttempts,
		BackoffBase:        d.BackoffBase,
		BackoffMax:         d.BackoffMax,
		ClaimTTL:           d.ClaimTTL,
		OutboundRateLimit:  d.RateLimit,
		OutboundRateWindow: d.RateWindow,
		SkipInactive:       d.SkipInactive,
		StrictEventTypes:   d.StrictEventTypes,
		ShutdownTimeout:    d.ShutdownTimeout,
		CacheTTL:           d.CacheTTL,
	}
}

// ToOptions returns the library options for this configuration.
func (c Config) ToOptions() []hookline.Option {
	return []hookline.Option{hookline.WithConfig(c.HooklineConfig())}
}

func setDefaults(v *viper.Viper) {
	def := hookline.DefaultConfig()

	// Server
	v.SetDefault("server.address", "0.0.0.0:8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Store
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.redis_url", "")

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// API
	v.SetDefault("api.rate_limit", 120)
	v.SetDefault("api.rate_window", "1m")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Delivery
	v.SetDefault("delivery.worker_id", "")
	v.SetDefault("delivery.concurrency", def.Concurrency)
	v.SetDefault("delivery.poll_interval", def.PollInterval)
	v.SetDefault("delivery.batch_size", def.BatchSize)
	v.SetDefault("delivery.request_timeout", def.RequestTimeout)
	v.SetDefault("delivery.max_attempts", def.MaxAttempts)
	v.SetDefault("delivery.backoff_base", def.BackoffBase)
	v.SetDefault("delivery.backoff_max", def.BackoffMax)
	v.SetDefault("delivery.claim_ttl", def.ClaimTTL)
	v.SetDefault("delivery.rate_limit", def.OutboundRateLimit)
	v.SetDefault("delivery.rate_window", def.OutboundRateWindow)
	v.SetDefault("delivery.skip_inactive", def.SkipInactive)
	v.SetDefault("delivery.strict_event_types", def.StrictEventTypes)
	v.SetDefault("delivery.shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("delivery.cache_ttl", def.CacheTTL)
}
