// Package config loads the kvd configuration: defaults, then a YAML file
// overlay, then struct validation.
package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/IJSK10/fastkv/internal/logging"
	"github.com/IJSK10/fastkv/policy"
	"github.com/IJSK10/fastkv/policy/lru"
	"github.com/IJSK10/fastkv/policy/twoq"
	"github.com/IJSK10/fastkv/store"
)

type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Server      ServerConfig      `yaml:"server"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Logger      logging.Config    `yaml:"logger"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type StoreConfig struct {
	Capacity       int           `yaml:"capacity" validate:"gt=0"`
	Buckets        int           `yaml:"buckets" validate:"gte=0"`
	MinBuckets     int           `yaml:"min_buckets" validate:"gte=0"`
	MaxBuckets     int           `yaml:"max_buckets" validate:"gte=0"`
	GrowAt         float64       `yaml:"grow_at" validate:"gte=0,lte=8"`
	ShrinkAt       float64       `yaml:"shrink_at" validate:"gte=0,lt=1"`
	Workers        int           `yaml:"workers" validate:"gte=0"`
	QueueSize      int           `yaml:"queue_size" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`
	SweepInterval  time.Duration `yaml:"sweep_interval" validate:"gte=0"`
	MaxExpiryWait  time.Duration `yaml:"max_expiry_wait" validate:"gte=0"`
	EvictionPolicy string        `yaml:"eviction_policy" validate:"oneof=lru 2q"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"gt=0,lte=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	MaxBodySize  int           `yaml:"max_body_size" validate:"gte=0"`
}

// Addr returns host:port for listening.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
	// Schedule is a cron expression or descriptor; empty disables periodic
	// snapshots (the store is still loaded on start and saved on exit).
	Schedule string `yaml:"schedule"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// Defaults returns the configuration used when no file overrides it.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Capacity:       100_000,
			Buckets:        store.DefaultBuckets,
			MinBuckets:     store.DefaultMinBuckets,
			MaxBuckets:     store.DefaultMaxBuckets,
			GrowAt:         store.DefaultGrowAt,
			ShrinkAt:       store.DefaultShrinkAt,
			RequestTimeout: store.DefaultRequestTimeout,
			SweepInterval:  store.DefaultSweepInterval,
			MaxExpiryWait:  time.Second,
			EvictionPolicy: "lru",
		},
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodySize:  4 << 20,
		},
		Persistence: PersistenceConfig{
			Enabled:  true,
			Path:     "data.json",
			Schedule: "@every 30s",
		},
		Logger: logging.Config{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "fastkv",
			Subsystem: "store",
		},
	}
}

// Load returns Defaults overlaid with the YAML file at path. Environment
// references such as ${DATA_DIR} in the file are expanded first. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "config: read")
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, errors.Wrap(err, "config: parse YAML")
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return errors.Wrap(err, "config: validation failed")
	}
	if cfg.Store.MaxBuckets > 0 && cfg.Store.MinBuckets > cfg.Store.MaxBuckets {
		return errors.New("config: validation failed: store.min_buckets exceeds store.max_buckets")
	}
	return nil
}

// Policy returns the tracker factory named by EvictionPolicy.
func (c StoreConfig) Policy() policy.Policy {
	if c.EvictionPolicy == "2q" {
		return twoq.New(0, 0)
	}
	return lru.New()
}

// Options maps the section onto store.Options. Logger, Metrics and Clock
// are left for the caller.
func (c StoreConfig) Options() store.Options {
	return store.Options{
		Capacity:       c.Capacity,
		Buckets:        c.Buckets,
		MinBuckets:     c.MinBuckets,
		MaxBuckets:     c.MaxBuckets,
		GrowAt:         c.GrowAt,
		ShrinkAt:       c.ShrinkAt,
		Workers:        c.Workers,
		QueueSize:      c.QueueSize,
		RequestTimeout: c.RequestTimeout,
		SweepInterval:  c.SweepInterval,
		MaxExpiryWait:  c.MaxExpiryWait,
		Policy:         c.Policy(),
	}
}
