package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// CachePolicy bounds the store.
type CachePolicy struct {
	Capacity int           `yaml:"capacity"` // max keys, 0 = unbounded
	MaxIdle  time.Duration `yaml:"max_idle"` // idle time before a key may be evicted
}

// SweepPolicy controls the background sweeper.
type SweepPolicy struct {
	Interval time.Duration `yaml:"interval"`
}

// HTTPPolicy controls the API server.
type HTTPPolicy struct {
	RateLimit       int           `yaml:"rate_limit"` // requests per minute per IP, 0 = off
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogPolicy controls logging.
type LogPolicy struct {
	Level      string `yaml:"level"`
	BufferSize int    `yaml:"buffer_size"` // recent entries kept for /admin/logs
}

type Config struct {
	ListenAddr string      `yaml:"listen_addr"`
	Cache      CachePolicy `yaml:"cache"`
	Sweep      SweepPolicy `yaml:"sweep"`
	HTTP       HTTPPolicy  `yaml:"http"`
	Logs       LogPolicy   `yaml:"logs"`
}

func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Cache: CachePolicy{
			Capacity: 10000,
			MaxIdle:  10 * time.Minute,
		},
		Sweep: SweepPolicy{
			Interval: 5 * time.Second,
		},
		HTTP: HTTPPolicy{
			RateLimit:       0,
			ShutdownTimeout: 10 * time.Second,
		},
		Logs: LogPolicy{
			Level:      "info",
			BufferSize: 1000,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if path is non-empty), then IDLECACHE_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 -- path is provided by the operator via flag
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode parses YAML strictly on top of the values already in cfg.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	if v, ok := lookup("IDLECACHE_LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := lookup("IDLECACHE_LOG_LEVEL"); ok && v != "" {
		cfg.Logs.Level = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"IDLECACHE_CAPACITY", &cfg.Cache.Capacity},
		{"IDLECACHE_RATE_LIMIT", &cfg.HTTP.RateLimit},
		{"IDLECACHE_LOG_BUFFER_SIZE", &cfg.Logs.BufferSize},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, e.key, v, err)
		}
		*e.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"IDLECACHE_MAX_IDLE", &cfg.Cache.MaxIdle},
		{"IDLECACHE_SWEEP_INTERVAL", &cfg.Sweep.Interval},
		{"IDLECACHE_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
	}
	for _, e := range durations {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, e.key, v, err)
		}
		*e.dst = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("%w: listen_addr must be set", ErrInvalidConfig)
	case c.Cache.Capacity < 0:
		return fmt.Errorf("%w: cache.capacity must not be negative", ErrInvalidConfig)
	case c.Cache.MaxIdle < 0:
		return fmt.Errorf("%w: cache.max_idle must not be negative", ErrInvalidConfig)
	case c.Sweep.Interval <= 0:
		return fmt.Errorf("%w: sweep.interval must be positive", ErrInvalidConfig)
	case c.HTTP.RateLimit < 0:
		return fmt.Errorf("%w: http.rate_limit must not be negative", ErrInvalidConfig)
	case c.HTTP.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: http.shutdown_timeout must be positive", ErrInvalidConfig)
	case c.Logs.BufferSize <= 0:
		return fmt.Errorf("%w: logs.buffer_size must be positive", ErrInvalidConfig)
	}
	return nil
}
