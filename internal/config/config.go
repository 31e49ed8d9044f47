// Package config loads service configuration from an optional YAML file,
// GLEANER_ environment variables and built-in defaults, in that order of
// precedence from last to first.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FranksOps/gleaner/internal/fingerprint"
	"github.com/FranksOps/gleaner/internal/llm"
)

// EnvPrefix prefixes every environment override, e.g. GLEANER_STORAGE_DSN.
const EnvPrefix = "GLEANER"

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Storage struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
	// MetricsPort serves /metrics on a separate listener when non-zero.
	MetricsPort     int           `mapstructure:"metrics_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Workers struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

type Pipeline struct {
	SourceDelay time.Duration `mapstructure:"source_delay"`
}

type Sweeper struct {
	Threshold time.Duration `mapstructure:"threshold"`
	Interval  time.Duration `mapstructure:"interval"`
}

type Fetch struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	Fingerprint       string        `mapstructure:"fingerprint"`
	UserAgents        []string      `mapstructure:"user_agents"`
	Proxies           []string      `mapstructure:"proxies"`
	ProxyFile         string        `mapstructure:"proxy_file"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Jitter            float64       `mapstructure:"jitter"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	// RobotsAgent is the token matched against robots.txt groups.
	RobotsAgent string `mapstructure:"robots_agent"`
}

type Search struct {
	// Tag is the source type served by the search strategy.
	Tag string `mapstructure:"tag"`
}

type Collector struct {
	// Placeholder serves unknown source types with fabricated results.
	Placeholder        bool          `mapstructure:"placeholder"`
	RegistryTTL        time.Duration `mapstructure:"registry_ttl"`
	WebsiteConcurrency int           `mapstructure:"website_concurrency"`
}

type LLM struct {
	APIKey string      `mapstructure:"api_key"`
	Models []llm.Model `mapstructure:"models"`
}

// Config is the full service configuration.
type Config struct {
	Log       Log       `mapstructure:"log"`
	Storage   Storage   `mapstructure:"storage"`
	Server    Server    `mapstructure:"server"`
	Workers   Workers   `mapstructure:"workers"`
	Pipeline  Pipeline  `mapstructure:"pipeline"`
	Sweeper   Sweeper   `mapstructure:"sweeper"`
	Fetch     Fetch     `mapstructure:"fetch"`
	Search    Search    `mapstructure:"search"`
	Collector Collector `mapstructure:"collector"`
	LLM       LLM       `mapstructure:"llm"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "gleaner.db")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_port", 0)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.queue_size", 100)

	v.SetDefault("pipeline.source_delay", time.Second)

	v.SetDefault("sweeper.threshold", 10*time.Minute)
	v.SetDefault("sweeper.interval", time.Minute)

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.fingerprint", string(fingerprint.ProfileChrome))
	v.SetDefault("fetch.user_agents", []string{})
	v.SetDefault("fetch.proxies", []string{})
	v.SetDefault("fetch.proxy_file", "")
	v.SetDefault("fetch.requests_per_second", 0.0)
	v.SetDefault("fetch.jitter", 0.0)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.robots_agent", "gleaner")

	v.SetDefault("search.tag", "baidu_search")

	v.SetDefault("collector.placeholder", false)
	v.SetDefault("collector.registry_ttl", 5*time.Second)
	v.SetDefault("collector.website_concurrency", 3)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.models", []llm.Model{})
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not sqlite or postgres", c.Storage.Driver))
	}
	if c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required"))
	}
	if c.Workers.Count <= 0 {
		errs = append(errs, fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count))
	}
	if c.Workers.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("workers.queue_size must be positive, got %d", c.Workers.QueueSize))
	}
	if c.Sweeper.Threshold <= 0 {
		errs = append(errs, errors.New("sweeper.threshold must be positive"))
	}
	if c.Search.Tag == "" {
		errs = append(errs, errors.New("search.tag is required"))
	}
	if _, err := fingerprint.ParseProfile(c.Fetch.Fingerprint); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	seen := map[string]bool{}
	for _, m := range c.LLM.Models {
		if m.ID == "" || m.ModelName == "" {
			errs = append(errs, errors.New("llm.models entries need id and model_name"))
			continue
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Errorf("llm.models: duplicate id %q", m.ID))
		}
		seen[m.ID] = true
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not debug, info, warn or error", s)
}

// NewLogger builds the root logger from the log settings.
func (c *Config) NewLogger() *slog.Logger {
	lvl, _ := ParseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: lvl}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
