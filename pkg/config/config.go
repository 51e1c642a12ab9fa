// Package config loads learngraph settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvDB        = "LEARNGRAPH_DB"
	EnvLogLevel  = "LEARNGRAPH_LOG_LEVEL"
	EnvNATSURL   = "LEARNGRAPH_NATS_URL"
	EnvRedisAddr = "LEARNGRAPH_REDIS_ADDR"
	EnvTracePath = "LEARNGRAPH_TRACE_PATH"
)

// Notification backends.
const (
	BackendNone  = "none"
	BackendNATS  = "nats"
	BackendRedis = "redis"
)

// Config is the full learngraph configuration.
type Config struct {
	DBPath string `yaml:"db_path"`
	// Timezone sets the calendar-day boundary for quiz co-study.
	Timezone    string            `yaml:"timezone"`
	LogLevel    string            `yaml:"log_level"`
	Graph       GraphTuning       `yaml:"graph"`
	Fingerprint FingerprintTuning `yaml:"fingerprint"`
	Notify      NotifyConfig      `yaml:"notify"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Trace       TraceConfig       `yaml:"trace"`
}

// GraphTuning holds co-study inference and edge decay tunables.
type GraphTuning struct {
	OpenWindow       time.Duration `yaml:"open_window"`
	OpenBump         float64       `yaml:"open_bump"`
	QuizBump         float64       `yaml:"quiz_bump"`
	LensBump         float64       `yaml:"lens_bump"`
	EdgeStaleAfter   time.Duration `yaml:"edge_stale_after"`
	EdgeDecayFactor  float64       `yaml:"edge_decay_factor"`
	EdgeArchiveFloor float64       `yaml:"edge_archive_floor"`
}

type FingerprintTuning struct {
	Window           int `yaml:"window"`
	CacheSize        int `yaml:"cache_size"`
	WeakConceptLimit int `yaml:"weak_concept_limit"`
	BreakdownLimit   int `yaml:"breakdown_limit"`
}

type NotifyConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	Addr    string `yaml:"addr"`
	Prefix  string `yaml:"prefix"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TraceConfig struct {
	Path string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Timezone: "UTC",
		LogLevel: "info",
		Graph: GraphTuning{
			OpenWindow:       30 * time.Minute,
			OpenBump:         0.03,
			QuizBump:         0.02,
			LensBump:         0.2,
			EdgeStaleAfter:   30 * 24 * time.Hour,
			EdgeDecayFactor:  0.9,
			EdgeArchiveFloor: 0.08,
		},
		Fingerprint: FingerprintTuning{
			Window:           500,
			CacheSize:        256,
			WeakConceptLimit: 20,
			BreakdownLimit:   50,
		},
		Notify:  NotifyConfig{Backend: BackendNone, Prefix: "learngraph"},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDB); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.Notify.Backend = BackendNATS
		c.Notify.URL = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Notify.Backend = BackendRedis
		c.Notify.Addr = v
	}
	if v := os.Getenv(EnvTracePath); v != "" {
		c.Trace.Path = v
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	g := c.Graph
	for name, v := range map[string]float64{
		"graph.open_bump":          g.OpenBump,
		"graph.quiz_bump":          g.QuizBump,
		"graph.lens_bump":          g.LensBump,
		"graph.edge_archive_floor": g.EdgeArchiveFloor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if g.EdgeDecayFactor <= 0 || g.EdgeDecayFactor > 1 {
		return fmt.Errorf("graph.edge_decay_factor must be in (0,1], got %v", g.EdgeDecayFactor)
	}
	if g.OpenWindow < 0 || g.EdgeStaleAfter < 0 {
		return errors.New("graph durations must not be negative")
	}
	if c.Fingerprint.Window < 0 || c.Fingerprint.CacheSize < 0 {
		return errors.New("fingerprint sizes must not be negative")
	}

	switch c.Notify.Backend {
	case "", BackendNone:
	case BackendNATS:
		if c.Notify.URL == "" {
			return errors.New("notify.url is required for the nats backend")
		}
	case BackendRedis:
		if c.Notify.Addr == "" {
			return errors.New("notify.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown notify backend %q", c.Notify.Backend)
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// DefaultDBPath resolves the database file path in priority order:
// 1. LEARNGRAPH_DB environment variable
// 2. $XDG_DATA_HOME/learngraph/learngraph.db
// 3. ~/.local/share/learngraph/learngraph.db
func DefaultDBPath() (string, error) {
	if p := os.Getenv(EnvDB); p != "" {
		return p, ensureDir(p)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	p := filepath.Join(dataHome, "learngraph", "learngraph.db")
	return p, ensureDir(p)
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
