package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Backend     BackendConfig             `json:"backend"`
	Quota       QuotaConfig               `json:"quota"`
	Generation  GenerationConfig          `json:"generation"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// BackendConfig locates the answer-generation backend.
type BackendConfig struct {
	BaseURL               string `json:"base_url"`
	APIKey                string `json:"api_key"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

type QuotaConfig struct {
	DailyLimit int `json:"daily_limit"`
}

// GenerationConfig tunes the generation lifecycle: the absolute answer
// window, the reader-side grace and stall thresholds, and the monitor's
// poll cadence. The stall threshold must stay below the window so the
// reader's orphan detection always fires before the monitor's own
// deadline would.
type GenerationConfig struct {
	WindowMinutes      int     `json:"window_minutes"`
	GraceSeconds       int     `json:"grace_seconds"`
	StallSeconds       int     `json:"stall_seconds"`
	PollIntervalMillis int     `json:"poll_interval_ms"`
	MaxPollMillis      int     `json:"max_poll_interval_ms"`
	BackoffFactor      float64 `json:"backoff_factor"`
	MonitorCapacity    int     `json:"monitor_capacity"`
	SweepSeconds       int     `json:"sweep_seconds"`
	ProgressTTLSeconds int     `json:"progress_ttl_seconds"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Relative sqlite paths are resolved against the config directory.
	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases["sqlite3"] = db
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend.RequestTimeoutSeconds <= 0 {
		c.Backend.RequestTimeoutSeconds = 30
	}
	if c.Quota.DailyLimit <= 0 {
		c.Quota.DailyLimit = 50
	}
	g := &c.Generation
	if g.WindowMinutes <= 0 {
		g.WindowMinutes = 10
	}
	if g.GraceSeconds <= 0 {
		g.GraceSeconds = 120
	}
	if g.StallSeconds <= 0 {
		g.StallSeconds = 90
	}
	if g.PollIntervalMillis <= 0 {
		g.PollIntervalMillis = 2000
	}
	if g.MaxPollMillis <= 0 {
		g.MaxPollMillis = 15000
	}
	if g.BackoffFactor <= 1 {
		g.BackoffFactor = 1.6
	}
	if g.MonitorCapacity <= 0 {
		g.MonitorCapacity = 256
	}
	if g.SweepSeconds <= 0 {
		g.SweepSeconds = 60
	}
	if g.ProgressTTLSeconds <= 0 {
		g.ProgressTTLSeconds = 3
	}
}

// Validate rejects parameter combinations that would break lifecycle
// guarantees.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must be configured")
	}
	g := c.Generation
	if time.Duration(g.StallSeconds)*time.Second >= c.Window() {
		return fmt.Errorf("generation.stall_seconds (%d) must be below the answer window (%s)", g.StallSeconds, c.Window())
	}
	if g.MaxPollMillis < g.PollIntervalMillis {
		return fmt.Errorf("generation.max_poll_interval_ms must be >= poll_interval_ms")
	}
	return nil
}

// Window is the absolute wall-clock budget of one generation.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Generation.WindowMinutes) * time.Minute
}
