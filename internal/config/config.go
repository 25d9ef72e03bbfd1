package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config describes the FITSWebQL service: the HTTP shell, the half-float
// cache directory, the splatalogue catalog and the eviction windows.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cache    CacheConfig    `yaml:"cache"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Eviction EvictionConfig `yaml:"eviction"`
	Ingest   IngestConfig   `yaml:"ingest"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Mode            string `yaml:"mode"` // "local" or "server"
	Interface       string `yaml:"interface"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
	HomeDir         string `yaml:"home_dir"`
	StaticDir       string `yaml:"static_dir"`
}

// ServerMode reports whether the service runs in multi-user server mode,
// which lengthens the session eviction window.
func (s ServerConfig) ServerMode() bool { return s.Mode == "server" }

type CacheConfig struct {
	Dir string `yaml:"dir"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type EvictionConfig struct {
	SessionTimeoutSec int `yaml:"session_timeout_sec"`
	OrphanSweepSec    int `yaml:"orphan_sweep_sec"`
	DummyTimeoutSec   int `yaml:"dummy_timeout_sec"`
}

type IngestConfig struct {
	LongPollTimeoutMs int `yaml:"long_poll_timeout_ms"`
}

// =============================================================================
// Singleton with environment overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("Config: failed to load config file (using defaults)", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Mode = getEnv("FITSWEBQL_MODE", c.Server.Mode)
	c.Server.Interface = getEnv("FITSWEBQL_INTERFACE", c.Server.Interface)
	c.Server.HomeDir = getEnv("FITSWEBQL_HOME", c.Server.HomeDir)
	c.Server.StaticDir = getEnv("FITSWEBQL_HTDOCS", c.Server.StaticDir)

	c.Cache.Dir = getEnv("FITSCACHE_DIR", c.Cache.Dir)
	c.Catalog.Path = getEnv("SPLATALOGUE_PATH", c.Catalog.Path)

	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}

	if v := getEnvInt("SESSION_TIMEOUT_SEC", 0); v > 0 {
		c.Eviction.SessionTimeoutSec = v
	}
	if v := getEnvInt("ORPHAN_SWEEP_SEC", 0); v > 0 {
		c.Eviction.OrphanSweepSec = v
	}
	if v := getEnvInt("DUMMY_TIMEOUT_SEC", 0); v > 0 {
		c.Eviction.DummyTimeoutSec = v
	}
	if v := getEnvInt("LONG_POLL_TIMEOUT_MS", 0); v > 0 {
		c.Ingest.LongPollTimeoutMs = v
	}

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "local"
	}
	if c.Server.Interface == "" {
		c.Server.Interface = "localhost"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 30
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 60
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 120
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "htdocs"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = "FITSCACHE"
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = "splatalogue_v3.db"
	}
	if c.Eviction.SessionTimeoutSec == 0 {
		if c.Server.ServerMode() {
			c.Eviction.SessionTimeoutSec = 60
		} else {
			c.Eviction.SessionTimeoutSec = 10
		}
	}
	if c.Eviction.OrphanSweepSec == 0 {
		c.Eviction.OrphanSweepSec = 600
	}
	if c.Eviction.DummyTimeoutSec == 0 {
		c.Eviction.DummyTimeoutSec = 24 * 60 * 60
	}
	if c.Ingest.LongPollTimeoutMs == 0 {
		c.Ingest.LongPollTimeoutMs = 500
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
