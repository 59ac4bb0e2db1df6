// Package config loads the automations service configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all service configuration
type Config struct {
	// Directory of <id>.json rule records (file backend)
	RulesDir string `yaml:"rules_dir"`

	Store StoreConfig `yaml:"store"`

	// Default record directory stamped on compiled deadline conditions
	DeadlinesDir string `yaml:"deadlines_dir"`

	// IANA zone used for schedule evaluation
	Timezone string `yaml:"timezone"`

	HTTPPort string `yaml:"http_port"`

	// robfig/cron spec for the heartbeat, e.g. "@every 5m" or "*/5 * * * *"
	TickSpec string `yaml:"tick_spec"`

	// Lifetime of the enabled-rules snapshot; "0" means invalidate-only
	CacheTTL string `yaml:"cache_ttl"`

	Scan ScanConfig `yaml:"scan"`

	LogLevel string `yaml:"log_level"`
}

// StoreConfig selects the durable backend
type StoreConfig struct {
	Backend     string `yaml:"backend"` // file, postgres, memory
	DatabaseURL string `yaml:"database_url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// ScanConfig bounds condition source scans
type ScanConfig struct {
	MaxRecords   int   `yaml:"max_records"`
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	return &Config{
		RulesDir: "~/.automations/rules",
		Store: StoreConfig{
			Backend:     BackendFile,
			AutoMigrate: true,
		},
		Timezone: "UTC",
		HTTPPort: "8080",
		TickSpec: "@every 5m",
		CacheTTL: "0",
		Scan: ScanConfig{
			MaxRecords:   1000,
			MaxFileBytes: 1 << 20,
		},
		LogLevel: "info",
	}
}

// Load reads path over the defaults. A missing file is not an error.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("AUTOMATIONS_DIR"); dir != "" {
		c.RulesDir = dir
	}
	if backend := os.Getenv("AUTOMATIONS_STORE"); backend != "" {
		c.Store.Backend = strings.ToLower(strings.TrimSpace(backend))
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Store.DatabaseURL = url
		if os.Getenv("AUTOMATIONS_STORE") == "" {
			c.Store.Backend = BackendPostgres
		}
	}
	if dir := os.Getenv("AUTOMATIONS_DEADLINES_DIR"); dir != "" {
		c.DeadlinesDir = dir
	}
	if tz := os.Getenv("AUTOMATIONS_TIMEZONE"); tz != "" {
		c.Timezone = tz
	}
	if port := os.Getenv("PORT"); port != "" {
		c.HTTPPort = port
	}
	if spec := os.Getenv("TICK_SPEC"); spec != "" {
		c.TickSpec = spec
	}
	if ttl := os.Getenv("AUTOMATIONS_CACHE_TTL"); ttl != "" {
		c.CacheTTL = ttl
	}
	if v := os.Getenv("AUTOMATIONS_SCAN_MAX_RECORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scan.MaxRecords = n
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendFile:
		if strings.TrimSpace(c.RulesDir) == "" {
			return fmt.Errorf("rules_dir is required for the file backend")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url (or DATABASE_URL) is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q (use %s, %s or %s)", c.Store.Backend, BackendFile, BackendPostgres, BackendMemory)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.TickSpec); err != nil {
		return fmt.Errorf("invalid tick_spec %q: %w", c.TickSpec, err)
	}
	if d, err := time.ParseDuration(c.CacheTTL); err != nil || d < 0 {
		return fmt.Errorf("invalid cache_ttl %q", c.CacheTTL)
	}
	if c.Scan.MaxRecords < 0 || c.Scan.MaxFileBytes < 0 {
		return fmt.Errorf("scan limits must not be negative")
	}
	return nil
}

// Location returns the evaluation time zone, UTC if it cannot be loaded
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetCacheTTL returns the cache lifetime, 0 when unset or invalid
func (c *Config) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// ExpandHome resolves a leading "~" against the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
