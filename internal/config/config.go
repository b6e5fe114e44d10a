package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/ocgui/internal/otel"
)

// RetentionConfig controls optional pruning of old runs.
type RetentionConfig struct {
	// Schedule is a 5-field cron expression. Default "0 3 * * *".
	Schedule string `yaml:"schedule"`
	// MaxAgeDays removes runs older than this many days. 0 disables pruning.
	MaxAgeDays int `yaml:"max_age_days"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	// WatchPaths are registered with the change notification bridge at startup.
	WatchPaths []string `yaml:"watch_paths"`

	// AgentBinary names the external agent executable reported by doctor.
	AgentBinary string `yaml:"agent_binary"`

	Retention RetentionConfig `yaml:"retention"`
	OTel      otel.Config     `yaml:"otel"`

	NeedsSetup bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

// saveRawConfig marshals and writes a generic map back to config.yaml.
func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// AddWatchPath appends path to watch_paths in config.yaml, preserving other
// settings. Adding a path that is already listed is a no-op.
func AddWatchPath(homeDir, path string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	existing, _ := raw["watch_paths"].([]interface{})
	for _, p := range existing {
		if s, ok := p.(string); ok && s == path {
			return nil
		}
	}
	raw["watch_paths"] = append(existing, path)
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return fmt.Errorf("create ocgui home: %w", err)
	}
	return saveRawConfig(configPath, raw)
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "db=%s|log=%s|watch=%v|agent=%s|retention=%s/%d|otel=%t",
		c.DBPath, c.LogLevel, c.WatchPaths, c.AgentBinary, c.Retention.Schedule, c.Retention.MaxAgeDays, c.OTel.Enabled)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel:    "info",
		AgentBinary: "opencode",
		Retention: RetentionConfig{
			Schedule: "0 3 * * *",
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("OCGUI_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".ocgui")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create ocgui home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsSetup = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "ocgui.db")
	} else if !filepath.IsAbs(cfg.DBPath) {
		cfg.DBPath = filepath.Join(cfg.HomeDir, cfg.DBPath)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.AgentBinary) == "" {
		cfg.AgentBinary = "opencode"
	}
	if strings.TrimSpace(cfg.Retention.Schedule) == "" {
		cfg.Retention.Schedule = "0 3 * * *"
	}

	paths := make([]string, 0, len(cfg.WatchPaths))
	for _, p := range cfg.WatchPaths {
		p = strings.TrimSpace(p)
		if p == "" || slices.Contains(paths, p) {
			continue
		}
		paths = append(paths, p)
	}
	cfg.WatchPaths = paths
}

func validate(cfg *Config) error {
	if cfg.Retention.MaxAgeDays < 0 {
		return fmt.Errorf("retention.max_age_days must be >= 0, got %d", cfg.Retention.MaxAgeDays)
	}
	if n := len(strings.Fields(cfg.Retention.Schedule)); n != 5 {
		return fmt.Errorf("retention.schedule %q must have 5 fields, got %d", cfg.Retention.Schedule, n)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("OCGUI_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("OCGUI_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("OCGUI_AGENT_BINARY"); raw != "" {
		cfg.AgentBinary = raw
	}
	if raw := os.Getenv("OCGUI_RETENTION_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Retention.MaxAgeDays = v
		}
	}
}
