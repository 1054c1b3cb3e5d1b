// Package config loads shieldscan configuration from a YAML file, the
// environment (SHIELDSCAN_ prefix) and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "SHIELDSCAN"

// DefaultExtensions is the full-scan extension allowlist.
var DefaultExtensions = []string{
	".apk", ".xapk", ".apks", ".aab", ".ipa", ".jar", ".dex",
	".exe", ".dll", ".scr", ".msi", ".bat", ".ps1", ".vbs",
	".so", ".elf", ".bin", ".sh", ".js",
	".zip", ".tar", ".tgz", ".gz",
	".pdf", ".docm", ".xlsm",
}

// ScanConfig bounds full scans and the real-time monitor.
type ScanConfig struct {
	Roots            []string `mapstructure:"roots"`
	Extensions       []string `mapstructure:"extensions"`
	MaxFileSize      int64    `mapstructure:"max_file_size"`
	MaxDepth         int      `mapstructure:"max_depth"`
	RuleWindow       int      `mapstructure:"rule_window"`
	IncludeRemovable bool     `mapstructure:"include_removable"`
}

// QuarantineConfig controls the quarantine store.
type QuarantineConfig struct {
	Dir            string        `mapstructure:"dir"`
	SuppressTTL    time.Duration `mapstructure:"suppress_ttl"`
	AutoQuarantine bool          `mapstructure:"auto_quarantine"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// MetricsConfig controls the metrics endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the resolved shieldscan configuration.
type Config struct {
	Mode              ExecMode         `mapstructure:"-"`
	DataDir           string           `mapstructure:"data_dir"`
	SignatureDB       string           `mapstructure:"signature_db"`
	KeyFile           string           `mapstructure:"key_file"`
	AppsDir           string           `mapstructure:"apps_dir"`
	SelfPackageID     string           `mapstructure:"self_package_id"`
	ExcludedPaths     []string         `mapstructure:"excluded_paths"`
	TrustedPublishers []string         `mapstructure:"trusted_publishers"`
	Scan              ScanConfig       `mapstructure:"scan"`
	Quarantine        QuarantineConfig `mapstructure:"quarantine"`
	Log               LogConfig        `mapstructure:"log"`
	Metrics           MetricsConfig    `mapstructure:"metrics"`

	// ConfigFile is the file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

// Load reads configuration. cfgFile may be empty, in which case config.yaml
// is searched for in the data directory and the working directory. mode may
// be empty to detect it from the effective UID.
func Load(cfgFile string, mode ExecMode) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if mode == "" {
		mode = DetectExecMode()
	}
	defaults := defaultsFor(mode)

	v := viper.New()
	setDefaults(v, defaults)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaults.DataDir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Mode = mode
	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d modeDefaults) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("apps_dir", d.AppsDir)
	v.SetDefault("signature_db", "")
	v.SetDefault("key_file", "")
	v.SetDefault("self_package_id", "com.shieldscan.app")
	v.SetDefault("excluded_paths", []string{})
	v.SetDefault("trusted_publishers", []string{})

	v.SetDefault("scan.roots", d.ScanRoots)
	v.SetDefault("scan.extensions", DefaultExtensions)
	v.SetDefault("scan.max_file_size", int64(100<<20))
	v.SetDefault("scan.max_depth", 8)
	v.SetDefault("scan.rule_window", 1<<20)
	v.SetDefault("scan.include_removable", true)

	v.SetDefault("quarantine.dir", "")
	v.SetDefault("quarantine.suppress_ttl", 30*time.Second)
	v.SetDefault("quarantine.auto_quarantine", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("metrics.addr", "")
}

// resolve expands home-relative paths and fills paths derived from DataDir.
func (c *Config) resolve() {
	home := GetRealUserHome()
	expand := func(p string) string {
		if p == "~" {
			return home
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	c.DataDir = expand(c.DataDir)
	c.AppsDir = expand(c.AppsDir)
	if c.SignatureDB == "" {
		c.SignatureDB = filepath.Join(c.DataDir, "signatures.db")
	}
	if c.KeyFile == "" {
		c.KeyFile = filepath.Join(c.DataDir, "signatures.key")
	}
	if c.Quarantine.Dir == "" {
		c.Quarantine.Dir = filepath.Join(c.DataDir, "quarantine")
	}
	c.SignatureDB = expand(c.SignatureDB)
	c.KeyFile = expand(c.KeyFile)
	c.Quarantine.Dir = expand(c.Quarantine.Dir)

	for i, p := range c.ExcludedPaths {
		c.ExcludedPaths[i] = expand(p)
	}
	for i, p := range c.Scan.Roots {
		c.Scan.Roots[i] = expand(p)
	}
	for i, e := range c.Scan.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		c.Scan.Extensions[i] = e
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.Scan.RuleWindow <= 0 {
		return fmt.Errorf("scan.rule_window must be positive, got %d", c.Scan.RuleWindow)
	}
	if c.Scan.MaxDepth < 0 {
		return fmt.Errorf("scan.max_depth must not be negative, got %d", c.Scan.MaxDepth)
	}
	if c.Scan.MaxFileSize < 0 {
		return fmt.Errorf("scan.max_file_size must not be negative, got %d", c.Scan.MaxFileSize)
	}
	if c.Quarantine.SuppressTTL <= 0 {
		return fmt.Errorf("quarantine.suppress_ttl must be positive, got %s", c.Quarantine.SuppressTTL)
	}
	return nil
}

// LedgerPath is the quarantine ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Quarantine.Dir, "ledger.json")
}

// SelfExclusionPaths lists every path the engine owns. Files under these
// paths are never scan targets.
func (c *Config) SelfExclusionPaths() []string {
	paths := []string{c.DataDir, c.Quarantine.Dir, c.SignatureDB, c.KeyFile}
	return append(paths, c.ExcludedPaths...)
}

// ManagedDirs are the directories a restore may never write into.
func (c *Config) ManagedDirs() []string {
	return []string{c.DataDir, c.Quarantine.Dir}
}
