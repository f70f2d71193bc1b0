// Package config loads cbztool settings from defaults, an optional config
// file, CBZTOOL_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the settings of a conversion run.
type Config struct {
	Page     PageConfig `mapstructure:"page"`
	Strategy string     `mapstructure:"strategy"`
	TempDir  string     `mapstructure:"temp_dir"`
	Quality  int        `mapstructure:"quality"`
	Progress bool       `mapstructure:"progress"`
	Log      LogConfig  `mapstructure:"log"`
	Verbose  bool       `mapstructure:"verbose"`
}

// PageConfig is the output page rectangle in points.
type PageConfig struct {
	Width  float64 `mapstructure:"width"`
	Height float64 `mapstructure:"height"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a Viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CBZTOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults configures default values for all options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("page.width", 637.28)
	v.SetDefault("page.height", 835.7)
	v.SetDefault("strategy", "streaming")
	v.SetDefault("temp_dir", "") // os.TempDir()
	v.SetDefault("quality", 90)
	v.SetDefault("progress", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("verbose", false)
}

// ReadFile merges the TOML file at path into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Strategy = strings.ToLower(strings.TrimSpace(cfg.Strategy))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option ranges. Messages name the matching flag.
func (c *Config) Validate() error {
	if c.Page.Width <= 0 {
		return fmt.Errorf("--page-width must be positive, got %g", c.Page.Width)
	}
	if c.Page.Height <= 0 {
		return fmt.Errorf("--page-height must be positive, got %g", c.Page.Height)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("--quality must be between 1 and 100, got %d", c.Quality)
	}
	switch c.Strategy {
	case "streaming", "staged":
	default:
		return fmt.Errorf("--strategy must be streaming or staged, got %q", c.Strategy)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("--log-level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("--log-format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
