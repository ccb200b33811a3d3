// Package config loads livequery settings from an optional YAML file and
// LIVEQUERY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coffersTech/livequery/internal/logger"
	"github.com/coffersTech/livequery/internal/server"
	"github.com/spf13/viper"
)

const EnvPrefix = "LIVEQUERY"

type Config struct {
	Listen       string        `mapstructure:"listen"`
	ObjectsFile  string        `mapstructure:"objects_file"`
	ArchiveDir   string        `mapstructure:"archive_dir"`
	LiveLog      string        `mapstructure:"live_log"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	Window       WindowConfig  `mapstructure:"window"`
	Log          logger.Config `mapstructure:"log"`
	Auth         AuthConfig    `mapstructure:"auth"`
}

type WindowConfig struct {
	SegmentEntries int           `mapstructure:"segment_entries"`
	Retention      time.Duration `mapstructure:"retention"` // 0 keeps everything
	EvictInterval  time.Duration `mapstructure:"evict_interval"`
	Preload        bool          `mapstructure:"preload"`
	// FlushOnExit writes sealed segments to ArchiveDir on shutdown.
	FlushOnExit bool `mapstructure:"flush_on_exit"`
}

type AuthConfig struct {
	Required bool            `mapstructure:"required"`
	Keys     []server.APIKey `mapstructure:"keys"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":6557")
	v.SetDefault("objects_file", "objects.yaml")
	v.SetDefault("archive_dir", "archive")
	v.SetDefault("live_log", "")
	v.SetDefault("query_timeout", 30*time.Second)
	v.SetDefault("window.segment_entries", 10000)
	v.SetDefault("window.retention", time.Duration(0))
	v.SetDefault("window.evict_interval", time.Hour)
	v.SetDefault("window.preload", false)
	v.SetDefault("window.flush_on_exit", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("auth.required", false)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply. Environment variables use the
// key path in upper case, e.g. LIVEQUERY_WINDOW_RETENTION=72h.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Window.SegmentEntries <= 0 {
		errs = append(errs, fmt.Errorf("window.segment_entries must be positive, got %d", c.Window.SegmentEntries))
	}
	if c.Window.Retention < 0 {
		errs = append(errs, fmt.Errorf("window.retention must not be negative, got %v", c.Window.Retention))
	}
	if c.Window.Retention > 0 && c.Window.EvictInterval <= 0 {
		errs = append(errs, errors.New("window.evict_interval must be positive when retention is set"))
	}
	for i, k := range c.Auth.Keys {
		if k.Hash == "" {
			errs = append(errs, fmt.Errorf("auth.keys[%d] (%s): missing hash", i, k.Name))
		}
	}
	if c.Auth.Required && len(c.Auth.Keys) == 0 {
		errs = append(errs, errors.New("auth.required is set but no auth.keys are configured"))
	}
	return errors.Join(errs...)
}
