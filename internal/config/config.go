// Package config loads codegraph settings from defaults, an optional YAML
// file, .env files and CODEGRAPH_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CODEGRAPH"

// Config is the complete runtime configuration.
type Config struct {
	Home        string `mapstructure:"home" validate:"required"`
	StorePath   string `mapstructure:"store_path" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat   string `mapstructure:"log_format" validate:"oneof=json text"`
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	Builder BuilderConfig `mapstructure:"builder"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	Finder  FinderConfig  `mapstructure:"finder"`
}

type BuilderConfig struct {
	Concurrency   int      `mapstructure:"concurrency" validate:"min=1,max=64"`
	MaxFileSize   int64    `mapstructure:"max_file_size" validate:"min=0"`
	Excludes      []string `mapstructure:"excludes"`
	FullReResolve bool     `mapstructure:"full_reresolve"`
}

type JobsConfig struct {
	Workers         int           `mapstructure:"workers" validate:"min=1,max=32"`
	QueueSize       int           `mapstructure:"queue_size" validate:"min=1"`
	Retention       time.Duration `mapstructure:"retention" validate:"min=1m"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval" validate:"min=0"`
}

type WatcherConfig struct {
	Debounce time.Duration `mapstructure:"debounce" validate:"min=10ms,max=1m"`
}

type FinderConfig struct {
	CacheSize int `mapstructure:"cache_size" validate:"min=1"`
}

var validate = validator.New()

// Options control where Load looks.
type Options struct {
	// ConfigFile overrides the default config.yaml under the home directory.
	ConfigFile string
	// EnvFiles are .env files to load; missing files are skipped.
	// Nil means ".env" in the working directory and under the home directory.
	EnvFiles []string
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("home", home)
	v.SetDefault("store_path", StorePath(home))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_addr", "")

	v.SetDefault("builder.concurrency", 4)
	v.SetDefault("builder.max_file_size", 2<<20)
	v.SetDefault("builder.excludes", []string{})
	v.SetDefault("builder.full_reresolve", false)

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_size", 64)
	v.SetDefault("jobs.retention", "1h")
	v.SetDefault("jobs.janitor_interval", "10m")

	v.SetDefault("watcher.debounce", "500ms")

	v.SetDefault("finder.cache_size", 256)
}

// Load builds and validates the configuration.
func Load(opts Options) (*Config, error) {
	home, err := Home()
	if err != nil {
		return nil, err
	}

	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env", filepath.Join(home, ".env")}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	// .env may have set CODEGRAPH_HOME
	if home, err = Home(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, home)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.AddConfigPath(home)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NewLogger returns a logger writing to w at the configured level and format.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
