// Package config loads the relay's configuration from an optional YAML file,
// an optional .env file and the process environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"example.com/live_transcriber/pkg/deepgram"
	"example.com/live_transcriber/pkg/logger"
	"example.com/live_transcriber/pkg/store"
)

// ServiceName is used for logging and config file discovery.
const ServiceName = "live-transcriber"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Session  SessionConfig   `mapstructure:"session"`
	Deepgram deepgram.Config `mapstructure:"deepgram"`
	Store    store.Config    `mapstructure:"store"`
	Log      logger.Config   `mapstructure:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// SessionConfig holds per-connection settings.
type SessionConfig struct {
	// InitTimeout bounds the wait for the client's first message.
	InitTimeout   time.Duration `mapstructure:"init_timeout" validate:"gt=0"`
	RecordingsDir string        `mapstructure:"recordings_dir" validate:"required"`
}

var defaults = map[string]any{
	"server.addr":             ":5000",
	"server.mode":             "release",
	"server.shutdown_timeout": "10s",

	"session.init_timeout":   "5s",
	"session.recordings_dir": "recordings",

	"deepgram.api_key":           "",
	"deepgram.url":               deepgram.DefaultURL,
	"deepgram.encoding":          "opus",
	"deepgram.sample_rate":       48000,
	"deepgram.channels":          1,
	"deepgram.punctuate":         true,
	"deepgram.handshake_timeout": "10s",
	"deepgram.event_buffer":      64,
	"deepgram.drain_timeout":     "2s",

	"store.driver":    "sqlite",
	"store.dsn":       "transcription.db",
	"store.max_conns": 10,

	"log.level":     "info",
	"log.format":    "console",
	"log.output":    "stdout",
	"log.no_color":  false,
	"log.timestamp": true,
}

type loaderOptions struct {
	configFile string
	envFile    string
}

// Option customizes Load.
type Option func(*loaderOptions)

// WithConfigFile sets an explicit YAML config path.
func WithConfigFile(path string) Option {
	return func(o *loaderOptions) { o.configFile = path }
}

// WithEnvFile sets an explicit .env path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// Load reads configuration. Precedence, highest first: environment, .env
// file, YAML file, defaults.
func Load(opts ...Option) (*Config, error) {
	var lo loaderOptions
	for _, opt := range opts {
		opt(&lo)
	}
	if lo.configFile == "" {
		lo.configFile = firstExisting("./config.yml", "./config/config.yml")
	}
	if lo.envFile == "" {
		lo.envFile = firstExisting(".env")
	}

	if lo.envFile != "" {
		if err := godotenv.Load(lo.envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", lo.envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if lo.configFile != "" {
		v.SetConfigFile(lo.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", lo.configFile, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
