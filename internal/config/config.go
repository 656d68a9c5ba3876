package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	DB      DBConfig `mapstructure:"db"`
	WS      WSConfig `mapstructure:"ws"`
	Journal JournalConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type DBConfig struct {
	// ":memory:" keeps the activity journal inside the process
	Path string
}

type WSConfig struct {
	MaxMessageSize    int64   `mapstructure:"maxMessageSize"`
	SendBuffer        int     `mapstructure:"sendBuffer"`
	MessagesPerSecond float64 `mapstructure:"messagesPerSecond"`
	MessageBurst      int     `mapstructure:"messageBurst"`
	UpgradesPerMinute int     `mapstructure:"upgradesPerMinute"`
}

type JournalConfig struct {
	QueueSize     int           `mapstructure:"queueSize"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"pruneInterval"`
}

// Load reads configuration from an optional <fileName>.yaml in the working
// directory, then HUDDLE_* environment variables, over the defaults.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("db.path", ":memory:")
	v.SetDefault("ws.maxMessageSize", 64*1024)
	v.SetDefault("ws.sendBuffer", 256)
	v.SetDefault("ws.messagesPerSecond", 50)
	v.SetDefault("ws.messageBurst", 100)
	v.SetDefault("ws.upgradesPerMinute", 30)
	v.SetDefault("journal.queueSize", 1024)
	v.SetDefault("journal.retention", "24h")
	v.SetDefault("journal.pruneInterval", "10m")

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Debug("config file not found, using defaults and env vars", "name", fileName)
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

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.WS.MaxMessageSize <= 0 || c.WS.SendBuffer <= 0 {
		return errors.New("ws.maxMessageSize and ws.sendBuffer must be positive")
	}
	if c.Journal.Retention < 0 {
		return errors.New("journal.retention must not be negative")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.Contains(c.Server.Port, ":") {
		return c.Server.Port
	}
	return ":" + c.Server.Port
}
