package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"scriptroom/internal/script"
	"scriptroom/internal/session"
)

type Config struct {
	Participant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
		Role string `yaml:"role"` // "GM" or "PLAYER"
	} `yaml:"participant"`
	Room struct {
		ID string `yaml:"id"`
	} `yaml:"room"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Engine struct {
		Timeout  string `yaml:"timeout"`
		Language string `yaml:"language"`
	} `yaml:"engine"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.Room.ID == "" {
		return fmt.Errorf("room.id is required")
	}
	switch session.Role(c.Participant.Role) {
	case session.RoleGM, session.RolePlayer:
	default:
		return fmt.Errorf("participant.role must be GM or PLAYER, got %q", c.Participant.Role)
	}
	if _, err := c.timeout(); err != nil {
		return err
	}
	switch c.Engine.Language {
	case script.LanguageJavaScript, script.LanguageLua:
	default:
		return fmt.Errorf("engine.language must be %s or %s, got %q",
			script.LanguageJavaScript, script.LanguageLua, c.Engine.Language)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func (c *Config) timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Engine.Timeout)
	if err != nil {
		return 0, fmt.Errorf("engine.timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("engine.timeout must be positive, got %s", d)
	}
	return d, nil
}

func (c *Config) participant() session.Participant {
	return session.Participant{
		ID:   c.Participant.ID,
		Name: c.Participant.Name,
		Role: session.Role(c.Participant.Role),
	}
}

// loadConfig reads path and fills defaults. A missing file yields the
// defaults alone.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Participant.ID == "" {
		c.Participant.ID = uuid.NewString()
	}
	if c.Participant.Name == "" {
		c.Participant.Name = "Player"
	}
	if c.Participant.Role == "" {
		c.Participant.Role = string(session.RolePlayer)
	}
	c.Participant.Role = strings.ToUpper(c.Participant.Role)
	if c.Room.ID == "" {
		c.Room.ID = "default"
	}
	if c.Store.Path == "" {
		c.Store.Path = "scriptroom.db"
	}
	if c.Engine.Timeout == "" {
		c.Engine.Timeout = "1s"
	}
	if c.Engine.Language == "" {
		c.Engine.Language = script.LanguageJavaScript
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://127.0.0.1:1883"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "scriptroom"
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
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
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
