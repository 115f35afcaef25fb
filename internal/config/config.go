// Package config provides YAML and environment-based configuration loading for Warren.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultHistoryPath is where the chat log lives when nothing else is configured.
// It sits on the volume the container image mounts at /app/data.
const DefaultHistoryPath = "/app/data/history.txt"

// Config is the top-level Warren configuration. It is built once at startup
// and treated as read-only afterwards.
type Config struct {
	User        string        `yaml:"user"`
	Queue       string        `yaml:"queue"`
	TargetQueue string        `yaml:"target_queue"`
	Standalone  bool          `yaml:"standalone"`
	Broker      BrokerConfig  `yaml:"broker"`
	History     HistoryConfig `yaml:"history"`
	Log         LogConfig     `yaml:"log"`
	Status      StatusConfig  `yaml:"status"`
}

// BrokerConfig holds connection settings for the RabbitMQ broker.
type BrokerConfig struct {
	Host     string      `yaml:"host"`
	Port     int         `yaml:"port"`
	User     string      `yaml:"user"`
	Password string      `yaml:"password"`
	VHost    string      `yaml:"vhost"`
	Retry    RetryConfig `yaml:"retry"`
}

// RetryConfig bounds the connect retry loop.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BackoffSec  int `yaml:"backoff_sec"`
}

// HistoryConfig locates the append-only chat log.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls the diagnostic logger (not the chat output).
type LogConfig struct {
	Level string `yaml:"level"`
}

// StatusConfig enables the optional HTTP status server. Empty Addr disables it.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// Env looks up a single variable. os.LookupEnv satisfies it.
type Env func(key string) (string, bool)

// OSEnv reads from the process environment.
var OSEnv Env = os.LookupEnv

// MapEnv returns an Env backed by a fixed map.
func MapEnv(m map[string]string) Env {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// Chain returns an Env that consults each env in order and returns the first hit.
func Chain(envs ...Env) Env {
	return func(key string) (string, bool) {
		for _, e := range envs {
			if e == nil {
				continue
			}
			if v, ok := e(key); ok {
				return v, true
			}
		}
		return "", false
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a YAML config file from path, overlays env and returns a
// validated Config. An empty path skips the file entirely.
func Load(path string, env Env) (*Config, error) {
	if path == "" {
		return Parse(nil, env)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, env)
}

// Parse unmarshals YAML bytes, overlays env and returns a validated Config.
func Parse(data []byte, env Env) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays the environment variables the container images set.
func (c *Config) applyEnv(env Env) error {
	if env == nil {
		return nil
	}
	str := func(key string, dst *string) {
		if v, ok := env(key); ok && v != "" {
			*dst = v
		}
	}
	str("RABBIT_HOST", &c.Broker.Host)
	str("RABBIT_USER", &c.Broker.User)
	str("RABBIT_PASSWORD", &c.Broker.Password)
	str("RABBIT_VHOST", &c.Broker.VHost)
	str("QUEUE_NAME", &c.Queue)
	str("TARGET_QUEUE", &c.TargetQueue)
	str("USER_NAME", &c.User)
	str("HISTORY_FILE", &c.History.Path)
	str("LOG_LEVEL", &c.Log.Level)
	str("STATUS_ADDR", &c.Status.Addr)

	if v, ok := env("RABBIT_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: RABBIT_PORT: %w", err)
		}
		c.Broker.Port = port
	}
	if v, ok := env("STANDALONE_MODE"); ok && v != "" {
		c.Standalone = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.User == "" {
		c.User = "unknown-user"
	}
	if c.Queue == "" {
		c.Queue = "chat_queue"
	}
	if c.Broker.Host == "" {
		c.Broker.Host = "localhost"
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = 5672
	}
	if c.Broker.User == "" {
		c.Broker.User = "guest"
	}
	if c.Broker.Password == "" {
		c.Broker.Password = "guest"
	}
	if c.Broker.VHost == "" {
		c.Broker.VHost = "/"
	}
	if c.Broker.Retry.MaxAttempts == 0 {
		c.Broker.Retry.MaxAttempts = 5
	}
	if c.Broker.Retry.BackoffSec == 0 {
		c.Broker.Retry.BackoffSec = 2
	}
	if c.History.Path == "" {
		c.History.Path = DefaultHistoryPath
	}
	if c.Log.Level == "" {
		c.Log.Level = "warn"
	}
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true,
	"error": true, "fatal": true, "panic": true, "disabled": true,
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if !c.Standalone && c.TargetQueue == "" {
		errs = append(errs, "target_queue is required unless standalone is set")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, fmt.Sprintf("broker.port %d is out of range", c.Broker.Port))
	}
	if c.Broker.Retry.MaxAttempts < 1 {
		errs = append(errs, "broker.retry.max_attempts must be at least 1")
	}
	if c.Broker.Retry.BackoffSec < 0 {
		errs = append(errs, "broker.retry.backoff_sec must not be negative")
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level %q is not a known level", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
