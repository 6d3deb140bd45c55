// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by BACKEND_TRANSPORT.
const (
	TransportHTTP    = "http"
	TransportProcess = "process"
	TransportGRPC    = "grpc"
)

// DefaultGRPCMethod is the unary method invoked by the gRPC transport.
const DefaultGRPCMethod = "/schoolinfo.QueryService/Query"

// Config holds all application configuration.
type Config struct {
	Port              string        `yaml:"port"`
	FrontendURL       string        `yaml:"frontend_url"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	DBPath            string        `yaml:"db_path"`
	LogLevel          string        `yaml:"log_level"`
	LogFile           string        `yaml:"log_file"`
	ConversationTTL   time.Duration `yaml:"conversation_ttl"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	DispatchRetention time.Duration `yaml:"dispatch_retention"`
	ServeUI           bool          `yaml:"serve_ui"`
	AdminToken        string        `yaml:"admin_token"` // empty disables operator endpoints
	Backend           BackendConfig `yaml:"backend"`
}

// BackendConfig selects and configures the channel to the answering service.
type BackendConfig struct {
	Transport  string        `yaml:"transport"`
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"` // 0 = wait indefinitely
	Command    string        `yaml:"command"`
	Args       []string      `yaml:"args"`
	GRPCAddr   string        `yaml:"grpc_addr"`
	GRPCMethod string        `yaml:"grpc_method"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:              "8080",
		AllowedOrigins:    []string{"*"},
		DBPath:            "./data/schoolinfo.db",
		LogLevel:          "INFO",
		ConversationTTL:   60 * time.Minute,
		SweepInterval:     5 * time.Minute,
		DispatchRetention: 7 * 24 * time.Hour,
		ServeUI:           true,
		Backend: BackendConfig{
			Transport:  TransportHTTP,
			URL:        "http://localhost:8000/api/query",
			GRPCAddr:   "localhost:50051",
			GRPCMethod: DefaultGRPCMethod,
		},
	}
}

// Load reads configuration from an optional YAML file (SCHOOLINFO_CONFIG)
// and then from environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("SCHOOLINFO_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.FrontendURL = getEnv("FRONTEND_URL", cfg.FrontendURL)
	cfg.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", ",", cfg.AllowedOrigins)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.ConversationTTL = getEnvDuration("CONVERSATION_TTL", cfg.ConversationTTL)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.DispatchRetention = getEnvDuration("DISPATCH_RETENTION", cfg.DispatchRetention)
	cfg.ServeUI = getEnvBool("SERVE_UI", cfg.ServeUI)
	cfg.AdminToken = getEnv("ADMIN_TOKEN", cfg.AdminToken)

	b := &cfg.Backend
	b.Transport = strings.ToLower(getEnv("BACKEND_TRANSPORT", b.Transport))
	b.URL = getEnv("BACKEND_URL", b.URL)
	b.Timeout = getEnvDuration("BACKEND_TIMEOUT", b.Timeout)
	b.Command = getEnv("BACKEND_COMMAND", b.Command)
	b.Args = getEnvList("BACKEND_ARGS", " ", b.Args)
	b.GRPCAddr = getEnv("BACKEND_GRPC_ADDR", b.GRPCAddr)
	b.GRPCMethod = getEnv("BACKEND_GRPC_METHOD", b.GRPCMethod)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.ConversationTTL <= 0 {
		return errors.New("CONVERSATION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be > 0")
	}
	return c.Backend.Validate()
}

// Validate checks the settings required by the selected transport.
func (b *BackendConfig) Validate() error {
	if b.Timeout < 0 {
		return errors.New("BACKEND_TIMEOUT cannot be negative")
	}
	switch b.Transport {
	case TransportHTTP:
		if b.URL == "" {
			return errors.New("BACKEND_URL cannot be empty for http transport")
		}
	case TransportProcess:
		if b.Command == "" {
			return errors.New("BACKEND_COMMAND cannot be empty for process transport")
		}
	case TransportGRPC:
		if b.GRPCAddr == "" {
			return errors.New("BACKEND_GRPC_ADDR cannot be empty for grpc transport")
		}
		if !strings.HasPrefix(b.GRPCMethod, "/") {
			return fmt.Errorf("BACKEND_GRPC_METHOD must be a full method name, got %q", b.GRPCMethod)
		}
	default:
		return fmt.Errorf("unknown BACKEND_TRANSPORT %q", b.Transport)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel converts LogLevel into a slog level, defaulting to INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(c.LogLevel)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n := getEnvInt(key, -1); n >= 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key, sep string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
