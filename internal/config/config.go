package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the system-wide settings coordinator. Precedence is
// file > environment > defaults.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Pipeline  *PipelineConfig  `json:"pipeline"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// PipelineConfig bounds the content preparation pipeline: worker count,
// per-call generation timeout, and the retry schedule applied before a
// time slot is marked FAILED.
type PipelineConfig struct {
	GeneratorURL    string        `json:"generator_url"`
	Workers         int           `json:"workers"`
	QueueSize       int           `json:"queue_size"`
	MaxAttempts     int           `json:"max_attempts"`
	BaseRetryDelay  time.Duration `json:"base_retry_delay"`
	MaxRetryDelay   time.Duration `json:"max_retry_delay"`
	GenerateTimeout time.Duration `json:"generate_timeout"`
}

// DefaultConfig returns production-ready defaults: local SQLite, HTTP on
// 8080, 30s WebSocket heartbeat, three pipeline workers with three
// attempts per job.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./liveclass.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Auth: &AuthConfig{
			JWTSecret: "",
		},
		Pipeline: &PipelineConfig{
			GeneratorURL:    "http://localhost:9090/generate",
			Workers:         3,
			QueueSize:       64,
			MaxAttempts:     3,
			BaseRetryDelay:  time.Second,
			MaxRetryDelay:   time.Minute,
			GenerateTimeout: 60 * time.Second,
		},
	}
}

// Validate prevents invalid system configurations from reaching component
// initialization.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed ping interval")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Auth == nil || c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth JWT secret is required")
	}

	if c.Pipeline == nil {
		return fmt.Errorf("pipeline configuration is required")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline queue size must be positive")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline max attempts must be positive")
	}
	if c.Pipeline.BaseRetryDelay <= 0 || c.Pipeline.MaxRetryDelay <= 0 {
		return fmt.Errorf("pipeline retry delays must be positive")
	}
	if c.Pipeline.GenerateTimeout <= 0 {
		return fmt.Errorf("pipeline generate timeout must be positive")
	}
	if c.Pipeline.GeneratorURL == "" {
		return fmt.Errorf("pipeline generator URL cannot be empty")
	}

	return nil
}

// LoadFromEnv builds configuration from environment variables with
// defaults as fallback. A .env file is loaded first if present.
func LoadFromEnv() *Config {
	_ = godotenv.Load()

	config := DefaultConfig()

	if port := os.Getenv("LIVECLASS_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("LIVECLASS_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if dbPath := os.Getenv("LIVECLASS_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if secret := os.Getenv("LIVECLASS_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if url := os.Getenv("LIVECLASS_GENERATOR_URL"); url != "" {
		config.Pipeline.GeneratorURL = url
	}

	setDuration(&config.HTTP.ReadTimeout, "LIVECLASS_HTTP_READ_TIMEOUT")
	setDuration(&config.HTTP.WriteTimeout, "LIVECLASS_HTTP_WRITE_TIMEOUT")
	setDuration(&config.Database.Timeout, "LIVECLASS_DATABASE_TIMEOUT")
	setDuration(&config.WebSocket.PingInterval, "LIVECLASS_WEBSOCKET_PING_INTERVAL")
	setDuration(&config.WebSocket.ReadTimeout, "LIVECLASS_WEBSOCKET_READ_TIMEOUT")
	setDuration(&config.WebSocket.WriteTimeout, "LIVECLASS_WEBSOCKET_WRITE_TIMEOUT")
	setDuration(&config.Pipeline.GenerateTimeout, "LIVECLASS_PIPELINE_GENERATE_TIMEOUT")
	setDuration(&config.Pipeline.BaseRetryDelay, "LIVECLASS_PIPELINE_BASE_RETRY_DELAY")
	setDuration(&config.Pipeline.MaxRetryDelay, "LIVECLASS_PIPELINE_MAX_RETRY_DELAY")

	setInt(&config.WebSocket.BufferSize, "LIVECLASS_WEBSOCKET_BUFFER_SIZE")
	setInt(&config.Pipeline.Workers, "LIVECLASS_PIPELINE_WORKERS")
	setInt(&config.Pipeline.QueueSize, "LIVECLASS_PIPELINE_QUEUE_SIZE")
	setInt(&config.Pipeline.MaxAttempts, "LIVECLASS_PIPELINE_MAX_ATTEMPTS")

	return config
}

func setDuration(target *time.Duration, key string) {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*target = d
		}
	}
}

func setInt(target *int, key string) {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			*target = n
		}
	}
}

// configFile mirrors Config for JSON parsing with duration strings.
type configFile struct {
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Auth *struct {
		JWTSecret string `json:"jwt_secret"`
	} `json:"auth"`
	Pipeline *struct {
		GeneratorURL    string `json:"generator_url"`
		Workers         int    `json:"workers"`
		QueueSize       int    `json:"queue_size"`
		MaxAttempts     int    `json:"max_attempts"`
		BaseRetryDelay  string `json:"base_retry_delay"`
		MaxRetryDelay   string `json:"max_retry_delay"`
		GenerateTimeout string `json:"generate_timeout"`
	} `json:"pipeline"`
}

// LoadFromFile loads configuration from a JSON file on top of the
// environment-derived configuration.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := LoadFromEnv()

	if cf.Database != nil {
		if cf.Database.Path != "" {
			config.Database.Path = cf.Database.Path
		}
		parseDuration(&config.Database.Timeout, cf.Database.Timeout)
	}
	if cf.HTTP != nil {
		if cf.HTTP.Host != "" {
			config.HTTP.Host = cf.HTTP.Host
		}
		if cf.HTTP.Port > 0 {
			config.HTTP.Port = cf.HTTP.Port
		}
		parseDuration(&config.HTTP.ReadTimeout, cf.HTTP.ReadTimeout)
		parseDuration(&config.HTTP.WriteTimeout, cf.HTTP.WriteTimeout)
	}
	if cf.WebSocket != nil {
		if cf.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = cf.WebSocket.BufferSize
		}
		parseDuration(&config.WebSocket.PingInterval, cf.WebSocket.PingInterval)
		parseDuration(&config.WebSocket.ReadTimeout, cf.WebSocket.ReadTimeout)
		parseDuration(&config.WebSocket.WriteTimeout, cf.WebSocket.WriteTimeout)
	}
	if cf.Auth != nil && cf.Auth.JWTSecret != "" {
		config.Auth.JWTSecret = cf.Auth.JWTSecret
	}
	if cf.Pipeline != nil {
		if cf.Pipeline.GeneratorURL != "" {
			config.Pipeline.GeneratorURL = cf.Pipeline.GeneratorURL
		}
		if cf.Pipeline.Workers > 0 {
			config.Pipeline.Workers = cf.Pipeline.Workers
		}
		if cf.Pipeline.QueueSize > 0 {
			config.Pipeline.QueueSize = cf.Pipeline.QueueSize
		}
		if cf.Pipeline.MaxAttempts > 0 {
			config.Pipeline.MaxAttempts = cf.Pipeline.MaxAttempts
		}
		parseDuration(&config.Pipeline.BaseRetryDelay, cf.Pipeline.BaseRetryDelay)
		parseDuration(&config.Pipeline.MaxRetryDelay, cf.Pipeline.MaxRetryDelay)
		parseDuration(&config.Pipeline.GenerateTimeout, cf.Pipeline.GenerateTimeout)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

func parseDuration(target *time.Duration, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil {
		*target = d
	}
}

// Load builds configuration with precedence file > environment > defaults.
// File errors are ignored so environment and defaults still work.
func Load(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
