package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/calder-ai/modelgate/internal/llm"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Device    DeviceConfig    `mapstructure:"device"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Stats     StatsConfig     `mapstructure:"stats"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

// BackendConfig is the startup shape of the backend descriptor.
type BackendConfig struct {
	Kind           string  `mapstructure:"kind"`
	ServerURL      string  `mapstructure:"server_url"`
	Model          string  `mapstructure:"model"`
	Quantization   string  `mapstructure:"quantization"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	Enabled        bool    `mapstructure:"enabled"`
}

// DeviceConfig tunes the local model runtime. Ignored for remote
// backends.
type DeviceConfig struct {
	BinaryPath string `mapstructure:"binary_path"`
	AttachURL  string `mapstructure:"attach_url"`
	ModelsDir  string `mapstructure:"models_dir"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Threads    int    `mapstructure:"threads"`
	GPULayers  int    `mapstructure:"gpu_layers"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// AuthConfig carries static bearer keys. A key of the form "ENV:NAME"
// is resolved from the environment at load time.
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Keys    []string `mapstructure:"keys"`
}

type StatsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./internal/config")

	// Default Values
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("backend.kind", string(llm.KindOllama))
	v.SetDefault("backend.server_url", llm.DefaultOllamaServerURL)
	v.SetDefault("backend.temperature", llm.DefaultTemperature)
	v.SetDefault("backend.max_tokens", llm.DefaultMaxTokens)
	v.SetDefault("backend.timeout_seconds", int(llm.DefaultTimeout/time.Second))
	v.SetDefault("backend.max_retries", llm.DefaultMaxRetries)
	v.SetDefault("backend.enabled", true)
	v.SetDefault("device.models_dir", "models")
	v.SetDefault("device.host", "127.0.0.1")
	v.SetDefault("device.port", 8791)
	v.SetDefault("store.path", "modelgate.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("stats.enabled", true)

	// Keys without a real default still need registering, or Unmarshal
	// cannot see values supplied only through the environment.
	v.SetDefault("backend.model", "")
	v.SetDefault("backend.quantization", "")
	v.SetDefault("device.binary_path", "")
	v.SetDefault("device.attach_url", "")
	v.SetDefault("device.threads", 0)
	v.SetDefault("device.gpu_layers", 0)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.keys", []string{})

	// Environment Variables
	v.SetEnvPrefix("MODELGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Resolve bearer keys
	for i, k := range cfg.Auth.Keys {
		if strings.HasPrefix(k, "ENV:") {
			envVar := strings.TrimPrefix(k, "ENV:")
			// Check process environment first (explicit override)
			val := os.Getenv(envVar)
			if val == "" {
				// Then check viper (which might have it from other sources)
				val = v.GetString(envVar)
			}
			cfg.Auth.Keys[i] = val
		}
	}

	return &cfg, nil
}

// BackendDescriptor derives the startup descriptor from the backend
// section. Normalization and validation happen in the session.
func (c *Config) BackendDescriptor() llm.Descriptor {
	return llm.Descriptor{
		Kind:         llm.Kind(c.Backend.Kind),
		ServerURL:    c.Backend.ServerURL,
		Model:        c.Backend.Model,
		Quantization: c.Backend.Quantization,
		Temperature:  c.Backend.Temperature,
		MaxTokens:    c.Backend.MaxTokens,
		Timeout:      time.Duration(c.Backend.TimeoutSeconds) * time.Second,
		MaxRetries:   c.Backend.MaxRetries,
		Enabled:      c.Backend.Enabled,
	}
}
