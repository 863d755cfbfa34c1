// Package config provides configuration management for the authentication
// client. It handles loading and parsing YAML configuration files, applies
// defaults for every knob, and lets a small set of environment variables
// override the file so deployments can keep secrets out of the config.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Backend configures the managed identity backend.
	Backend BackendConfig `yaml:"backend"`

	// OAuth configures the third-party sign-in flow.
	OAuth OAuthConfig `yaml:"oauth"`

	// PKCE configures exchange-state generation and storage.
	PKCE PKCEConfig `yaml:"pkce"`

	// Redis configures the optional Redis tier of the PKCE state store.
	Redis RedisConfig `yaml:"redis"`

	// Retry configures the shared retry policy for authentication operations.
	Retry RetryConfig `yaml:"retry"`

	// Logging configures log destination and verbosity.
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig describes the identity backend endpoint and credentials.
type BackendConfig struct {
	// URL is the base URL of the identity backend, e.g. https://project.example.co.
	URL string `yaml:"url"`

	// AnonKey is the publishable API key sent with every backend request.
	AnonKey string `yaml:"anon-key"`

	// TimeoutSeconds bounds individual HTTP requests to the backend.
	TimeoutSeconds int `yaml:"timeout-seconds"`
}

// OAuthConfig describes the third-party provider sign-in parameters.
type OAuthConfig struct {
	// Provider is the OAuth provider name passed to the backend, e.g. "google".
	Provider string `yaml:"provider"`

	// Scopes is the space-separated scope list requested from the provider.
	Scopes string `yaml:"scopes"`

	// RedirectURL is where the provider sends the user after consent.
	RedirectURL string `yaml:"redirect-url"`

	// CallbackPort is the loopback port the CLI listens on for the callback.
	CallbackPort int `yaml:"callback-port"`
}

// PKCEConfig describes exchange-state generation and storage behavior.
type PKCEConfig struct {
	// VerifierBytes is the entropy of the code verifier in raw bytes before encoding.
	VerifierBytes int `yaml:"verifier-bytes"`

	// StateBytes is the entropy of the state token in raw bytes before encoding.
	StateBytes int `yaml:"state-bytes"`

	// ExpirationMinutes is how long a stored exchange state stays valid.
	ExpirationMinutes int `yaml:"expiration-minutes"`

	// KeyPrefix namespaces state records in every backing store.
	KeyPrefix string `yaml:"key-prefix"`

	// StorePriority lists backing stores in write-preference order.
	// Known values: "redis", "file", "memory".
	StorePriority []string `yaml:"store-priority"`

	// StateDir is the directory used by the file-backed store.
	StateDir string `yaml:"state-dir"`

	// CleanupIntervalMinutes is how often expired states are swept.
	CleanupIntervalMinutes int `yaml:"cleanup-interval-minutes"`
}

// RedisConfig holds connection settings for the Redis state store tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RetryConfig holds the shared retry policy applied to authentication operations.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, including the first call.
	MaxAttempts int `yaml:"max-attempts"`

	// BaseDelayMs is the first backoff delay in milliseconds.
	BaseDelayMs int `yaml:"base-delay-ms"`

	// MaxDelayMs caps backoff growth in milliseconds.
	MaxDelayMs int `yaml:"max-delay-ms"`

	// ExponentialBase is the per-attempt delay multiplier.
	ExponentialBase float64 `yaml:"exponential-base"`

	// Jitter randomizes each delay into [0.5, 1.0) of its computed value.
	Jitter bool `yaml:"jitter"`
}

// LoggingConfig controls log destination and verbosity.
type LoggingConfig struct {
	// ToFile routes logs to a rotating file instead of stdout.
	ToFile bool `yaml:"to-file"`

	// Dir is the log directory used when ToFile is set.
	Dir string `yaml:"dir"`

	// Level is the logrus level name, e.g. "info" or "debug".
	Level string `yaml:"level"`
}

// DefaultConfig returns a configuration populated with every default value.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			TimeoutSeconds: 30,
		},
		OAuth: OAuthConfig{
			Provider:     "google",
			Scopes:       "openid email profile",
			RedirectURL:  "http://localhost:8765/auth/callback",
			CallbackPort: 8765,
		},
		PKCE: PKCEConfig{
			VerifierBytes:          32,
			StateBytes:             32,
			ExpirationMinutes:      10,
			KeyPrefix:              "cropgenius-pkce-",
			StorePriority:          []string{"file", "memory"},
			StateDir:               "",
			CleanupIntervalMinutes: 5,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			BaseDelayMs:     1000,
			MaxDelayMs:      10000,
			ExponentialBase: 2,
			Jitter:          true,
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// LoadConfig reads a YAML configuration file, fills in defaults, and applies
// environment overrides. A missing file is not an error; the defaults plus
// environment are returned so the CLI works with zero on-disk setup.
func LoadConfig(path string) (*Config, error) {
	// Best effort: a .env next to the binary keeps secrets out of YAML.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
			}
		} else if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CROPAUTH_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("CROPAUTH_ANON_KEY"); v != "" {
		cfg.Backend.AnonKey = v
	}
	if v := os.Getenv("CROPAUTH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
}

// applyDefaults re-fills any zero values left by partial YAML documents.
func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Backend.TimeoutSeconds <= 0 {
		cfg.Backend.TimeoutSeconds = def.Backend.TimeoutSeconds
	}
	if cfg.OAuth.Provider == "" {
		cfg.OAuth.Provider = def.OAuth.Provider
	}
	if cfg.OAuth.Scopes == "" {
		cfg.OAuth.Scopes = def.OAuth.Scopes
	}
	if cfg.OAuth.RedirectURL == "" {
		cfg.OAuth.RedirectURL = def.OAuth.RedirectURL
	}
	if cfg.OAuth.CallbackPort <= 0 {
		cfg.OAuth.CallbackPort = def.OAuth.CallbackPort
	}
	if cfg.PKCE.VerifierBytes <= 0 {
		cfg.PKCE.VerifierBytes = def.PKCE.VerifierBytes
	}
	if cfg.PKCE.StateBytes <= 0 {
		cfg.PKCE.StateBytes = def.PKCE.StateBytes
	}
	if cfg.PKCE.ExpirationMinutes <= 0 {
		cfg.PKCE.ExpirationMinutes = def.PKCE.ExpirationMinutes
	}
	if cfg.PKCE.KeyPrefix == "" {
		cfg.PKCE.KeyPrefix = def.PKCE.KeyPrefix
	}
	if len(cfg.PKCE.StorePriority) == 0 {
		cfg.PKCE.StorePriority = append([]string(nil), def.PKCE.StorePriority...)
	}
	if cfg.PKCE.CleanupIntervalMinutes <= 0 {
		cfg.PKCE.CleanupIntervalMinutes = def.PKCE.CleanupIntervalMinutes
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelayMs <= 0 {
		cfg.Retry.BaseDelayMs = def.Retry.BaseDelayMs
	}
	if cfg.Retry.MaxDelayMs <= 0 {
		cfg.Retry.MaxDelayMs = def.Retry.MaxDelayMs
	}
	if cfg.Retry.ExponentialBase <= 1 {
		cfg.Retry.ExponentialBase = def.Retry.ExponentialBase
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = def.Logging.Dir
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}
