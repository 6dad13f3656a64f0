// Package config provides the configuration schema, loader, file watcher,
// and provider registry for the Voxline voice session service.
package config

import "os"

// LogLevel controls log verbosity for the Voxline server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by the loader when fields are left empty.
const (
	DefaultProvider   = "gemini-live"
	DefaultPlatform   = "local"
	DefaultAPIKeyEnv  = "GEMINI_API_KEY"
	DefaultVoice      = "Fenrir"
	DefaultListenAddr = ":8080"
)

// Config is the root configuration structure for Voxline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
}

// ServerConfig holds network and logging settings for the admin HTTP server
// (metrics and health endpoints).
type ServerConfig struct {
	// ListenAddr is the TCP address the admin server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// SessionConfig selects and configures the live voice provider.
type SessionConfig struct {
	// Provider selects the registered live provider implementation
	// (e.g., "gemini-live"). The loader defaults it to [DefaultProvider].
	Provider string `yaml:"provider"`

	// Model selects a specific model within the provider. Leave empty to
	// use the provider's built-in default.
	Model string `yaml:"model"`

	// Voice is the provider-specific voice identifier for synthesised
	// speech.
	Voice string `yaml:"voice"`

	// Instructions is the system instruction injected at session setup.
	Instructions string `yaml:"instructions"`

	// APIKey is the provider credential. Prefer leaving this empty and
	// supplying the key via the environment variable named by APIKeyEnv.
	APIKey string `yaml:"api_key"`

	// APIKeyEnv names the environment variable consulted when APIKey is
	// empty. The loader defaults it to [DefaultAPIKeyEnv].
	APIKeyEnv string `yaml:"api_key_env"`

	// MaxRetries enables connect retries with exponential backoff when
	// greater than zero. Zero means a single attempt.
	MaxRetries int `yaml:"max_retries"`
}

// ResolveAPIKey returns the configured credential, falling back to the
// environment variable named by APIKeyEnv. Empty when neither is set.
func (s SessionConfig) ResolveAPIKey() string {
	if s.APIKey != "" {
		return s.APIKey
	}
	if s.APIKeyEnv != "" {
		return os.Getenv(s.APIKeyEnv)
	}
	return ""
}

// AudioConfig selects the audio device platform and capture parameters.
type AudioConfig struct {
	// Platform selects the registered device platform (e.g., "local").
	// The loader defaults it to [DefaultPlatform].
	Platform string `yaml:"platform"`

	// FrameSamples overrides the number of samples per capture frame.
	// Zero means the capture pipeline's default.
	FrameSamples int `yaml:"frame_samples"`
}
