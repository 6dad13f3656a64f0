package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidLiveProviders lists known live provider names. Used by [Validate] to
// warn about unrecognised provider names.
var ValidLiveProviders = []string{"gemini-live"}

// ValidPlatforms lists known audio platform names.
var ValidPlatforms = []string{"local"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills empty fields with the package defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Session.Provider == "" {
		cfg.Session.Provider = DefaultProvider
	}
	if cfg.Session.APIKeyEnv == "" {
		cfg.Session.APIKeyEnv = DefaultAPIKeyEnv
	}
	if cfg.Session.Voice == "" {
		cfg.Session.Voice = DefaultVoice
	}
	if cfg.Audio.Platform == "" {
		cfg.Audio.Platform = DefaultPlatform
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when TLS is configured"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when TLS is configured"))
		}
	}

	// Session
	if cfg.Session.Provider != "" && !slices.Contains(ValidLiveProviders, cfg.Session.Provider) {
		slog.Warn("unknown provider name; may be a typo or third-party provider",
			"name", cfg.Session.Provider,
			"known", ValidLiveProviders,
		)
	}
	if cfg.Session.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("session.max_retries %d must not be negative", cfg.Session.MaxRetries))
	}
	if cfg.Session.ResolveAPIKey() == "" {
		slog.Warn("no provider credential configured; session start will fail",
			"api_key_env", cfg.Session.APIKeyEnv,
		)
	}

	// Audio
	if cfg.Audio.Platform != "" && !slices.Contains(ValidPlatforms, cfg.Audio.Platform) {
		slog.Warn("unknown audio platform name",
			"name", cfg.Audio.Platform,
			"known", ValidPlatforms,
		)
	}
	if cfg.Audio.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must not be negative", cfg.Audio.FrameSamples))
	}

	return errors.Join(errs...)
}
