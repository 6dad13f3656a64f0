package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullConfig = `
server:
  listen_addr: ":9090"
  log_level: debug
session:
  provider: gemini-live
  model: custom-model
  voice: Kore
  instructions: "Answer briefly."
  api_key: inline-key
  max_retries: 3
audio:
  platform: local
  frame_samples: 2048
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(fullConfig))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q; want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q; want debug", cfg.Server.LogLevel)
	}
	if cfg.Session.Provider != "gemini-live" {
		t.Errorf("provider = %q; want gemini-live", cfg.Session.Provider)
	}
	if cfg.Session.Model != "custom-model" {
		t.Errorf("model = %q; want custom-model", cfg.Session.Model)
	}
	if cfg.Session.Voice != "Kore" {
		t.Errorf("voice = %q; want Kore", cfg.Session.Voice)
	}
	if cfg.Session.MaxRetries != 3 {
		t.Errorf("max_retries = %d; want 3", cfg.Session.MaxRetries)
	}
	if cfg.Audio.FrameSamples != 2048 {
		t.Errorf("frame_samples = %d; want 2048", cfg.Audio.FrameSamples)
	}
}

func TestLoadFromReader_DefaultsApplied(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("session:\n  api_key: k\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("listen_addr = %q; want %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log_level = %q; want info", cfg.Server.LogLevel)
	}
	if cfg.Session.Provider != DefaultProvider {
		t.Errorf("provider = %q; want %q", cfg.Session.Provider, DefaultProvider)
	}
	if cfg.Session.Voice != DefaultVoice {
		t.Errorf("voice = %q; want %q", cfg.Session.Voice, DefaultVoice)
	}
	if cfg.Session.APIKeyEnv != DefaultAPIKeyEnv {
		t.Errorf("api_key_env = %q; want %q", cfg.Session.APIKeyEnv, DefaultAPIKeyEnv)
	}
	if cfg.Audio.Platform != DefaultPlatform {
		t.Errorf("platform = %q; want %q", cfg.Audio.Platform, DefaultPlatform)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  lissen_addr: ':8080'\n"))
	if err == nil {
		t.Fatal("unknown field should be rejected")
	}
}

func TestLoadFromReader_InvalidYAML(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server: ["))
	if err == nil {
		t.Fatal("invalid YAML should be rejected")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\n",
			want: "log_level",
		},
		{
			name: "negative retries",
			yaml: "session:\n  max_retries: -1\n",
			want: "max_retries",
		},
		{
			name: "negative frame samples",
			yaml: "audio:\n  frame_samples: -4\n",
			want: "frame_samples",
		},
		{
			name: "tls without cert",
			yaml: "server:\n  tls:\n    key_file: key.pem\n",
			want: "cert_file",
		},
		{
			name: "tls without key",
			yaml: "server:\n  tls:\n    cert_file: cert.pem\n",
			want: "key_file",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(fullConfig), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Model != "custom-model" {
		t.Errorf("model = %q; want custom-model", cfg.Session.Model)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("missing file should be an error")
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Run("inline key wins", func(t *testing.T) {
		t.Setenv("VOXLINE_TEST_KEY", "from-env")
		s := SessionConfig{APIKey: "inline", APIKeyEnv: "VOXLINE_TEST_KEY"}
		if got := s.ResolveAPIKey(); got != "inline" {
			t.Errorf("ResolveAPIKey = %q; want inline", got)
		}
	})

	t.Run("env fallback", func(t *testing.T) {
		t.Setenv("VOXLINE_TEST_KEY", "from-env")
		s := SessionConfig{APIKeyEnv: "VOXLINE_TEST_KEY"}
		if got := s.ResolveAPIKey(); got != "from-env" {
			t.Errorf("ResolveAPIKey = %q; want from-env", got)
		}
	})

	t.Run("nothing set", func(t *testing.T) {
		s := SessionConfig{APIKeyEnv: "VOXLINE_TEST_KEY_UNSET"}
		if got := s.ResolveAPIKey(); got != "" {
			t.Errorf("ResolveAPIKey = %q; want empty", got)
		}
	})
}
