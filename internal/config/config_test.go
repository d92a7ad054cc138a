package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zsiec/sounds-relay/internal/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sounds-relay.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	def := config.Default()
	if cfg.ListenAddr != def.ListenAddr || cfg.BaseURL != def.BaseURL {
		t.Fatalf("unexpected listen/base: %q %q", cfg.ListenAddr, cfg.BaseURL)
	}
	if cfg.Storage.Enabled() {
		t.Fatal("expected storage disabled by default")
	}
	if cfg.Storage.PartSize() != 5<<20 {
		t.Fatalf("unexpected part size: %d", cfg.Storage.PartSize())
	}
	if cfg.Upstream.Timeout().Seconds() != 30 {
		t.Fatalf("unexpected timeout: %v", cfg.Upstream.Timeout())
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr = ":9000"
base_url = "https://relay.example/"
http3_addr = ":9443"

[upstream]
timeout_seconds = 5

[storage]
bucket = "episodes"
region = "us-east-1"
public_base_url = "https://cdn.example/"
part_size_mib = 8
public_read = true

[logging]
level = "DEBUG"
format = "json"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.HTTP3Addr != ":9443" {
		t.Fatalf("unexpected addrs: %q %q", cfg.ListenAddr, cfg.HTTP3Addr)
	}
	if cfg.BaseURL != "https://relay.example" {
		t.Fatalf("base_url not normalized: %q", cfg.BaseURL)
	}
	if !cfg.Storage.Enabled() || cfg.Storage.PartSize() != 8<<20 || !cfg.Storage.PublicRead {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Storage.PublicBaseURL != "https://cdn.example" {
		t.Fatalf("public_base_url not normalized: %q", cfg.Storage.PublicBaseURL)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
	if cfg.Upstream.UserAgent != config.Default().Upstream.UserAgent {
		t.Fatalf("unset user_agent should keep default, got %q", cfg.Upstream.UserAgent)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[storage]
bucket = "from-file"
region = "eu-west-1"
`)
	t.Setenv("SOUNDS_RELAY_BUCKET", "from-env")
	t.Setenv("SOUNDS_RELAY_PART_SIZE_MIB", "16")
	t.Setenv("SOUNDS_RELAY_PATH_STYLE", "true")
	t.Setenv("SOUNDS_RELAY_S3_ENDPOINT", "http://127.0.0.1:9000")
	t.Setenv("AWS_REGION", "ap-southeast-2")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	s := cfg.Storage
	if s.Bucket != "from-env" || s.PartSizeMiB != 16 || !s.PathStyle ||
		s.Endpoint != "http://127.0.0.1:9000" || s.Region != "ap-southeast-2" {
		t.Fatalf("env overrides not applied: %+v", s)
	}
}

func TestLoadBadEnvValue(t *testing.T) {
	t.Setenv("SOUNDS_RELAY_TIMEOUT_SECONDS", "soon")
	_, err := config.Load("")
	if err == nil || !strings.Contains(err.Error(), "SOUNDS_RELAY_TIMEOUT_SECONDS") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "listen_adr = \":1\"\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults", func(*config.Config) {}, ""},
		{"small parts", func(c *config.Config) {
			c.Storage.Bucket = "b"
			c.Storage.PartSizeMiB = 4
		}, "part_size_mib"},
		{"small parts without storage", func(c *config.Config) { c.Storage.PartSizeMiB = 1 }, ""},
		{"relative base url", func(c *config.Config) { c.BaseURL = "/relay" }, "base_url"},
		{"half tls pair", func(c *config.Config) { c.TLSCertFile = "cert.pem" }, "tls_key_file"},
		{"zero timeout", func(c *config.Config) { c.Upstream.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"no region or endpoint", func(c *config.Config) {
			c.Storage.Bucket = "b"
			c.Storage.Region = ""
		}, "storage.region"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}
