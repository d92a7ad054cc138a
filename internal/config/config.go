// Package config loads the relay configuration: defaults, then an optional
// TOML file, then SOUNDS_RELAY_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/zsiec/sounds-relay/internal/sounds"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOUNDS_RELAY_"

// Upstream configures the metadata and media services.
type Upstream struct {
	APIBaseURL       string `toml:"api_base_url"`
	MediaSelectorURL string `toml:"media_selector_url"`
	UserAgent        string `toml:"user_agent"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
}

// Timeout returns the per-request timeout for metadata calls.
func (u Upstream) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// Storage configures the object store. An empty bucket selects
// direct-serve mode.
type Storage struct {
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	Endpoint      string `toml:"endpoint"`
	PublicBaseURL string `toml:"public_base_url"`
	PartSizeMiB   int    `toml:"part_size_mib"`
	PublicRead    bool   `toml:"public_read"`
	PathStyle     bool   `toml:"path_style"`
}

// Enabled reports whether uploads are configured.
func (s Storage) Enabled() bool { return s.Bucket != "" }

// PartSize returns the multipart part size in bytes.
func (s Storage) PartSize() int { return s.PartSizeMiB << 20 }

// Logging configures log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the complete relay configuration.
type Config struct {
	ListenAddr  string `toml:"listen_addr"`
	BaseURL     string `toml:"base_url"`
	HTTP3Addr   string `toml:"http3_addr"`
	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`

	Upstream Upstream `toml:"upstream"`
	Storage  Storage  `toml:"storage"`
	Logging  Logging  `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		BaseURL:    "http://localhost:8080",
		Upstream: Upstream{
			APIBaseURL:       sounds.DefaultAPIBaseURL,
			MediaSelectorURL: sounds.DefaultMediaSelectorURL,
			UserAgent:        sounds.DefaultUserAgent,
			TimeoutSeconds:   30,
		},
		Storage: Storage{
			Region:      "eu-west-2",
			PartSizeMiB: 5,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds the configuration. A path that does not exist is not an
// error; the defaults and environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open config: %w", err)
		default:
			defer f.Close()
			dec := toml.NewDecoder(f)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"LISTEN_ADDR", &c.ListenAddr},
		{"BASE_URL", &c.BaseURL},
		{"HTTP3_ADDR", &c.HTTP3Addr},
		{"TLS_CERT_FILE", &c.TLSCertFile},
		{"TLS_KEY_FILE", &c.TLSKeyFile},
		{"API_BASE_URL", &c.Upstream.APIBaseURL},
		{"MEDIA_SELECTOR_URL", &c.Upstream.MediaSelectorURL},
		{"USER_AGENT", &c.Upstream.UserAgent},
		{"BUCKET", &c.Storage.Bucket},
		{"S3_ENDPOINT", &c.Storage.Endpoint},
		{"PUBLIC_BASE_URL", &c.Storage.PublicBaseURL},
		{"LOG_LEVEL", &c.Logging.Level},
		{"LOG_FORMAT", &c.Logging.Format},
	}
	for _, s := range strs {
		if v, ok := lookup(EnvPrefix + s.key); ok && v != "" {
			*s.dst = v
		}
	}
	// The storage region follows the AWS SDK convention.
	if v, ok := lookup("AWS_REGION"); ok && v != "" {
		c.Storage.Region = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"TIMEOUT_SECONDS", &c.Upstream.TimeoutSeconds},
		{"PART_SIZE_MIB", &c.Storage.PartSizeMiB},
	}
	for _, i := range ints {
		v, ok := lookup(EnvPrefix + i.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, i.key, err)
		}
		*i.dst = n
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"PUBLIC_READ", &c.Storage.PublicRead},
		{"PATH_STYLE", &c.Storage.PathStyle},
	}
	for _, b := range bools {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err)
		}
		*b.dst = parsed
	}
	return nil
}

func (c *Config) normalize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
}

// Marshal renders c as TOML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
