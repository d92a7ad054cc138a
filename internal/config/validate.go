package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
)

// minPartSizeMiB is the smallest part S3 accepts for every part but the last.
const minPartSizeMiB = 5

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr must be set")
	}
	if err := validateURL("base_url", c.BaseURL); err != nil {
		return err
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("tls_cert_file and tls_key_file must be set together")
	}
	if err := c.validateUpstream(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateUpstream() error {
	if err := validateURL("upstream.api_base_url", c.Upstream.APIBaseURL); err != nil {
		return err
	}
	if err := validateURL("upstream.media_selector_url", c.Upstream.MediaSelectorURL); err != nil {
		return err
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return errors.New("upstream.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.Enabled() {
		return nil
	}
	if c.Storage.PartSizeMiB < minPartSizeMiB {
		return fmt.Errorf("storage.part_size_mib must be at least %d", minPartSizeMiB)
	}
	if c.Storage.Region == "" && c.Storage.Endpoint == "" {
		return errors.New("storage.region or storage.endpoint must be set when storage.bucket is set")
	}
	if c.Storage.Endpoint != "" {
		if err := validateURL("storage.endpoint", c.Storage.Endpoint); err != nil {
			return err
		}
	}
	if c.Storage.PublicBaseURL != "" {
		if err := validateURL("storage.public_base_url", c.Storage.PublicBaseURL); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
		return nil
	}
	return fmt.Errorf("logging.format must be auto, text or json, got %q", c.Logging.Format)
}

// ParseLevel converts a configured level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return l, nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", field, raw)
	}
	return nil
}
