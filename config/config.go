// Package config provides environment-variable-first configuration
// loading with an optional YAML file as the base layer.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ListenerConfig holds one protocol listener's addresses. The TLS flag
// selects the TLS port variant and a TLS-wrapped listener.
type ListenerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	TLSPort int    `yaml:"tls_port"`
	TLS     bool   `yaml:"tls"`

	// CertFile and KeyFile are required when TLS is on.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Addr returns the host:port this listener should bind, honoring the
// TLS flag.
func (l ListenerConfig) Addr() string {
	port := l.Port
	if l.TLS {
		port = l.TLSPort
	}
	return fmt.Sprintf("%s:%d", l.Host, port)
}

// Config holds the complete server configuration.
type Config struct {
	// Hostname is used in protocol greetings.
	Hostname string `yaml:"hostname"`
	// DevelopmentMode relaxes authentication to always-succeed.
	DevelopmentMode bool `yaml:"development_mode"`

	SMTP ListenerConfig `yaml:"smtp"`
	IMAP ListenerConfig `yaml:"imap"`

	// MetricsAddr exposes prometheus metrics when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load reads configuration: defaults, then the YAML file at path (when
// path is non-empty), then MAILROOM_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyDefaults mirrors the development defaults: unprivileged ports,
// dev mode on.
func (c *Config) applyDefaults() {
	c.Hostname = "localhost"
	c.DevelopmentMode = true
	c.SMTP = ListenerConfig{Host: "0.0.0.0", Port: 2525, TLSPort: 4650}
	c.IMAP = ListenerConfig{Host: "0.0.0.0", Port: 1143, TLSPort: 9930}
}

// applyEnv overrides configuration from environment variables. Only
// set variables override existing values.
func (c *Config) applyEnv() {
	if v := os.Getenv("MAILROOM_HOSTNAME"); v != "" {
		c.Hostname = v
	}
	if v := os.Getenv("MAILROOM_DEVELOPMENT_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DevelopmentMode = b
		}
	}
	if v := os.Getenv("MAILROOM_HOST"); v != "" {
		c.SMTP.Host = v
		c.IMAP.Host = v
	}
	applyPort("MAILROOM_SMTP_PORT", &c.SMTP.Port)
	applyPort("MAILROOM_SMTP_TLS_PORT", &c.SMTP.TLSPort)
	applyBool("MAILROOM_SMTP_TLS", &c.SMTP.TLS)
	applyPort("MAILROOM_IMAP_PORT", &c.IMAP.Port)
	applyPort("MAILROOM_IMAP_TLS_PORT", &c.IMAP.TLSPort)
	applyBool("MAILROOM_IMAP_TLS", &c.IMAP.TLS)
	if v := os.Getenv("MAILROOM_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

func applyPort(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			*dst = port
		}
	}
}

func applyBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
