package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Hostname != "localhost" {
		t.Errorf("Hostname = %q", cfg.Hostname)
	}
	if !cfg.DevelopmentMode {
		t.Error("DevelopmentMode should default to true")
	}
	if cfg.SMTP.Addr() != "0.0.0.0:2525" {
		t.Errorf("SMTP addr = %q", cfg.SMTP.Addr())
	}
	if cfg.IMAP.Addr() != "0.0.0.0:1143" {
		t.Errorf("IMAP addr = %q", cfg.IMAP.Addr())
	}
}

func TestListenerAddrHonorsTLS(t *testing.T) {
	l := ListenerConfig{Host: "127.0.0.1", Port: 2525, TLSPort: 4650}
	if l.Addr() != "127.0.0.1:2525" {
		t.Errorf("Addr = %q", l.Addr())
	}
	l.TLS = true
	if l.Addr() != "127.0.0.1:4650" {
		t.Errorf("TLS Addr = %q", l.Addr())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
hostname: mail.example.com
development_mode: false
smtp:
  host: 10.0.0.1
  port: 25
imap:
  port: 143
metrics_addr: ":9090"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Hostname != "mail.example.com" {
		t.Errorf("Hostname = %q", cfg.Hostname)
	}
	if cfg.DevelopmentMode {
		t.Error("DevelopmentMode should be false")
	}
	if cfg.SMTP.Addr() != "10.0.0.1:25" {
		t.Errorf("SMTP addr = %q", cfg.SMTP.Addr())
	}
	if cfg.IMAP.Port != 143 {
		t.Errorf("IMAP port = %d", cfg.IMAP.Port)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAILROOM_HOSTNAME", "env.example.com")
	t.Setenv("MAILROOM_DEVELOPMENT_MODE", "false")
	t.Setenv("MAILROOM_HOST", "192.168.1.5")
	t.Setenv("MAILROOM_SMTP_PORT", "2626")
	t.Setenv("MAILROOM_IMAP_TLS", "true")
	t.Setenv("MAILROOM_IMAP_TLS_PORT", "9999")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Hostname != "env.example.com" {
		t.Errorf("Hostname = %q", cfg.Hostname)
	}
	if cfg.DevelopmentMode {
		t.Error("DevelopmentMode should be false")
	}
	if cfg.SMTP.Addr() != "192.168.1.5:2626" {
		t.Errorf("SMTP addr = %q", cfg.SMTP.Addr())
	}
	if cfg.IMAP.Addr() != "192.168.1.5:9999" {
		t.Errorf("IMAP addr = %q", cfg.IMAP.Addr())
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	t.Setenv("MAILROOM_SMTP_PORT", "notaport")
	t.Setenv("MAILROOM_DEVELOPMENT_MODE", "maybe")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.SMTP.Port != 2525 {
		t.Errorf("SMTP port = %d, want default", cfg.SMTP.Port)
	}
	if !cfg.DevelopmentMode {
		t.Error("DevelopmentMode should keep its default")
	}
}
