package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/tdispd/internal/config"
	"github.com/danmuck/tdispd/internal/testutil/testlog"
	"github.com/danmuck/tdispd/internal/transport"
)

func writeConfigs(t *testing.T, daemon string) string {
	t.Helper()
	dir := t.TempDir()
	if err := config.WriteTemplate(filepath.Join(dir, "device.toml"), "device", false); err != nil {
		t.Fatalf("write device template: %v", err)
	}
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(daemon), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigTemplate(t *testing.T) {
	testlog.Start(t)
	daemon, err := config.Template("daemon")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	path := writeConfigs(t, daemon)

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ID != "tdispd" || cfg.TransportAddr != "127.0.0.1:7300" || cfg.AdminListenAddr != "127.0.0.1:7310" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if want := filepath.Join(filepath.Dir(path), "device.toml"); cfg.DeviceConfigPath != want {
		t.Fatalf("expected device path %q, got %q", want, cfg.DeviceConfigPath)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected shutdown timeout %v", cfg.ShutdownTimeout)
	}
	if _, err := config.LoadDeviceConfig(cfg.DeviceConfigPath); err != nil {
		t.Fatalf("device config: %v", err)
	}
}

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfigs(t, `
device_config_path = "device.toml"
transport_network = "unix"
transport_addr = "/run/tdispd.sock"
transport_security_mode = "production"
transport_tls_enabled = true
transport_tls_mutual = true
transport_tls_cert_file = "certs/server.crt"
transport_tls_key_file = "/etc/tdispd/server.key"
transport_tls_ca_file = "certs/ca.crt"
admin_token = "  token  "
`)
	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ID != "tdispd" {
		t.Fatalf("expected default id, got %q", cfg.ID)
	}
	if cfg.TransportNetwork != "unix" || cfg.TransportAddr != "/run/tdispd.sock" {
		t.Fatalf("unexpected transport: %s %s", cfg.TransportNetwork, cfg.TransportAddr)
	}
	if cfg.Security.Mode != transport.SecurityModeProduction || !cfg.Security.TLS.Mutual {
		t.Fatalf("unexpected security: %+v", cfg.Security)
	}
	dir := filepath.Dir(path)
	if cfg.Security.TLS.CertFile != filepath.Join(dir, "certs/server.crt") {
		t.Fatalf("expected relative cert path resolved, got %q", cfg.Security.TLS.CertFile)
	}
	if cfg.Security.TLS.KeyFile != "/etc/tdispd/server.key" {
		t.Fatalf("expected absolute key path kept, got %q", cfg.Security.TLS.KeyFile)
	}
	if cfg.AdminToken != "token" {
		t.Fatalf("expected trimmed token, got %q", cfg.AdminToken)
	}
}

func TestLoadServiceConfigRejects(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"production without tls": `transport_security_mode = "production"`,
		"unknown key":            `listen = "0.0.0.0:1"`,
		"missing device file":    `device_config_path = "nope.toml"`,
		"bad shutdown timeout":   `shutdown_timeout = "soon"`,
		"empty device path":      `device_config_path = ""`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadServiceConfig(writeConfigs(t, content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	_, err := loadServiceConfig(writeConfigs(t, `transport_security_mode = "production"`))
	if !errors.Is(err, transport.ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
}
