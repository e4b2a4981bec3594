package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tdispd/internal/service"
	"github.com/danmuck/tdispd/internal/transport"
)

// tdispd config.toml key mapping to service settings.
type fileConfig struct {
	ID                   string   `toml:"id"`
	DeviceConfigPath     string   `toml:"device_config_path"`
	TransportNetwork     string   `toml:"transport_network"`
	TransportAddr        string   `toml:"transport_addr"`
	TransportSecurity    string   `toml:"transport_security_mode"`
	TransportTLSEnabled  bool     `toml:"transport_tls_enabled"`
	TransportTLSMutual   bool     `toml:"transport_tls_mutual"`
	TransportTLSCertFile string   `toml:"transport_tls_cert_file"`
	TransportTLSKeyFile  string   `toml:"transport_tls_key_file"`
	TransportTLSCAFile   string   `toml:"transport_tls_ca_file"`
	AdminListenAddr      string   `toml:"admin_listen_addr"`
	AdminToken           string   `toml:"admin_token"`
	CORSOrigins          []string `toml:"cors_origins"`
	ShutdownTimeout      string   `toml:"shutdown_timeout"`
}

// loadServiceConfig overlays path on service.DefaultServiceConfig. Relative
// file paths resolve against the config file's directory.
func loadServiceConfig(path string) (service.ServiceConfig, error) {
	cfg := service.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return service.ServiceConfig{}, fmt.Errorf("load tdispd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return service.ServiceConfig{}, fmt.Errorf("load tdispd config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("device_config_path") {
		cfg.DeviceConfigPath = strings.TrimSpace(raw.DeviceConfigPath)
	}
	if meta.IsDefined("transport_network") {
		cfg.TransportNetwork = strings.TrimSpace(raw.TransportNetwork)
	}
	if meta.IsDefined("transport_addr") {
		cfg.TransportAddr = strings.TrimSpace(raw.TransportAddr)
	}
	if meta.IsDefined("transport_security_mode") {
		cfg.Security.Mode = transport.SecurityMode(strings.TrimSpace(raw.TransportSecurity))
	}
	if meta.IsDefined("transport_tls_enabled") {
		cfg.Security.TLS.Enabled = raw.TransportTLSEnabled
	}
	if meta.IsDefined("transport_tls_mutual") {
		cfg.Security.TLS.Mutual = raw.TransportTLSMutual
	}
	if meta.IsDefined("transport_tls_cert_file") {
		cfg.Security.TLS.CertFile = strings.TrimSpace(raw.TransportTLSCertFile)
	}
	if meta.IsDefined("transport_tls_key_file") {
		cfg.Security.TLS.KeyFile = strings.TrimSpace(raw.TransportTLSKeyFile)
	}
	if meta.IsDefined("transport_tls_ca_file") {
		cfg.Security.TLS.CAFile = strings.TrimSpace(raw.TransportTLSCAFile)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil || d <= 0 {
			return service.ServiceConfig{}, fmt.Errorf("load tdispd config: invalid shutdown_timeout %q", raw.ShutdownTimeout)
		}
		cfg.ShutdownTimeout = d
	}

	if cfg.DeviceConfigPath == "" {
		return service.ServiceConfig{}, fmt.Errorf("load tdispd config: device_config_path is required")
	}
	base := filepath.Dir(path)
	cfg.DeviceConfigPath = resolve(base, cfg.DeviceConfigPath)
	cfg.Security.TLS.CertFile = resolve(base, cfg.Security.TLS.CertFile)
	cfg.Security.TLS.KeyFile = resolve(base, cfg.Security.TLS.KeyFile)
	cfg.Security.TLS.CAFile = resolve(base, cfg.Security.TLS.CAFile)

	if err := cfg.Security.ValidateServer(); err != nil {
		return service.ServiceConfig{}, fmt.Errorf("load tdispd config: %w", err)
	}
	if _, err := os.Stat(cfg.DeviceConfigPath); err != nil {
		return service.ServiceConfig{}, fmt.Errorf("load tdispd config: device config path %q: %w", cfg.DeviceConfigPath, err)
	}
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
