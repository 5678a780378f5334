package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/reportgate/internal/gateway"
	"github.com/danmuck/reportgate/internal/protocol/session"
)

// gatewayctl config.toml key mapping to gateway runtime settings.
type fileConfig struct {
	Addr                    string   `toml:"addr"`
	ID                      string   `toml:"id"`
	HistoryLimit            int      `toml:"history_limit"`
	ArchiveDir              string   `toml:"archive_dir"`
	AdminListenAddr         string   `toml:"admin_listen_addr"`
	AdminCorsOrigins        []string `toml:"admin_cors_origins"`
	AdminToken              string   `toml:"admin_token"`
	SessionSecurityMode     string   `toml:"session_security_mode"`
	SessionTLSCertFile      string   `toml:"session_tls_cert_file"`
	SessionTLSKeyFile       string   `toml:"session_tls_key_file"`
	SessionGeneratedHosts   []string `toml:"session_generated_hosts"`
	SessionHandshakeTimeout string   `toml:"session_handshake_timeout"`
	SessionStreamTimeout    string   `toml:"session_stream_timeout"`
	SessionIdleTimeout      string   `toml:"session_idle_timeout"`
	SessionMaxFrameBytes    uint32   `toml:"session_max_frame_bytes"`
}

// gatewayctl loader for TOML config with default overlay.
func loadServiceConfig(path string) (gateway.ServiceConfig, error) {
	cfg := gateway.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return gateway.ServiceConfig{}, fmt.Errorf("load gateway config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return gateway.ServiceConfig{}, fmt.Errorf("load gateway config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("id") {
		cfg.GatewayID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("history_limit") {
		if raw.HistoryLimit <= 0 {
			return gateway.ServiceConfig{}, fmt.Errorf("load gateway config: history_limit must be positive")
		}
		cfg.HistoryLimit = raw.HistoryLimit
	}
	if meta.IsDefined("archive_dir") {
		cfg.ArchiveDir = strings.TrimSpace(raw.ArchiveDir)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.Admin.ListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.Admin.CorsOrigins = raw.AdminCorsOrigins
	}
	if meta.IsDefined("admin_token") {
		cfg.Admin.Token = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("session_security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SessionSecurityMode))
	}
	if meta.IsDefined("session_tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.SessionTLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.SessionTLSKeyFile)
	}
	if meta.IsDefined("session_generated_hosts") {
		cfg.Session.TLS.GeneratedHosts = raw.SessionGeneratedHosts
	}
	if meta.IsDefined("session_handshake_timeout") {
		if cfg.Session.HandshakeTimeout, err = parseTimeout("session_handshake_timeout", raw.SessionHandshakeTimeout); err != nil {
			return gateway.ServiceConfig{}, err
		}
	}
	if meta.IsDefined("session_stream_timeout") {
		if cfg.Session.StreamTimeout, err = parseTimeout("session_stream_timeout", raw.SessionStreamTimeout); err != nil {
			return gateway.ServiceConfig{}, err
		}
	}
	if meta.IsDefined("session_idle_timeout") {
		if cfg.Session.MaxIdleTimeout, err = parseTimeout("session_idle_timeout", raw.SessionIdleTimeout); err != nil {
			return gateway.ServiceConfig{}, err
		}
	}
	if meta.IsDefined("session_max_frame_bytes") {
		cfg.Session.Limits.MaxPayloadBytes = raw.SessionMaxFrameBytes
	}

	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return gateway.ServiceConfig{}, fmt.Errorf("load gateway config: addr must not be empty")
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.ValidateServerTransport(); err != nil {
		return gateway.ServiceConfig{}, fmt.Errorf("load gateway config: %w", err)
	}
	return cfg, nil
}

func parseTimeout(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("load gateway config: %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("load gateway config: %s must be positive", key)
	}
	return d, nil
}
