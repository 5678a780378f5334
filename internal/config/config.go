// Package config loads the worker-side reportctl.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/reportgate/internal/protocol"
	"github.com/danmuck/reportgate/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

var ErrInvalidConfig = errors.New("config: invalid")

const (
	DefaultGatewayAddr   = "127.0.0.1:4433"
	DefaultChannelSource = "worker"
	DefaultTimeout       = 10 * time.Second
)

// WorkerConfig is the resolved reportctl configuration.
type WorkerConfig struct {
	GatewayAddr string
	WorkerID    string
	Image       string
	Channel     protocol.ChannelID
	Timeout     time.Duration
	Session     session.Config
}

type workerFile struct {
	GatewayAddr string `toml:"gateway_addr"`
	WorkerID    string `toml:"worker_id"`
	Image       string `toml:"image"`
	Channel     string `toml:"channel"`
	Timeout     string `toml:"timeout"`
	// MaxFrameBytes must match the gateway's session_max_frame_bytes.
	MaxFrameBytes uint32  `toml:"max_frame_bytes"`
	TLS           tlsFile `toml:"tls"`
}

type tlsFile struct {
	SecurityMode      string `toml:"security_mode"`
	Trust             string `toml:"trust"`
	CAFile            string `toml:"ca_file"`
	ServerName        string `toml:"server_name"`
	PinnedFingerprint string `toml:"pinned_fingerprint"`
	KnownHostsFile    string `toml:"known_hosts_file"`
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		GatewayAddr: DefaultGatewayAddr,
		Timeout:     DefaultTimeout,
		Session:     session.DefaultConfig(),
	}
}

func LoadWorkerConfig(path string) (WorkerConfig, error) {
	var raw workerFile
	if err := loadToml(path, &raw); err != nil {
		return WorkerConfig{}, err
	}
	return resolveWorkerConfig(raw)
}

// ParseWorkerConfig resolves a reportctl.toml document already in memory.
func ParseWorkerConfig(data []byte) (WorkerConfig, error) {
	var raw workerFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return WorkerConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	return resolveWorkerConfig(raw)
}

func resolveWorkerConfig(raw workerFile) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	if v := strings.TrimSpace(raw.GatewayAddr); v != "" {
		cfg.GatewayAddr = v
	}
	cfg.WorkerID = strings.TrimSpace(raw.WorkerID)
	cfg.Image = strings.TrimSpace(raw.Image)
	if v := strings.TrimSpace(raw.Timeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return WorkerConfig{}, fmt.Errorf("%w: timeout %q: %w", ErrInvalidConfig, v, err)
		}
		cfg.Timeout = d
	}
	if v := strings.TrimSpace(raw.Channel); v != "" {
		ch, err := protocol.ParseChannelID(v)
		if err != nil {
			return WorkerConfig{}, fmt.Errorf("%w: channel: %w", ErrInvalidConfig, err)
		}
		cfg.Channel = ch
	}

	if raw.MaxFrameBytes > 0 {
		cfg.Session.Limits.MaxPayloadBytes = raw.MaxFrameBytes
	}

	tls := &cfg.Session.TLS
	if v := strings.TrimSpace(raw.TLS.SecurityMode); v != "" {
		cfg.Session.SecurityMode = session.SecurityMode(v)
	}
	if v := strings.TrimSpace(raw.TLS.Trust); v != "" {
		tls.Trust = session.TrustPolicy(v)
	}
	tls.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	tls.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	tls.PinnedFingerprint = strings.TrimSpace(raw.TLS.PinnedFingerprint)
	tls.KnownHostsFile = strings.TrimSpace(raw.TLS.KnownHostsFile)
	cfg.Session = cfg.Session.WithDefaults()

	if err := ValidateWorkerConfig(cfg); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

// ValidateWorkerConfig checks the transport policy and the fields every
// submission needs. WorkerID and Image may still come from flags, so they are
// not required here.
func ValidateWorkerConfig(cfg WorkerConfig) error {
	if strings.TrimSpace(cfg.GatewayAddr) == "" {
		return fmt.Errorf("%w: gateway_addr is required", ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ChannelFor returns the configured channel, or worker:<workerID>.
func (c WorkerConfig) ChannelFor(workerID string) (protocol.ChannelID, error) {
	if !c.Channel.IsZero() {
		return c.Channel, nil
	}
	return protocol.NewChannelID(DefaultChannelSource, workerID)
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
