package session

import (
	"time"

	"github.com/danmuck/reportgate/internal/protocol/frame"
	"github.com/quic-go/quic-go"
)

// ALPN pins the wire format version. Peers proposing anything else fail the
// TLS handshake.
const ALPN = "reportgate/1"

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TrustPolicy selects how a client verifies the gateway certificate.
type TrustPolicy string

const (
	TrustChain    TrustPolicy = "chain"
	TrustPinned   TrustPolicy = "pinned"
	TrustTOFU     TrustPolicy = "tofu"
	TrustInsecure TrustPolicy = "insecure"
)

// TLSConfig carries certificate material and the client trust policy.
type TLSConfig struct {
	// Server identity. Empty files mean a generated self-signed identity.
	CertFile string
	KeyFile  string

	// Client trust.
	CAFile            string
	ServerName        string // defaults to the host part of the dial address
	Trust             TrustPolicy
	PinnedFingerprint string
	KnownHostsFile    string

	// Hosts for a generated identity.
	GeneratedHosts []string
}

// Config defines transport/session defaults.
type Config struct {
	ALPN             string
	HandshakeTimeout time.Duration
	StreamTimeout    time.Duration
	MaxIdleTimeout   time.Duration
	KeepAlivePeriod  time.Duration
	Limits           frame.Limits
	SecurityMode     SecurityMode
	TLS              TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ALPN:             ALPN,
		HandshakeTimeout: 5 * time.Second,
		StreamTimeout:    15 * time.Second,
		MaxIdleTimeout:   30 * time.Second,
		KeepAlivePeriod:  0,
		Limits:           frame.DefaultLimits(),
		SecurityMode:     SecurityModeDevelopment,
		TLS: TLSConfig{
			Trust:          TrustChain,
			GeneratedHosts: []string{"localhost"},
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ALPN == "" {
		c.ALPN = def.ALPN
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = def.StreamTimeout
	}
	if c.MaxIdleTimeout <= 0 {
		c.MaxIdleTimeout = def.MaxIdleTimeout
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	c.TLS.Trust = NormalizeTrustPolicy(c.TLS.Trust)
	if len(c.TLS.GeneratedHosts) == 0 {
		c.TLS.GeneratedHosts = def.TLS.GeneratedHosts
	}
	return c
}

// QUICConfig maps the session timeouts onto a quic-go config. Each side
// accepts at most one bidirectional stream per connection.
func (c Config) QUICConfig() *quic.Config {
	c = c.WithDefaults()
	return &quic.Config{
		HandshakeIdleTimeout: c.HandshakeTimeout,
		MaxIdleTimeout:       c.MaxIdleTimeout,
		KeepAlivePeriod:      c.KeepAlivePeriod,
		MaxIncomingStreams:   1,
	}
}
