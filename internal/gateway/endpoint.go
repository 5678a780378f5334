package gateway

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/danmuck/reportgate/internal/identity"
	"github.com/danmuck/reportgate/internal/protocol/session"
	"github.com/quic-go/quic-go"
)

// Endpoint is a bound QUIC listener presenting one TLS identity.
type Endpoint struct {
	ln          *quic.Listener
	fingerprint string
}

// Listen binds addr with default session settings.
func Listen(addr string, source identity.Source) (*Endpoint, error) {
	return ListenWithConfig(addr, source, session.DefaultConfig())
}

// ListenWithConfig binds addr. Identity failures wrap session.ErrTLS, bind
// failures wrap session.ErrConnection.
func ListenWithConfig(addr string, source identity.Source, cfg session.Config) (*Endpoint, error) {
	cfg = cfg.WithDefaults()
	if source == nil {
		return nil, fmt.Errorf("%w: gateway: nil identity source", session.ErrTLS)
	}
	cert, err := source.Certificate()
	if err != nil {
		return nil, fmt.Errorf("gateway: identity: %w", err)
	}
	fingerprint, err := identity.LeafFingerprint(cert)
	if err != nil {
		return nil, err
	}

	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{cfg.ALPN},
	}
	ln, err := quic.ListenAddr(addr, tlsCfg, cfg.QUICConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: gateway: listen %s: %w", session.ErrConnection, addr, err)
	}
	return &Endpoint{ln: ln, fingerprint: fingerprint}, nil
}

func (e *Endpoint) Addr() net.Addr {
	return e.ln.Addr()
}

// Fingerprint is the hex SHA-256 of the presented leaf, the value a pinned
// client configures.
func (e *Endpoint) Fingerprint() string {
	return e.fingerprint
}

func (e *Endpoint) Close() error {
	return e.ln.Close()
}
