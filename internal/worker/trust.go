package worker

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/danmuck/reportgate/internal/identity"
	"github.com/danmuck/reportgate/internal/protocol/session"
)

var (
	ErrFingerprintMismatch = errors.New("worker: gateway certificate fingerprint mismatch")
	ErrNoPeerCertificate   = errors.New("worker: gateway presented no certificate")
)

// clientTLSConfig builds the dial config for addr under the configured trust
// policy. Pinned and tofu skip chain validation and check the leaf
// fingerprint instead.
func clientTLSConfig(cfg session.Config, addr string, known KnownHosts) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS13,
		NextProtos: []string{cfg.ALPN},
	}

	serverName := strings.TrimSpace(cfg.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: worker: address %q: %w", session.ErrConnection, addr, err)
		}
		serverName = host
	}
	tlsCfg.ServerName = serverName

	switch session.NormalizeTrustPolicy(cfg.TLS.Trust) {
	case session.TrustChain:
		if caFile := strings.TrimSpace(cfg.TLS.CAFile); caFile != "" {
			pool, err := loadCertPool(caFile)
			if err != nil {
				return nil, err
			}
			tlsCfg.RootCAs = pool
		}
	case session.TrustPinned:
		pin := session.NormalizeFingerprint(cfg.TLS.PinnedFingerprint)
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			got, err := leafFingerprint(rawCerts)
			if err != nil {
				return err
			}
			if got != pin {
				return fmt.Errorf("%w: %w: got %s", session.ErrTLS, ErrFingerprintMismatch, got)
			}
			return nil
		}
	case session.TrustTOFU:
		if known == nil {
			return nil, fmt.Errorf("%w: worker: tofu trust requires a known hosts store", session.ErrTLS)
		}
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			got, err := leafFingerprint(rawCerts)
			if err != nil {
				return err
			}
			want, ok, err := known.Lookup(addr)
			if err != nil {
				return fmt.Errorf("%w: %w", session.ErrTLS, err)
			}
			if !ok {
				return known.Remember(addr, got)
			}
			if session.NormalizeFingerprint(want) != got {
				return fmt.Errorf("%w: %w: host %s changed certificate", session.ErrTLS, ErrFingerprintMismatch, addr)
			}
			return nil
		}
	case session.TrustInsecure:
		tlsCfg.InsecureSkipVerify = true
	default:
		return nil, fmt.Errorf("%w: %q", session.ErrInvalidTrustPolicy, cfg.TLS.Trust)
	}
	return tlsCfg, nil
}

func leafFingerprint(rawCerts [][]byte) (string, error) {
	if len(rawCerts) == 0 {
		return "", fmt.Errorf("%w: %w", session.ErrTLS, ErrNoPeerCertificate)
	}
	return identity.Fingerprint(rawCerts[0]), nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read ca bundle: %w", session.ErrTLS, err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("%w: parse ca bundle: %s", session.ErrTLS, path)
	}
	return pool, nil
}
