// Package identity provisions the TLS certificate a gateway presents.
//
// A Source yields one tls.Certificate. Generated builds an ephemeral
// self-signed ECDSA P-256 leaf for development; Loaded reads a PEM pair from
// disk. Every failure wraps session.ErrTLS.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/danmuck/reportgate/internal/protocol/session"
)

const (
	DefaultHost     = "localhost"
	DefaultValidity = 24 * time.Hour
	// backdate absorbs clock skew between gateway and workers.
	backdate = time.Minute
)

type Source interface {
	Certificate() (tls.Certificate, error)
}

// Generated is a self-signed development identity.
type Generated struct {
	Hosts    []string
	Validity time.Duration
}

func (g Generated) Certificate() (tls.Certificate, error) {
	certPEM, keyPEM, err := Generate(g.Hosts, g.Validity)
	if err != nil {
		return tls.Certificate{}, err
	}
	return parsePair(certPEM, keyPEM)
}

// Loaded reads a PEM certificate chain and private key from disk.
type Loaded struct {
	CertFile string
	KeyFile  string
}

func (l Loaded) Certificate() (tls.Certificate, error) {
	if strings.TrimSpace(l.CertFile) == "" || strings.TrimSpace(l.KeyFile) == "" {
		return tls.Certificate{}, fmt.Errorf("%w: cert and key files required", session.ErrTLS)
	}
	cert, err := tls.LoadX509KeyPair(l.CertFile, l.KeyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: load %s: %w", session.ErrTLS, l.CertFile, err)
	}
	return withLeaf(cert)
}

// FromConfig picks Loaded when files are configured, else Generated.
func FromConfig(cfg session.TLSConfig) Source {
	if strings.TrimSpace(cfg.CertFile) != "" || strings.TrimSpace(cfg.KeyFile) != "" {
		return Loaded{CertFile: cfg.CertFile, KeyFile: cfg.KeyFile}
	}
	return Generated{Hosts: cfg.GeneratedHosts}
}

// Generate returns a PEM encoded self-signed certificate and PKCS#8 key.
// IP literals in hosts become IP SANs, everything else a DNS SAN.
func Generate(hosts []string, validity time.Duration) (certPEM []byte, keyPEM []byte, err error) {
	if len(hosts) == 0 {
		hosts = []string{DefaultHost}
	}
	if validity <= 0 {
		validity = DefaultValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generate key: %w", session.ErrTLS, err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: serial: %w", session.ErrTLS, err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hosts[0]},
		NotBefore:             now.Add(-backdate),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
			continue
		}
		template.DNSNames = append(template.DNSNames, h)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create certificate: %w", session.ErrTLS, err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: marshal key: %w", session.ErrTLS, err)
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// Fingerprint is the lowercase hex SHA-256 of a DER certificate.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// LeafFingerprint fingerprints the first certificate of cert.
func LeafFingerprint(cert tls.Certificate) (string, error) {
	if len(cert.Certificate) == 0 {
		return "", fmt.Errorf("%w: empty certificate chain", session.ErrTLS)
	}
	return Fingerprint(cert.Certificate[0]), nil
}

func parsePair(certPEM []byte, keyPEM []byte) (tls.Certificate, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: key pair: %w", session.ErrTLS, err)
	}
	return withLeaf(cert)
}

func withLeaf(cert tls.Certificate) (tls.Certificate, error) {
	if cert.Leaf != nil {
		return cert, nil
	}
	if len(cert.Certificate) == 0 {
		return tls.Certificate{}, fmt.Errorf("%w: empty certificate chain", session.ErrTLS)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: parse leaf: %w", session.ErrTLS, err)
	}
	cert.Leaf = leaf
	return cert, nil
}
