package session

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSecurityMode         = errors.New("session: invalid security mode")
	ErrInvalidTrustPolicy          = errors.New("session: invalid trust policy")
	ErrPinnedFingerprintRequired   = errors.New("session: pinned fingerprint required")
	ErrInvalidPinnedFingerprint    = errors.New("session: pinned fingerprint must be hex sha-256")
	ErrInsecureTrustNotAllowed     = errors.New("session: trust policy not allowed in production")
	ErrGeneratedIdentityNotAllowed = errors.New("session: generated identity not allowed in production")
	ErrTLSCertFileRequired         = errors.New("session: tls cert file required")
	ErrTLSKeyFileRequired          = errors.New("session: tls key file required")
)

func NormalizeSecurityMode(mode SecurityMode) SecurityMode {
	if strings.TrimSpace(string(mode)) == "" {
		return SecurityModeDevelopment
	}
	return SecurityMode(strings.ToLower(strings.TrimSpace(string(mode))))
}

func NormalizeTrustPolicy(policy TrustPolicy) TrustPolicy {
	if strings.TrimSpace(string(policy)) == "" {
		return TrustChain
	}
	return TrustPolicy(strings.ToLower(strings.TrimSpace(string(policy))))
}

// NormalizeFingerprint lowercases a hex SHA-256 and strips ':' separators.
func NormalizeFingerprint(raw string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), ":", ""))
}

func validateMode(mode SecurityMode) (SecurityMode, error) {
	normalized := NormalizeSecurityMode(mode)
	switch normalized {
	case SecurityModeDevelopment, SecurityModeProduction:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSecurityMode, mode)
	}
}

// ValidateClientTransport checks the trust policy against the security mode.
// Production accepts only chain and pinned trust.
func (c Config) ValidateClientTransport() error {
	mode, err := validateMode(c.SecurityMode)
	if err != nil {
		return err
	}

	trust := NormalizeTrustPolicy(c.TLS.Trust)
	switch trust {
	case TrustChain, TrustPinned, TrustTOFU, TrustInsecure:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTrustPolicy, c.TLS.Trust)
	}

	if mode == SecurityModeProduction && (trust == TrustTOFU || trust == TrustInsecure) {
		return fmt.Errorf("%w: %s", ErrInsecureTrustNotAllowed, trust)
	}
	if trust == TrustPinned {
		pin := NormalizeFingerprint(c.TLS.PinnedFingerprint)
		if pin == "" {
			return ErrPinnedFingerprintRequired
		}
		if raw, err := hex.DecodeString(pin); err != nil || len(raw) != 32 {
			return fmt.Errorf("%w: %q", ErrInvalidPinnedFingerprint, c.TLS.PinnedFingerprint)
		}
	}
	return nil
}

// ValidateServerTransport requires a loaded identity in production.
func (c Config) ValidateServerTransport() error {
	mode, err := validateMode(c.SecurityMode)
	if err != nil {
		return err
	}

	certFile := strings.TrimSpace(c.TLS.CertFile)
	keyFile := strings.TrimSpace(c.TLS.KeyFile)
	if certFile == "" && keyFile == "" {
		if mode == SecurityModeProduction {
			return ErrGeneratedIdentityNotAllowed
		}
		return nil
	}
	if certFile == "" {
		return ErrTLSCertFileRequired
	}
	if keyFile == "" {
		return ErrTLSKeyFileRequired
	}
	return nil
}
