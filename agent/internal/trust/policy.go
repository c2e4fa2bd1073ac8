package trust

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// MinTLSVersion is negotiated by every policy.
const MinTLSVersion = tls.VersionTLS12

// Mode identifies a trust evaluation strategy.
type Mode uint8

const (
	// Strict verifies the certificate chain and the hostname.
	Strict Mode = iota
	// Permissive accepts any certificate chain and any hostname.
	Permissive
)

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Permissive:
		return "permissive"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Policy is an immutable trust decision for one client.
type Policy struct {
	mode Mode
}

// Resolve returns Strict when verify is true and Permissive otherwise.
func Resolve(verify bool) Policy {
	if verify {
		return Policy{mode: Strict}
	}
	return Policy{mode: Permissive}
}

// Mode returns the policy's mode.
func (p Policy) Mode() Mode { return p.mode }

// Verifies reports whether the policy authenticates the peer.
func (p Policy) Verifies() bool { return p.mode == Strict }

func (p Policy) String() string { return p.mode.String() }

// RootLoader returns the trust anchors used by Strict.
type RootLoader func() (*x509.CertPool, error)

// SystemRoots loads the platform trust store.
func SystemRoots() (*x509.CertPool, error) {
	return x509.SystemCertPool()
}

// TLSConfig builds a client TLS configuration for the policy. A nil roots loader
// means SystemRoots. Permissive never calls the loader.
//
// The returned config is fresh on every call and safe to mutate.
func (p Policy) TLSConfig(roots RootLoader) (*tls.Config, error) {
	switch p.mode {
	case Strict:
		if roots == nil {
			roots = SystemRoots
		}
		pool, err := roots()
		if err != nil {
			return nil, fmt.Errorf("trust: load root certificates: %w", err)
		}
		return &tls.Config{
			RootCAs:    pool,
			MinVersion: MinTLSVersion,
		}, nil

	case Permissive:
		return &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // explicit opt-out via verify_server_cert: false
			MinVersion:         MinTLSVersion,
		}, nil

	default:
		return nil, fmt.Errorf("trust: unknown mode %s", p.mode)
	}
}
