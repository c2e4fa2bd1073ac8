package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/obsidianstack/reporter/agent/internal/trust"
	"github.com/obsidianstack/reporter/pkg/types"
)

// DefaultTimeout bounds the dial plus handshake when Probe is given zero.
const DefaultTimeout = 10 * time.Second

// ExpiryWarning is how close to NotAfter a certificate is reported as expiring.
const ExpiryWarning = 30 * 24 * time.Hour

// Probe dials endpoint and returns a CertStatus describing the leaf
// certificate it presents.
//
// The handshake itself never verifies, so the leaf can be inspected even when
// it is untrusted. Under trust.Strict the chain and hostname are then verified
// against the system roots; under trust.Permissive only the validity window
// is reported. Plain http endpoints report CertPlaintext.
func Probe(ctx context.Context, endpoint string, policy trust.Policy, timeout time.Duration) types.CertStatus {
	return probe(ctx, endpoint, policy, timeout, trust.SystemRoots)
}

func probe(ctx context.Context, endpoint string, policy trust.Policy, timeout time.Duration, roots trust.RootLoader) types.CertStatus {
	cs := types.CertStatus{
		Endpoint: endpoint,
		Policy:   policy.String(),
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		cs.Status = types.CertUnreachable
		cs.Error = fmt.Sprintf("invalid endpoint %q", endpoint)
		return cs
	}
	if u.Scheme == "http" {
		cs.Status = types.CertPlaintext
		return cs
	}

	host := dialAddress(u)

	cfg, err := policy.TLSConfig(roots)
	if err != nil {
		cs.Status = types.CertUnreachable
		cs.Error = err.Error()
		return cs
	}
	pool := cfg.RootCAs
	cfg.InsecureSkipVerify = true //nolint:gosec // verified below for Strict
	cfg.ServerName = u.Hostname()

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    cfg,
	}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = types.CertUnreachable
		cs.Error = err.Error()
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = types.CertUnreachable
		cs.Error = "no peer certificate"
		return cs
	}

	leaf := peerCerts[0]
	now := time.Now()
	remaining := leaf.NotAfter.Sub(now)

	cs.Subject = leaf.Subject.CommonName
	cs.Issuer = leaf.Issuer.CommonName
	cs.DNSNames = leaf.DNSNames
	cs.NotAfter = leaf.NotAfter.UTC()
	cs.DaysLeft = int(math.Floor(remaining.Hours() / 24))

	if policy.Verifies() {
		intermediates := x509.NewCertPool()
		for _, c := range peerCerts[1:] {
			intermediates.AddCert(c)
		}
		_, err := leaf.Verify(x509.VerifyOptions{
			Roots:         pool,
			Intermediates: intermediates,
			DNSName:       u.Hostname(),
			CurrentTime:   now,
		})
		var invalid x509.CertificateInvalidError
		switch {
		case errors.As(err, &invalid) && invalid.Reason == x509.Expired:
			// Falls through to the window check below.
		case err != nil:
			cs.Status = types.CertUntrusted
			cs.Error = err.Error()
			return cs
		}
	}

	switch {
	case now.Before(leaf.NotBefore):
		cs.Status = types.CertUntrusted
		cs.Error = "certificate is not yet valid"
	case remaining <= 0:
		cs.Status = types.CertExpired
	case remaining <= ExpiryWarning:
		cs.Status = types.CertExpiring
	default:
		cs.Status = types.CertValid
	}
	return cs
}

// dialAddress returns host:port for u, defaulting the port to 443.
func dialAddress(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
