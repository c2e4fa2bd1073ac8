package trust

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestResolve(t *testing.T) {
	assert.Equal(t, Strict, Resolve(true).Mode())
	assert.Equal(t, Permissive, Resolve(false).Mode())
	assert.True(t, Resolve(true).Verifies())
	assert.False(t, Resolve(false).Verifies())
}

func TestZeroPolicyIsStrict(t *testing.T) {
	var p Policy
	assert.Equal(t, Strict, p.Mode())
	assert.Equal(t, "strict", p.String())
}

func TestResolve_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		verify := rapid.Bool().Draw(t, "verify")
		p := Resolve(verify)

		if p.Verifies() != verify {
			t.Fatalf("Resolve(%v).Verifies() = %v", verify, p.Verifies())
		}

		cfg, err := p.TLSConfig(func() (*x509.CertPool, error) { return x509.NewCertPool(), nil })
		if err != nil {
			t.Fatalf("TLSConfig: %v", err)
		}
		if cfg.InsecureSkipVerify == verify {
			t.Fatalf("InsecureSkipVerify = %v for verify=%v", cfg.InsecureSkipVerify, verify)
		}
		if cfg.MinVersion != tls.VersionTLS12 {
			t.Fatalf("MinVersion = %x", cfg.MinVersion)
		}
	})
}

func TestTLSConfig_StrictUsesLoader(t *testing.T) {
	pool := x509.NewCertPool()
	calls := 0
	cfg, err := Resolve(true).TLSConfig(func() (*x509.CertPool, error) {
		calls++
		return pool, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Same(t, pool, cfg.RootCAs)
	assert.False(t, cfg.InsecureSkipVerify)
}

func TestTLSConfig_StrictLoaderFailure(t *testing.T) {
	boom := errors.New("trust store unreadable")
	cfg, err := Resolve(true).TLSConfig(func() (*x509.CertPool, error) { return nil, boom })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, cfg)
}

func TestTLSConfig_PermissiveSkipsLoader(t *testing.T) {
	cfg, err := Resolve(false).TLSConfig(func() (*x509.CertPool, error) {
		t.Fatal("loader called for permissive policy")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Nil(t, cfg.RootCAs)
}

func TestTLSConfig_Fresh(t *testing.T) {
	a, err := Resolve(false).TLSConfig(nil)
	require.NoError(t, err)
	b, err := Resolve(false).TLSConfig(nil)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}
