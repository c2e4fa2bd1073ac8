package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/obsidianstack/reporter/agent/internal/config"
	"github.com/obsidianstack/reporter/agent/internal/trust"
)

func reporterCfg(verify bool, urls ...string) config.ReporterConfig {
	if len(urls) == 0 {
		urls = []string{"https://collector.example:8200"}
	}
	return config.ReporterConfig{
		ServerURLs:       urls,
		VerifyServerCert: verify,
	}
}

func TestBuild_Defaults(t *testing.T) {
	c, err := Build(reporterCfg(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.Equal(t, StateConstructed, c.State())
	assert.Equal(t, trust.Strict, c.Policy().Mode())
	assert.Equal(t, Settings{
		ConnectTimeout:        config.DefaultConnectTimeout,
		ReadTimeout:           config.DefaultReadTimeout,
		WriteTimeout:          config.DefaultWriteTimeout,
		MaxIdleConnections:    config.DefaultMaxIdleConnections,
		MaxConnectionsPerHost: config.DefaultMaxConnectionsPerHost,
	}, c.Settings())
}

func TestBuild_TransportWiring(t *testing.T) {
	cfg := reporterCfg(false)
	cfg.ConnectTimeout = 2 * time.Second
	cfg.ReadTimeout = 3 * time.Second
	cfg.WriteTimeout = 4 * time.Second
	cfg.MaxIdleConnections = 7
	cfg.MaxConnectionsPerHost = 9

	c, err := Build(cfg)
	require.NoError(t, err)

	tr := c.transport
	require.NotNil(t, tr.TLSClientConfig)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	// connect_timeout bounds each phase on its own.
	require.NotNil(t, c.dialer)
	assert.Equal(t, 2*time.Second, c.dialer.dialer.Timeout)
	assert.Equal(t, 2*time.Second, tr.TLSHandshakeTimeout)
	assert.Equal(t, 4*time.Second, c.dialer.writeTimeout)
	assert.Equal(t, 3*time.Second, tr.ResponseHeaderTimeout)
	assert.Equal(t, 7, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 9, tr.MaxConnsPerHost)
	assert.Equal(t, IdleConnTimeout, tr.IdleConnTimeout)
	assert.NotNil(t, tr.DialContext)
}

func TestBuild_StrictTransportVerifies(t *testing.T) {
	pool := x509.NewCertPool()
	c, err := Build(reporterCfg(true), withRootLoader(func() (*x509.CertPool, error) { return pool, nil }))
	require.NoError(t, err)

	assert.False(t, c.transport.TLSClientConfig.InsecureSkipVerify)
	assert.Same(t, pool, c.transport.TLSClientConfig.RootCAs)
}

func TestBuild_ClientsAreIndependent(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := Build(reporterCfg(true), WithRegisterer(reg))
	require.NoError(t, err)
	b, err := Build(reporterCfg(false), WithRegisterer(reg))
	require.NoError(t, err)

	assert.NotSame(t, a.transport, b.transport)
	assert.NotSame(t, a.transport.TLSClientConfig, b.transport.TLSClientConfig)
	assert.Equal(t, trust.Strict, a.Policy().Mode())
	assert.Equal(t, trust.Permissive, b.Policy().Mode())

	require.NoError(t, a.Close())
	assert.Equal(t, StateConstructed, b.State())
}

func TestBuild_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.ReporterConfig)
	}{
		{"no server urls", func(c *config.ReporterConfig) { c.ServerURLs = nil }},
		{"malformed url", func(c *config.ReporterConfig) { c.ServerURLs = []string{"https://[::1"} }},
		{"unsupported scheme", func(c *config.ReporterConfig) { c.ServerURLs = []string{"tcp://collector:8200"} }},
		{"relative url", func(c *config.ReporterConfig) { c.ServerURLs = []string{"/intake"} }},
		{"port without host", func(c *config.ReporterConfig) { c.ServerURLs = []string{"https://:443"} }},
		{"port and path without host", func(c *config.ReporterConfig) { c.ServerURLs = []string{"https://:8200/"} }},
		{"second url bad", func(c *config.ReporterConfig) {
			c.ServerURLs = []string{"https://ok:8200", "::::"}
		}},
		{"negative connect timeout", func(c *config.ReporterConfig) { c.ConnectTimeout = -time.Second }},
		{"negative read timeout", func(c *config.ReporterConfig) { c.ReadTimeout = -time.Millisecond }},
		{"negative write timeout", func(c *config.ReporterConfig) { c.WriteTimeout = -time.Minute }},
		{"negative idle connections", func(c *config.ReporterConfig) { c.MaxIdleConnections = -1 }},
		{"negative max connections", func(c *config.ReporterConfig) { c.MaxConnectionsPerHost = -3 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := reporterCfg(true)
			tc.mutate(&cfg)

			c, err := Build(cfg)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.NotErrorIs(t, err, ErrTLSSetup)
			assert.False(t, Retryable(err))
		})
	}
}

func TestBuild_NegativeTimeout_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := reporterCfg(rapid.Bool().Draw(t, "verify"))
		negative := time.Duration(rapid.Int64Range(-int64(time.Hour), -1).Draw(t, "timeout"))
		switch rapid.IntRange(0, 2).Draw(t, "field") {
		case 0:
			cfg.ConnectTimeout = negative
		case 1:
			cfg.ReadTimeout = negative
		default:
			cfg.WriteTimeout = negative
		}

		c, err := Build(cfg)
		if c != nil {
			t.Fatalf("Build returned a client for negative timeout %v", negative)
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("Build error = %v, want ErrConfiguration", err)
		}
	})
}

func TestBuild_TLSSetupError(t *testing.T) {
	unreadable := errors.New("open /etc/ssl/certs: permission denied")
	loader := func() (*x509.CertPool, error) { return nil, unreadable }

	c, err := Build(reporterCfg(true), withRootLoader(loader))
	require.Error(t, err)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrTLSSetup)
	assert.ErrorIs(t, err, unreadable)

	// Permissive never reads trust material.
	c, err = Build(reporterCfg(false), withRootLoader(loader))
	require.NoError(t, err)
	assert.Equal(t, trust.Permissive, c.Policy().Mode())
}

func TestBuild_DoesNotRetainConfig(t *testing.T) {
	cfg := reporterCfg(true, "https://a.example:8200")
	c, err := Build(cfg)
	require.NoError(t, err)

	cfg.ServerURLs[0] = "::::"
	cfg.ConnectTimeout = -1
	cfg.VerifyServerCert = false

	assert.Equal(t, trust.Strict, c.Policy().Mode())
	assert.Equal(t, config.DefaultConnectTimeout, c.Settings().ConnectTimeout)
}
