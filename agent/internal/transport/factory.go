package transport

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/obsidianstack/reporter/agent/internal/config"
	"github.com/obsidianstack/reporter/agent/internal/trust"
)

// IdleConnTimeout is how long an unused pooled connection is kept.
const IdleConnTimeout = 90 * time.Second

// DefaultUserAgent is sent when WithUserAgent is not given.
const DefaultUserAgent = "reporter-agent"

// Settings are the effective transport limits after defaults are applied.
type Settings struct {
	ConnectTimeout        time.Duration
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	MaxIdleConnections    int
	MaxConnectionsPerHost int
}

type options struct {
	registerer prometheus.Registerer
	roots      trust.RootLoader
	userAgent  string
}

// Option customises Build.
type Option func(*options)

// WithRegisterer registers the client's metrics on reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// withRootLoader replaces the system trust store for Strict policies.
func withRootLoader(l trust.RootLoader) Option {
	return func(o *options) { o.roots = l }
}

// Build assembles a Client for cfg. It keeps no reference to cfg.
func Build(cfg config.ReporterConfig, opts ...Option) (*Client, error) {
	o := options{userAgent: DefaultUserAgent}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registerer == nil {
		o.registerer = prometheus.NewRegistry()
	}

	settings, err := resolveSettings(cfg)
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Op: "build", Err: err}
	}

	policy := trust.Resolve(cfg.VerifyServerCert)
	tlsCfg, err := policy.TLSConfig(o.roots)
	if err != nil {
		return nil, &Error{Kind: KindTLSSetup, Op: "build", Err: err}
	}

	c := &Client{
		policy:   policy,
		settings: settings,
		metrics:  newMetrics(o.registerer),
	}

	d := &countingDialer{
		dialer: &net.Dialer{
			Timeout:   settings.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		},
		writeTimeout: settings.WriteTimeout,
		onDial:       c.recordDial,
	}

	c.dialer = d

	base := cleanhttp.DefaultPooledTransport()
	base.DialContext = d.DialContext
	base.TLSClientConfig = tlsCfg
	// Dial and handshake each get the full connect timeout.
	base.TLSHandshakeTimeout = settings.ConnectTimeout
	base.ResponseHeaderTimeout = settings.ReadTimeout
	base.IdleConnTimeout = IdleConnTimeout
	base.MaxIdleConnsPerHost = settings.MaxIdleConnections
	base.MaxConnsPerHost = settings.MaxConnectionsPerHost
	c.transport = base

	c.http = &http.Client{
		Transport: &headerRoundTripper{
			base:      otelhttp.NewTransport(base),
			userAgent: o.userAgent,
		},
	}

	if policy.Verifies() {
		c.metrics.verificationDisabled.Set(0)
	} else {
		c.metrics.verificationDisabled.Set(1)
	}

	return c, nil
}

// resolveSettings validates cfg and fills zero values with defaults.
func resolveSettings(cfg config.ReporterConfig) (Settings, error) {
	if len(cfg.ServerURLs) == 0 {
		return Settings{}, fmt.Errorf("at least one server url is required")
	}
	for i, raw := range cfg.ServerURLs {
		if err := config.ValidateServerURL(raw); err != nil {
			return Settings{}, fmt.Errorf("server_urls[%d]: %w", i, err)
		}
	}

	s := Settings{
		ConnectTimeout:        cfg.ConnectTimeout,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		MaxIdleConnections:    cfg.MaxIdleConnections,
		MaxConnectionsPerHost: cfg.MaxConnectionsPerHost,
	}

	durations := []struct {
		name string
		val  *time.Duration
		def  time.Duration
	}{
		{"connect_timeout", &s.ConnectTimeout, config.DefaultConnectTimeout},
		{"read_timeout", &s.ReadTimeout, config.DefaultReadTimeout},
		{"write_timeout", &s.WriteTimeout, config.DefaultWriteTimeout},
	}
	for _, d := range durations {
		switch {
		case *d.val < 0:
			return Settings{}, fmt.Errorf("%s must not be negative, got %v", d.name, *d.val)
		case *d.val == 0:
			*d.val = d.def
		}
	}

	limits := []struct {
		name string
		val  *int
		def  int
	}{
		{"max_idle_connections", &s.MaxIdleConnections, config.DefaultMaxIdleConnections},
		{"max_connections_per_host", &s.MaxConnectionsPerHost, config.DefaultMaxConnectionsPerHost},
	}
	for _, l := range limits {
		switch {
		case *l.val < 0:
			return Settings{}, fmt.Errorf("%s must not be negative, got %d", l.name, *l.val)
		case *l.val == 0:
			*l.val = l.def
		}
	}

	return s, nil
}

// headerRoundTripper stamps agent headers onto every outgoing request.
type headerRoundTripper struct {
	base      http.RoundTripper
	userAgent string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}
