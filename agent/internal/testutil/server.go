package testutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

// TLSServer is an HTTPS test server that counts accepted connections.
type TLSServer struct {
	*httptest.Server
	conns atomic.Int64
}

// Conns returns the number of TCP connections the server accepted.
func (s *TLSServer) Conns() int64 { return s.conns.Load() }

// NewTLSServer starts an HTTPS server presenting cert. A nil handler answers 200.
// The server is closed on test cleanup.
func NewTLSServer(t testing.TB, cert tls.Certificate, h http.Handler) *TLSServer {
	t.Helper()
	if h == nil {
		h = OK()
	}
	s := &TLSServer{Server: httptest.NewUnstartedServer(h)}
	s.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			s.conns.Add(1)
		}
	}
	s.TLS = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	s.StartTLS()
	t.Cleanup(s.Close)
	return s
}

// OK answers every request with 200 and an empty body.
func OK() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// WithHost rewrites the host of rawURL, keeping its port.
func WithHost(t testing.TB, rawURL, host string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	u.Host = net.JoinHostPort(host, u.Port())
	return u.String()
}
