package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// ErrorKind categorises transport failures.
type ErrorKind string

const (
	// KindConfiguration marks malformed or out-of-range settings. Build only.
	KindConfiguration ErrorKind = "configuration"
	// KindTLSSetup marks a failure to initialise the local TLS context. Build only.
	KindTLSSetup ErrorKind = "tls_setup"
	// KindTLSHandshake marks a peer certificate rejected by a Strict policy.
	KindTLSHandshake ErrorKind = "tls_handshake"
	// KindTransport marks any other network failure (refused, reset, timeout).
	KindTransport ErrorKind = "transport"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrTLSSetup      = &Error{Kind: KindTLSSetup}
	ErrTLSHandshake  = &Error{Kind: KindTLSHandshake}
	ErrTransport     = &Error{Kind: KindTransport}
)

// ErrClosed is returned by Execute after Close.
var ErrClosed = errors.New("transport: client closed")

// Error is a categorised transport failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return fmt.Sprintf("transport: %s error", e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("transport: %s: %s error", e.Op, e.Kind)
	default:
		return fmt.Sprintf("transport: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels: a target *Error with no Op and no cause matches by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Retryable reports whether err is a per-request failure worth retrying later.
// Construction errors and ErrClosed are not.
func Retryable(err error) bool {
	return errors.Is(err, ErrTLSHandshake) || errors.Is(err, ErrTransport)
}

// classify wraps a request failure into TLSHandshake or Transport.
func classify(op string, err error) error {
	if isCertificateError(err) {
		return &Error{Kind: KindTLSHandshake, Op: op, Err: err}
	}
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// isCertificateError reports whether err stems from peer certificate
// verification: unknown authority, invalid (expired, not a CA, ...) or
// hostname mismatch.
func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostname x509.HostnameError
	if errors.As(err, &hostname) {
		return true
	}
	var invalid x509.CertificateInvalidError
	return errors.As(err, &invalid)
}
