// Package transport builds the HTTP(S) client the agent uses to reach the
// collector.
//
// Build(cfg) validates the reporter settings, resolves the trust policy from
// verify_server_cert and assembles a *Client around a pooled net/http transport
// (hashicorp/go-cleanhttp defaults). Construction problems surface immediately:
// ErrConfiguration for bad URLs or negative limits, ErrTLSSetup when the trust
// store cannot be loaded.
//
// A Client is safe for concurrent use and reuses connections per origin.
// Execute classifies failures as ErrTLSHandshake (certificate rejected under
// Strict) or ErrTransport (everything else) and never retries. Close moves the
// client to StateClosed, drops idle connections and rejects later requests with
// ErrClosed; requests already in flight run to completion.
//
// Timeouts:
//   - connect: TCP dial, and separately the TLS handshake (up to twice the value overall)
//   - read: wait for response headers after the request is written
//   - write: deadline applied to every socket write
package transport
