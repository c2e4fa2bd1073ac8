// Package trust decides how the agent evaluates the collector's TLS certificate.
//
// The decision is a closed set of modes rather than a bare boolean:
//   - Strict: chain verification against the system trust store plus hostname
//     verification. This is the zero value.
//   - Permissive: any chain and any hostname are accepted. The session is still
//     encrypted; only peer authentication is waived.
//
// Resolve(verify) maps the verify_server_cert setting onto a Policy, and
// Policy.TLSConfig builds the matching *tls.Config. Permissive is only reachable
// through Resolve(false).
package trust
