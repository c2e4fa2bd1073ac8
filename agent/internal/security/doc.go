// Package security inspects the TLS certificate a collector presents.
// Probe reports issuer, expiry and a status for the agent's startup log and
// the probe command. It never changes how the transport client verifies.
package security
