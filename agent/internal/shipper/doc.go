// Package shipper sends buffered events to the collector's intake endpoint
// (POST <server_url>/intake/v2/events) through a transport.Client.
//
// Shipper.Ship() is non-blocking: events are placed in an in-memory channel
// (capacity reporter.buffer_size). When the buffer is full the oldest entry is
// evicted so the latest data is always preserved.
//
// Shipper.Run() flushes every reporter.flush_interval. A request body is NDJSON:
// one metadata line followed by one line per event, gzip-compressed unless
// disable_compression is set. Retryable failures (TLS handshake rejection,
// network errors, 408, 429, 5xx) keep the batch, fail over to the next server
// URL and back off exponentially (1s→60s, ±25% jitter). Permanent rejections
// (other 4xx) discard the batch.
//
// Reconfigure() swaps in a client built from a reloaded config and returns the
// previous one so the caller can close it.
package shipper
