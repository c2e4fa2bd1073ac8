package shipper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/obsidianstack/reporter/agent/internal/config"
	"github.com/obsidianstack/reporter/agent/internal/transport"
	"github.com/obsidianstack/reporter/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
	drainTimeout      = 5 * time.Second
	maxBatch          = 500
	intakePath        = "/intake/v2/events"
)

// Shipper buffers events and ships them to the collector.
// Ship() is non-blocking; when the buffer is full the oldest event is evicted.
// Run() must be called in a goroutine to flush the buffer.
type Shipper struct {
	meta    types.Metadata
	buf     chan types.Event
	metrics *metrics

	mu      sync.Mutex
	cfg     config.ReporterConfig
	client  *transport.Client
	next    int           // index into cfg.ServerURLs
	pending []types.Event // batch kept after a retryable failure

	bo *backoff
}

// New creates a Shipper sending through client. Metrics are registered on reg;
// a nil reg uses a private registry.
func New(cfg config.ReporterConfig, client *transport.Client, meta types.Metadata, reg prometheus.Registerer) *Shipper {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &Shipper{
		meta:    meta,
		buf:     make(chan types.Event, size),
		metrics: newMetrics(reg),
		cfg:     cfg,
		client:  client,
		bo:      newBackoff(backoffInitial, backoffMax),
	}
}

// Ship enqueues an event. If the buffer is full the oldest entry is evicted to
// make room.
func (s *Shipper) Ship(ev types.Event) {
	for {
		select {
		case s.buf <- ev:
			return
		default:
		}
		// Buffer full: drop the oldest event, keep the newest.
		select {
		case <-s.buf:
			s.metrics.dropped.WithLabelValues("buffer_full").Inc()
			slog.Warn("shipper: buffer full, evicted oldest event", "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Reconfigure switches to cfg and client for subsequent flushes and returns the
// previous client. The buffer capacity is fixed at construction.
func (s *Shipper) Reconfigure(cfg config.ReporterConfig, client *transport.Client) *transport.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.client
	s.cfg = cfg
	s.client = client
	s.next = 0
	return prev
}

// Run flushes the buffer every flush interval until ctx is cancelled. After a
// failed flush the next attempt waits for the backoff delay instead.
// On cancellation Run makes a final bounded attempt to deliver everything still
// pending before it returns.
func (s *Shipper) Run(ctx context.Context) {
	wait := s.interval()
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.drain()
			return
		case <-timer.C:
		}

		err := s.Flush(ctx)
		if ctx.Err() != nil {
			s.drain()
			return
		}
		if err != nil {
			wait = s.bo.next()
			slog.Warn("shipper: flush failed, will retry",
				"err", err,
				"retry_in", wait)
			continue
		}
		s.bo.reset()
		wait = s.interval()
	}
}

// Flush sends up to one batch. It returns an error only for retryable failures;
// the batch is then kept for the next attempt and the next server URL is tried.
// Permanently rejected batches are discarded and reported as success.
func (s *Shipper) Flush(ctx context.Context) error {
	batch := s.takeBatch()
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	client := s.client
	cfg := s.cfg
	if len(cfg.ServerURLs) == 0 || client == nil {
		s.mu.Unlock()
		s.keep(batch)
		return errNoCollector
	}
	target := cfg.ServerURLs[s.next%len(cfg.ServerURLs)]
	s.mu.Unlock()

	err := s.send(ctx, client, cfg, target, batch)
	if err == nil {
		s.metrics.requests.WithLabelValues("success").Inc()
		s.metrics.sent.Add(float64(len(batch)))
		slog.Debug("shipper: batch delivered", "server", target, "events", len(batch))
		return nil
	}

	var rejected *rejectedError
	if errors.As(err, &rejected) && !rejected.retryable() {
		s.metrics.requests.WithLabelValues("rejected").Inc()
		s.metrics.dropped.WithLabelValues("rejected").Add(float64(len(batch)))
		slog.Error("shipper: collector rejected batch, discarding",
			"server", target, "status", rejected.status, "events", len(batch), "body", rejected.body)
		return nil
	}

	s.keep(batch)
	switch {
	case errors.Is(err, transport.ErrClosed):
		// Swapped by Reconfigure mid-flush; the new client picks the batch up.
		s.metrics.requests.WithLabelValues("closed").Inc()
	case errors.Is(err, transport.ErrTLSHandshake):
		s.metrics.requests.WithLabelValues("tls_handshake").Inc()
		s.rotate(client)
	default:
		s.metrics.requests.WithLabelValues("retry").Inc()
		s.rotate(client)
	}
	return err
}

// drain flushes until nothing is pending, a flush fails or drainTimeout passes.
func (s *Shipper) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for s.Pending() > 0 {
		if err := s.Flush(ctx); err != nil {
			slog.Warn("shipper: final flush failed", "err", err, "pending", s.Pending())
			return
		}
	}
}

// Pending returns the number of events waiting for delivery.
func (s *Shipper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) + len(s.buf)
}

// takeBatch returns the kept batch, or drains up to maxBatch buffered events.
func (s *Shipper) takeBatch() []types.Event {
	s.mu.Lock()
	if len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()
		return batch
	}
	s.mu.Unlock()

	var batch []types.Event
	for len(batch) < maxBatch {
		select {
		case ev := <-s.buf:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

// keep puts batch back in front of anything another flush already kept.
func (s *Shipper) keep(batch []types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(batch, s.pending...)
}

// rotate advances to the next server URL unless the client was replaced meanwhile.
func (s *Shipper) rotate(used *transport.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == used && len(s.cfg.ServerURLs) > 1 {
		s.next = (s.next + 1) % len(s.cfg.ServerURLs)
		slog.Info("shipper: failing over", "server", s.cfg.ServerURLs[s.next])
	}
}

func (s *Shipper) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.FlushInterval <= 0 {
		return config.DefaultFlushInterval
	}
	return s.cfg.FlushInterval
}

func (s *Shipper) send(ctx context.Context, client *transport.Client, cfg config.ReporterConfig, server string, batch []types.Event) error {
	compress := !cfg.DisableCompression
	body, err := encode(s.meta, batch, compress)
	if err != nil {
		return fmt.Errorf("shipper: %w", err)
	}

	endpoint, err := url.JoinPath(server, intakePath)
	if err != nil {
		return fmt.Errorf("shipper: intake url: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("shipper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	switch cfg.Auth.Mode {
	case "secret_token":
		req.Header.Set("Authorization", "Bearer "+cfg.Auth.SecretToken())
	case "api_key":
		req.Header.Set("Authorization", "ApiKey "+cfg.Auth.APIKey())
	}

	resp, err := client.Execute(req)
	if err != nil {
		return fmt.Errorf("shipper: send: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &rejectedError{status: resp.StatusCode, body: string(bytes.TrimSpace(msg))}
}

var errNoCollector = errors.New("shipper: no collector configured")

// rejectedError is a non-2xx intake response.
type rejectedError struct {
	status int
	body   string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("shipper: collector returned status %d", e.status)
}

// retryable reports whether the collector may accept the same batch later.
func (e *rejectedError) retryable() bool {
	switch {
	case e.status == http.StatusRequestTimeout, e.status == http.StatusTooManyRequests:
		return true
	case e.status >= 500:
		return true
	default:
		return false
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
