package transport

import (
	"io"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"

	"github.com/obsidianstack/reporter/agent/internal/trust"
)

// State is the client lifecycle state.
type State int32

const (
	// StateConstructed accepts requests.
	StateConstructed State = iota
	// StateClosed rejects requests. There is no way back.
	StateClosed
)

func (s State) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "constructed"
}

// Stats is a point-in-time view of the client's connection usage.
type Stats struct {
	Requests int64
	Dials    int64
	Reused   int64
	InFlight int64
}

// Client executes requests against collector origins over a private
// connection pool. Safe for concurrent use.
type Client struct {
	http      *http.Client
	transport *http.Transport
	dialer    *countingDialer
	policy    trust.Policy
	settings  Settings
	metrics   *metrics

	closed   atomic.Bool
	requests atomic.Int64
	dials    atomic.Int64
	reused   atomic.Int64
	inFlight atomic.Int64
}

// Policy returns the trust policy the client was built with.
func (c *Client) Policy() trust.Policy { return c.policy }

// Settings returns the effective timeouts and pool limits.
func (c *Client) Settings() Settings { return c.settings }

// State reports whether the client is still usable.
func (c *Client) State() State {
	if c.closed.Load() {
		return StateClosed
	}
	return StateConstructed
}

// Stats returns request and connection counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests: c.requests.Load(),
		Dials:    c.dials.Load(),
		Reused:   c.reused.Load(),
		InFlight: c.inFlight.Load(),
	}
}

// Execute sends req and returns the response. The caller must close the body.
// Non-2xx statuses are not errors at this layer.
func (c *Client) Execute(req *http.Request) (*http.Response, error) {
	if c.closed.Load() {
		c.metrics.observe(ErrClosed)
		return nil, ErrClosed
	}
	c.requests.Add(1)

	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if info.Reused {
				c.reused.Add(1)
				c.metrics.connectionsReused.Inc()
			}
		},
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	c.inFlight.Add(1)
	resp, err := c.http.Do(req)
	if err != nil {
		c.done()
		err = classify("execute", err)
		c.metrics.observe(err)
		return nil, err
	}
	c.metrics.observe(nil)
	resp.Body = &trackedBody{ReadCloser: resp.Body, done: c.done}
	return resp, nil
}

// Close releases pooled connections and rejects further requests. Requests in
// flight complete; their connections are dropped once their bodies are closed.
// Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.transport.CloseIdleConnections()
	return nil
}

func (c *Client) recordDial() {
	c.dials.Add(1)
	c.metrics.connectionsOpened.Inc()
}

// done marks one request finished. After Close, connections returned to the
// pool by late finishers are released again.
func (c *Client) done() {
	c.inFlight.Add(-1)
	if c.closed.Load() {
		c.transport.CloseIdleConnections()
	}
}

// trackedBody calls done exactly once when the response body is closed.
type trackedBody struct {
	io.ReadCloser
	done   func()
	closed atomic.Bool
}

func (b *trackedBody) Close() error {
	err := b.ReadCloser.Close()
	if b.closed.CompareAndSwap(false, true) {
		b.done()
	}
	return err
}
