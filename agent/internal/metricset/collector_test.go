package metricset

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/reporter/agent/internal/config"
	"github.com/obsidianstack/reporter/agent/internal/testutil"
	"github.com/obsidianstack/reporter/agent/internal/transport"
	"github.com/obsidianstack/reporter/pkg/types"
)

// sourceMetrics is a small Prometheus text exposition served by test sources.
const sourceMetrics = `
# HELP http_requests_total Requests served.
# TYPE http_requests_total counter
http_requests_total{code="200"} 40
http_requests_total{code="500"} 2

# HELP queue_depth Items waiting.
# TYPE queue_depth gauge
queue_depth 7

# HELP request_seconds Request latency.
# TYPE request_seconds histogram
request_seconds_bucket{le="0.1"} 3
request_seconds_bucket{le="+Inf"} 4
request_seconds_sum 0.9
request_seconds_count 4
`

func permissiveClient(t *testing.T) *transport.Client {
	t.Helper()
	c, err := transport.Build(config.ReporterConfig{ServerURLs: []string{"https://collector.invalid"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func textHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(body))
	})
}

func bySource(events []types.Event) map[string]*types.Metricset {
	out := make(map[string]*types.Metricset, len(events))
	for _, ev := range events {
		out[ev.Metricset.Tags[SourceTag]] = ev.Metricset
	}
	return out
}

func TestCollect_AgentRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobs_total", Help: "h"}, []string{"kind"})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_inflight", Help: "h"})
	latency := prometheus.NewSummary(prometheus.SummaryOpts{Name: "job_seconds", Help: "h"})
	reg.MustRegister(requests, inflight, latency)

	requests.WithLabelValues("a").Add(3)
	requests.WithLabelValues("b").Add(2)
	inflight.Set(4)
	latency.Observe(1.5)
	latency.Observe(0.5)

	before := time.Now().UnixMicro()
	events, err := New(reg, nil, nil).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	ms := events[0].Metricset
	assert.Equal(t, AgentSource, ms.Tags[SourceTag])
	assert.GreaterOrEqual(t, ms.Timestamp, before)
	assert.Equal(t, 5.0, ms.Samples["jobs_total"].Value)
	assert.Equal(t, 4.0, ms.Samples["jobs_inflight"].Value)
	assert.Equal(t, 2.0, ms.Samples["job_seconds_count"].Value)
	assert.Equal(t, 2.0, ms.Samples["job_seconds_sum"].Value)
}

func TestCollect_RemoteSource(t *testing.T) {
	srv := testutil.NewTLSServer(t, testutil.SelfSigned(t), textHandler(sourceMetrics))

	events, err := New(nil, []string{srv.URL + "/metrics"}, permissiveClient(t)).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	ms := events[0].Metricset
	assert.Equal(t, srv.URL+"/metrics", ms.Tags[SourceTag])
	assert.Equal(t, 42.0, ms.Samples["http_requests_total"].Value)
	assert.Equal(t, 7.0, ms.Samples["queue_depth"].Value)
	assert.Equal(t, 4.0, ms.Samples["request_seconds_count"].Value)
	assert.InDelta(t, 0.9, ms.Samples["request_seconds_sum"].Value, 1e-9)
}

func TestCollect_PartialFailure(t *testing.T) {
	good := testutil.NewTLSServer(t, testutil.SelfSigned(t), textHandler(sourceMetrics))
	bad := testutil.NewTLSServer(t, testutil.SelfSigned(t), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	reg := prometheus.NewRegistry()

	c := New(reg, []string{bad.URL, good.URL}, permissiveClient(t))
	events, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")

	got := bySource(events)
	assert.Contains(t, got, AgentSource)
	assert.Contains(t, got, good.URL)
	assert.NotContains(t, got, bad.URL)
}

func TestCollect_StrictRejectsUntrustedSource(t *testing.T) {
	srv := testutil.NewTLSServer(t, testutil.SelfSigned(t), textHandler(sourceMetrics))
	strict, err := transport.Build(config.ReporterConfig{
		ServerURLs:       []string{srv.URL},
		VerifyServerCert: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = strict.Close() })

	events, err := New(nil, []string{srv.URL}, strict).Collect(context.Background())
	assert.Empty(t, events)
	assert.ErrorIs(t, err, transport.ErrTLSHandshake)
}

func TestCollect_NoClient(t *testing.T) {
	_, err := New(nil, []string{"https://source.invalid/metrics"}, nil).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no client")
}

func TestSetClient(t *testing.T) {
	srv := testutil.NewTLSServer(t, testutil.SelfSigned(t), textHandler(sourceMetrics))
	c := New(nil, []string{srv.URL}, nil)

	next := permissiveClient(t)
	assert.Nil(t, c.SetClient(next))

	events, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Same(t, next, c.SetClient(nil))
}

func TestParseMetrics_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"garbage":           "this is { not prometheus",
		"html":              "<html><body>not found</body></html>\n",
		"valid then broken": "up 1\nqueue_depth {\n",
	} {
		t.Run(name, func(t *testing.T) {
			mfs, err := parseMetrics(strings.NewReader(body))
			assert.Error(t, err)
			assert.Nil(t, mfs)
		})
	}
}

func TestCollect_RejectsNonPrometheusSource(t *testing.T) {
	srv := testutil.NewTLSServer(t, testutil.SelfSigned(t), textHandler("this is { not prometheus"))

	events, err := New(nil, []string{srv.URL}, permissiveClient(t)).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse prometheus text")
	assert.Empty(t, events)
}

func TestSumFamily_Nil(t *testing.T) {
	assert.Zero(t, sumFamily(nil))
}

func TestRun_ShipsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "up", Help: "h"})
	g.Set(1)
	reg.MustRegister(g)

	var (
		mu   sync.Mutex
		seen []types.Event
	)
	ship := func(ev types.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(reg, nil, nil).Run(ctx, 10*time.Millisecond, ship)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1.0, seen[0].Metricset.Samples["up"].Value)
}
