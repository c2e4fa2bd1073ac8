package metricset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"github.com/obsidianstack/reporter/agent/internal/transport"
	"github.com/obsidianstack/reporter/pkg/types"
)

// SourceTag is the metricset tag naming where samples came from.
const SourceTag = "source"

// AgentSource is the SourceTag value for the agent's own registry.
const AgentSource = "agent"

const defaultScrapeTimeout = 10 * time.Second

// DefaultInterval is used by Run when given a non-positive interval.
const DefaultInterval = 30 * time.Second

// Collector builds metricsets from a local gatherer and remote sources.
type Collector struct {
	gatherer prometheus.Gatherer
	sources  []string

	mu     sync.Mutex
	client *transport.Client
}

// New returns a Collector. gatherer may be nil to skip the local registry;
// client may be nil when sources is empty.
func New(gatherer prometheus.Gatherer, sources []string, client *transport.Client) *Collector {
	return &Collector{
		gatherer: gatherer,
		sources:  append([]string(nil), sources...),
		client:   client,
	}
}

// SetClient replaces the client used for remote sources and returns the
// previous one.
func (c *Collector) SetClient(client *transport.Client) *transport.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.client
	c.client = client
	return prev
}

// Collect returns one event per reachable source. Source failures are joined
// into the returned error; events from the other sources are still returned.
func (c *Collector) Collect(ctx context.Context) ([]types.Event, error) {
	var (
		events []types.Event
		errs   []error
	)

	if c.gatherer != nil {
		mfs, err := c.gatherer.Gather()
		if err != nil && len(mfs) == 0 {
			errs = append(errs, fmt.Errorf("metricset: gather: %w", err))
		} else {
			events = append(events, toEvent(AgentSource, mfs))
		}
	}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	for _, src := range c.sources {
		if client == nil {
			errs = append(errs, fmt.Errorf("metricset: source %q: no client", src))
			continue
		}
		mfs, err := fetchMetrics(ctx, client, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("metricset: source %q: %w", src, err))
			continue
		}
		events = append(events, toEvent(src, familyList(mfs)))
	}
	return events, errors.Join(errs...)
}

// Run collects every interval and hands each event to ship until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration, ship func(types.Event)) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		events, err := c.Collect(ctx)
		if err != nil {
			slog.Warn("metricset: collection incomplete", "err", err)
		}
		for _, ev := range events {
			ship(ev)
		}
	}
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *transport.Client, url string) (map[string]*dto.MetricFamily, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultScrapeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Execute(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// Any parse error rejects the whole source.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	parser := expfmt.NewTextParser(model.UTF8Validation)
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

func familyList(mfs map[string]*dto.MetricFamily) []*dto.MetricFamily {
	out := make([]*dto.MetricFamily, 0, len(mfs))
	for _, mf := range mfs {
		out = append(out, mf)
	}
	return out
}

func toEvent(source string, mfs []*dto.MetricFamily) types.Event {
	ms := &types.Metricset{
		Timestamp: time.Now().UnixMicro(),
		Tags:      map[string]string{SourceTag: source},
		Samples:   make(map[string]types.Sample, len(mfs)),
	}
	for _, mf := range mfs {
		name := mf.GetName()
		switch mf.GetType() {
		case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
			count, sum := sumHistogram(mf)
			ms.Samples[name+"_count"] = types.Sample{Value: count}
			ms.Samples[name+"_sum"] = types.Sample{Value: sum}
		case dto.MetricType_SUMMARY:
			count, sum := sumSummary(mf)
			ms.Samples[name+"_count"] = types.Sample{Value: count}
			ms.Samples[name+"_sum"] = types.Sample{Value: sum}
		default:
			ms.Samples[name] = types.Sample{Value: sumFamily(mf)}
		}
	}
	return types.Event{Metricset: ms}
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

func sumHistogram(mf *dto.MetricFamily) (count, sum float64) {
	for _, m := range mf.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		count += float64(h.GetSampleCount())
		sum += h.GetSampleSum()
	}
	return count, sum
}

func sumSummary(mf *dto.MetricFamily) (count, sum float64) {
	for _, m := range mf.GetMetric() {
		s := m.GetSummary()
		if s == nil {
			continue
		}
		count += float64(s.GetSampleCount())
		sum += s.GetSampleSum()
	}
	return count, sum
}
