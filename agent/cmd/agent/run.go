package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/obsidianstack/reporter/agent/internal/config"
	"github.com/obsidianstack/reporter/agent/internal/logging"
	"github.com/obsidianstack/reporter/agent/internal/metricset"
	"github.com/obsidianstack/reporter/agent/internal/security"
	"github.com/obsidianstack/reporter/agent/internal/shipper"
	"github.com/obsidianstack/reporter/agent/internal/transport"
	"github.com/obsidianstack/reporter/pkg/types"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), path)
		},
	}
}

func userAgent() string {
	return shipper.AgentName + "/" + version
}

// agent owns the long-lived components and the current transport clients.
// The collector client follows verify_server_cert; the sources client always
// verifies, so the opt-out never reaches arbitrary scrape targets.
type agent struct {
	reg           *prometheus.Registry
	client        *transport.Client
	sourcesClient *transport.Client
	shipper       *shipper.Shipper
	collector     *metricset.Collector
	cfg           *config.Config
	sources       []string
}

func newAgent(cfg *config.Config) (*agent, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client, err := buildClient(cfg.Reporter, reg)
	if err != nil {
		return nil, err
	}
	sourcesClient, err := buildSourcesClient(cfg.Reporter, cfg.Metrics.Sources)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &agent{
		reg:           reg,
		client:        client,
		sourcesClient: sourcesClient,
		shipper:       shipper.New(cfg.Reporter, client, shipper.NewMetadata(cfg.Service, version), reg),
		collector:     metricset.New(reg, cfg.Metrics.Sources, sourcesClient),
		cfg:           cfg,
		sources:       append([]string(nil), cfg.Metrics.Sources...),
	}, nil
}

func buildClient(cfg config.ReporterConfig, reg prometheus.Registerer) (*transport.Client, error) {
	client, err := transport.Build(cfg,
		transport.WithRegisterer(reg),
		transport.WithUserAgent(userAgent()))
	if err != nil {
		return nil, fmt.Errorf("build transport client: %w", err)
	}
	if !client.Policy().Verifies() {
		slog.Warn("TLS certificate verification is disabled; collector identity is not checked",
			"server_urls", cfg.ServerURLs)
	}
	return client, nil
}

// buildSourcesClient returns a Strict client for metrics sources, reusing the
// reporter timeouts and pool limits. It returns nil when there are no sources.
// Its metrics stay on a private registry so they do not overwrite the collector
// client's series.
func buildSourcesClient(cfg config.ReporterConfig, sources []string) (*transport.Client, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	cfg.ServerURLs = sources
	cfg.VerifyServerCert = true
	client, err := transport.Build(cfg, transport.WithUserAgent(userAgent()))
	if err != nil {
		return nil, fmt.Errorf("build sources client: %w", err)
	}
	return client, nil
}

// reload swaps in a client built from updated. The old client is closed once
// nothing references it; requests already in flight on it still complete.
// On error the running configuration is kept.
func (a *agent) reload(updated *config.Config) error {
	slog.SetDefault(logging.New(updated.Log.Level))

	next, err := buildClient(updated.Reporter, a.reg)
	if err != nil {
		return err
	}
	nextSources, err := buildSourcesClient(updated.Reporter, a.sources)
	if err != nil {
		_ = next.Close()
		return err
	}

	prev := a.shipper.Reconfigure(updated.Reporter, next)
	prevSources := a.collector.SetClient(nextSources)
	a.client = next
	a.sourcesClient = nextSources
	a.cfg = updated

	closeClient(prev)
	closeClient(prevSources)
	slog.Info("transport client rebuilt",
		"policy", next.Policy().String(),
		"server_urls", updated.Reporter.ServerURLs)
	return nil
}

func closeClient(c *transport.Client) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		slog.Warn("closing previous transport client", "err", err)
	}
}

// probeCollectors logs the certificate status of every configured server.
func (a *agent) probeCollectors(ctx context.Context) []types.CertStatus {
	policy := a.client.Policy()
	out := make([]types.CertStatus, 0, len(a.cfg.Reporter.ServerURLs))
	for _, u := range a.cfg.Reporter.ServerURLs {
		cs := security.Probe(ctx, u, policy, a.client.Settings().ConnectTimeout)
		attrs := []any{
			"endpoint", cs.Endpoint,
			"status", cs.Status,
			"policy", cs.Policy,
			"issuer", cs.Issuer,
			"days_left", cs.DaysLeft,
		}
		switch cs.Status {
		case types.CertValid, types.CertPlaintext:
			slog.Info("collector certificate", attrs...)
		default:
			slog.Warn("collector certificate", append(attrs, "err", cs.Error)...)
		}
		out = append(out, cs)
	}
	return out
}

func (a *agent) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{Registry: a.reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("serving agent metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server stopped", "err", err)
	}
}

func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	slog.SetDefault(logging.New(cfg.Log.Level))

	slog.Info("reporter-agent starting",
		"version", version,
		"config", path,
		"service", cfg.Service.Name,
		"server_urls", cfg.Reporter.ServerURLs,
		"metrics_interval", cfg.Metrics.Interval,
		"sources", len(cfg.Metrics.Sources),
	)

	a, err := newAgent(cfg)
	if err != nil {
		return err
	}
	a.probeCollectors(ctx)

	shipperDone := make(chan struct{})
	go func() {
		a.shipper.Run(ctx)
		close(shipperDone)
	}()
	go a.collector.Run(ctx, cfg.Metrics.Interval, a.shipper.Ship)
	if cfg.Metrics.ListenAddr != "" {
		go a.serveMetrics(ctx, cfg.Metrics.ListenAddr)
	}

	reloads := make(chan *config.Config, 1)
	go func() {
		if err := config.Watch(ctx, path, func(updated *config.Config) {
			select {
			case reloads <- updated:
			case <-ctx.Done():
			}
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	for {
		select {
		case updated := <-reloads:
			if err := a.reload(updated); err != nil {
				slog.Error("config reload rejected, keeping current client", "err", err)
			}
		case <-ctx.Done():
			slog.Info("reporter-agent shutting down", "pending_events", a.shipper.Pending())
			<-shipperDone
			closeClient(a.sourcesClient)
			return a.client.Close()
		}
	}
}
