// Package metricset turns Prometheus metric families into intake metricsets.
//
// A Collector gathers the agent's own registry (Go runtime, process and
// transport metrics) plus any configured Prometheus text endpoints. Remote
// sources are fetched through a transport.Client, so they obey the same trust
// policy and pooling limits as the intake connection. Each family is reduced
// to a single sample: counters, gauges and untyped values are summed across
// label sets; histograms and summaries contribute _count and _sum samples.
package metricset
