// Package types defines the intake payload shapes shared by the agent and the
// test collector: intake metadata, metricset events and certificate status
// records. They marshal directly to the NDJSON lines of the intake protocol.
package types
