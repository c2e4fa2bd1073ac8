package types

import "time"

// Metadata is the first line of every intake request.
type Metadata struct {
	Service ServiceInfo `json:"service"`
	Agent   AgentInfo   `json:"agent"`
}

// ServiceInfo identifies the instrumented service.
type ServiceInfo struct {
	Name        string `json:"name"`
	Environment string `json:"environment,omitempty"`
	Version     string `json:"version,omitempty"`
}

// AgentInfo identifies the agent process. EphemeralID changes on every start.
type AgentInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	EphemeralID string `json:"ephemeral_id"`
}

// Metricset is a group of samples taken at the same instant.
type Metricset struct {
	// Timestamp is in microseconds since the Unix epoch.
	Timestamp int64             `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
	Samples   map[string]Sample `json:"samples"`
}

// Sample is a single metric value.
type Sample struct {
	Value float64 `json:"value"`
}

// Event is one NDJSON line after the metadata line.
type Event struct {
	Metricset *Metricset `json:"metricset,omitempty"`
}

// MetadataLine wraps Metadata for the first NDJSON line.
type MetadataLine struct {
	Metadata Metadata `json:"metadata"`
}

// Certificate status values reported by CertStatus.Status.
const (
	CertValid       = "valid"
	CertExpiring    = "expiring"
	CertExpired     = "expired"
	CertUntrusted   = "untrusted"
	CertUnreachable = "unreachable"
	CertPlaintext   = "plaintext"
)

// CertStatus describes the leaf certificate presented by a collector.
type CertStatus struct {
	Endpoint string    `json:"endpoint"`
	Policy   string    `json:"policy"`
	Status   string    `json:"status"`
	Subject  string    `json:"subject,omitempty"`
	Issuer   string    `json:"issuer,omitempty"`
	DNSNames []string  `json:"dns_names,omitempty"`
	NotAfter time.Time `json:"not_after,omitzero"`
	DaysLeft int       `json:"days_left"`
	Error    string    `json:"error,omitempty"`
}
