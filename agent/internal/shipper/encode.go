package shipper

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/obsidianstack/reporter/agent/internal/config"
	"github.com/obsidianstack/reporter/pkg/types"
)

// AgentName is reported in intake metadata.
const AgentName = "reporter-agent"

// NewMetadata describes this agent process. The ephemeral id is fresh per call.
func NewMetadata(svc config.ServiceConfig, agentVersion string) types.Metadata {
	return types.Metadata{
		Service: types.ServiceInfo{
			Name:        svc.Name,
			Environment: svc.Environment,
			Version:     svc.Version,
		},
		Agent: types.AgentInfo{
			Name:        AgentName,
			Version:     agentVersion,
			EphemeralID: uuid.NewString(),
		},
	}
}

// encode renders the metadata line and one line per event, optionally gzipped.
func encode(meta types.Metadata, events []types.Event, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	var zw *gzip.Writer
	enc := json.NewEncoder(&buf)
	if compress {
		zw = gzip.NewWriter(&buf)
		enc = json.NewEncoder(zw)
	}

	if err := enc.Encode(types.MetadataLine{Metadata: meta}); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	for i := range events {
		if err := enc.Encode(events[i]); err != nil {
			return nil, fmt.Errorf("encode event %d: %w", i, err)
		}
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
	}
	return buf.Bytes(), nil
}
