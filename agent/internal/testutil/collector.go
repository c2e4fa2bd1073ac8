package testutil

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/obsidianstack/reporter/pkg/types"
)

// IntakePath is the events endpoint served by Collector.
const IntakePath = "/intake/v2/events"

// Batch is one decoded intake request.
type Batch struct {
	Metadata      types.Metadata
	Events        []types.Event
	Authorization string
	UserAgent     string
	Gzip          bool
}

// Collector is a fake intake endpoint. It validates each request, stores the
// decoded batch and answers 202. Statuses queued with Reject are returned
// first, one per request, without storing anything.
type Collector struct {
	mu      sync.Mutex
	batches []Batch
	reject  []int
	hits    int
}

// Reject queues statuses for the next requests.
func (c *Collector) Reject(statuses ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = append(c.reject, statuses...)
}

// Batches returns a copy of the accepted batches.
func (c *Collector) Batches() []Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Batch, len(c.batches))
	copy(out, c.batches)
	return out
}

// Events returns every accepted event across batches.
func (c *Collector) Events() []types.Event {
	var out []types.Event
	for _, b := range c.Batches() {
		out = append(out, b.Events...)
	}
	return out
}

// Hits returns the number of requests seen, accepted or not.
func (c *Collector) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.hits++
	if len(c.reject) > 0 {
		status := c.reject[0]
		c.reject = c.reject[1:]
		c.mu.Unlock()
		http.Error(w, "rejected", status)
		return
	}
	c.mu.Unlock()

	if r.Method != http.MethodPost || r.URL.Path != IntakePath {
		http.NotFound(w, r)
		return
	}

	batch := Batch{
		Authorization: r.Header.Get("Authorization"),
		UserAgent:     r.Header.Get("User-Agent"),
	}

	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, "bad gzip", http.StatusBadRequest)
			return
		}
		defer zr.Close()
		body = zr
		batch.Gzip = true
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			var meta types.MetadataLine
			if err := json.Unmarshal(line, &meta); err != nil || meta.Metadata.Service.Name == "" {
				http.Error(w, "metadata line is required", http.StatusBadRequest)
				return
			}
			batch.Metadata = meta.Metadata
			first = false
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			http.Error(w, "bad event: "+err.Error(), http.StatusBadRequest)
			return
		}
		batch.Events = append(batch.Events, ev)
	}
	if err := scanner.Err(); err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if first {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.mu.Unlock()

	slog.Debug("collector: batch stored",
		"service", batch.Metadata.Service.Name,
		"events", len(batch.Events))

	w.WriteHeader(http.StatusAccepted)
}
