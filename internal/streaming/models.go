package streaming

import (
	"maps"
	"sort"
	"time"

	"hls-forward/internal/transcode"
)

// StreamID identifies a stream. It is the input URL the stream was started from.
type StreamID string

// StreamRecord is the registry entry of an active stream.
type StreamRecord struct {
	ID       StreamID `json:"-"`
	InputURL string   `json:"input_url"`
	// Variants maps variant name to its publish URL.
	Variants  map[string]string `json:"variants"`
	Config    transcode.Request `json:"config"`
	Preset    string            `json:"preset,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	// Partial is set when some requested variants failed to launch.
	Partial bool `json:"partial,omitempty"`
}

// VariantNames returns the record's variant names in sorted order.
func (r *StreamRecord) VariantNames() []string {
	names := make([]string, 0, len(r.Variants))
	for name := range r.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *StreamRecord) clone() *StreamRecord {
	c := *r
	c.Variants = maps.Clone(r.Variants)
	c.Config.OutputVariants = append([]transcode.StreamVariant(nil), r.Config.OutputVariants...)
	return &c
}

// URIEntry is one published variant URL.
type URIEntry struct {
	StreamID    StreamID `json:"stream_id"`
	VariantName string   `json:"variant_name"`
	URI         string   `json:"uri"`
}

// VariantStatus is the live state of one variant of a stream.
type VariantStatus struct {
	URI     string                   `json:"uri"`
	Ready   bool                     `json:"playlist_ready"`
	Process *transcode.ProcessStatus `json:"process,omitempty"`
}

// StreamStatus is a stream record together with per-variant process state.
type StreamStatus struct {
	StreamID StreamID                 `json:"stream_id"`
	Record   *StreamRecord            `json:"stream"`
	Variants map[string]VariantStatus `json:"variants"`
}
