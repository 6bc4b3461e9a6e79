package streaming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hls-forward/internal/transcode"
)

// Engine is the transcoding engine the service drives.
type Engine interface {
	StartTranscoding(ctx context.Context, req transcode.Request) (map[string]string, error)
	StopTranscoding(name string) error
	Status(name string) (transcode.ProcessStatus, bool)
}

// Readiness reports whether a variant's playlist has been written.
type Readiness interface {
	Ready(name string) bool
	WaitReady(ctx context.Context, name string) error
}

// StartRequest is the body of a start request. Explicit Variants take
// precedence over Preset; with neither, DefaultPreset is used. Empty output
// host and port fall back to the service's publish defaults.
type StartRequest struct {
	InputURL   string                    `json:"input_url"`
	Preset     string                    `json:"preset,omitempty"`
	Variants   []transcode.StreamVariant `json:"variants,omitempty"`
	OutputHost string                    `json:"output_host,omitempty"`
	OutputPort int                       `json:"output_port,omitempty"`
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	PublishHost string
	PublishPort int
	Presets     *PresetCatalog
	// Readiness is optional; without it every variant reports not ready.
	Readiness Readiness
}

// Service ties the registry to the engine: a stream is registered only while
// its variant processes are running.
type Service struct {
	engine      Engine
	registry    Registry
	presets     *PresetCatalog
	readiness   Readiness
	publishHost string
	publishPort int
}

// NewService returns a Service. A nil preset catalog gets the built-in presets.
func NewService(engine Engine, registry Registry, opts ServiceOptions) *Service {
	presets := opts.Presets
	if presets == nil {
		presets = NewPresetCatalog()
	}
	host := opts.PublishHost
	if host == "" {
		host = "localhost"
	}
	return &Service{
		engine:      engine,
		registry:    registry,
		presets:     presets,
		readiness:   opts.Readiness,
		publishHost: host,
		publishPort: opts.PublishPort,
	}
}

// BuildRequest resolves a StartRequest into a transcode request, applying the
// preset and publish defaults, and validates it.
func (s *Service) BuildRequest(sr StartRequest) (transcode.Request, string, error) {
	variants := sr.Variants
	preset := ""
	if len(variants) == 0 {
		preset = sr.Preset
		if preset == "" {
			preset = DefaultPreset
		}
		p, ok := s.presets.Get(preset)
		if !ok {
			return transcode.Request{}, "", fmt.Errorf("%w: %q", ErrUnknownPreset, preset)
		}
		variants = p.Variants
	}

	req := transcode.Request{
		InputURL:       strings.TrimSpace(sr.InputURL),
		OutputVariants: variants,
		Host:           sr.OutputHost,
		Port:           sr.OutputPort,
	}
	if req.Host == "" {
		req.Host = s.publishHost
	}
	if req.Port == 0 {
		req.Port = s.publishPort
	}
	if err := req.Validate(); err != nil {
		return transcode.Request{}, "", err
	}
	return req, preset, nil
}

// Start starts transcoding for a new stream keyed by its input URL.
//
// On *transcode.PartialStartError the variants that did start are registered
// so they can be listed and stopped; the record is returned together with
// the error.
func (s *Service) Start(ctx context.Context, sr StartRequest) (*StreamRecord, error) {
	req, preset, err := s.BuildRequest(sr)
	if err != nil {
		return nil, err
	}

	id := StreamID(req.InputURL)
	names := make([]string, 0, len(req.OutputVariants))
	for _, v := range req.OutputVariants {
		names = append(names, v.Name())
	}
	if err := s.registry.Reserve(id, names); err != nil {
		return nil, err
	}

	urls, startErr := s.engine.StartTranscoding(ctx, req)
	var partial *transcode.PartialStartError
	switch {
	case errors.As(startErr, &partial):
		urls = partial.Started
	case startErr != nil:
		s.registry.Release(id)
		return nil, startErr
	}

	rec := &StreamRecord{
		ID:        id,
		InputURL:  req.InputURL,
		Variants:  urls,
		Config:    req,
		Preset:    preset,
		StartedAt: time.Now().UTC(),
		Partial:   partial != nil,
	}
	if err := s.registry.Commit(rec); err != nil {
		s.stopVariants(rec.VariantNames())
		s.registry.Release(id)
		return nil, fmt.Errorf("register stream: %w", err)
	}
	return rec, startErr
}

// Stop stops every variant process of the stream and removes it.
func (s *Service) Stop(id StreamID) (*StreamRecord, error) {
	rec, err := s.registry.Detach(id)
	if err != nil {
		return nil, err
	}
	defer s.registry.Release(id)

	if err := s.stopVariants(rec.VariantNames()); err != nil {
		return rec, fmt.Errorf("stop stream %s: %w", id, err)
	}
	return rec, nil
}

func (s *Service) stopVariants(names []string) error {
	var errs []error
	for _, name := range names {
		if err := s.engine.StopTranscoding(name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Get returns the active record for id.
func (s *Service) Get(id StreamID) (*StreamRecord, bool) {
	return s.registry.Get(id)
}

// List returns every active stream ordered by id.
func (s *Service) List() []*StreamRecord {
	return s.registry.List()
}

// URIs flattens the published variant URLs of every active stream.
func (s *Service) URIs() []URIEntry {
	var out []URIEntry
	for _, rec := range s.registry.List() {
		for _, name := range rec.VariantNames() {
			out = append(out, URIEntry{StreamID: rec.ID, VariantName: name, URI: rec.Variants[name]})
		}
	}
	return out
}

// Status reports the record of id together with each variant's process state
// and playlist readiness.
func (s *Service) Status(id StreamID) (*StreamStatus, error) {
	rec, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrStreamNotFound
	}
	st := &StreamStatus{StreamID: id, Record: rec, Variants: make(map[string]VariantStatus, len(rec.Variants))}
	for name, uri := range rec.Variants {
		vs := VariantStatus{URI: uri}
		if ps, ok := s.engine.Status(name); ok {
			vs.Process = &ps
		}
		if s.readiness != nil {
			vs.Ready = s.readiness.Ready(name)
		}
		st.Variants[name] = vs
	}
	return st, nil
}

// VariantActive reports whether a variant name is held by an active or
// starting stream.
func (s *Service) VariantActive(name string) bool {
	_, ok := s.registry.VariantOwner(name)
	return ok
}

// Variant returns the output variant of an active variant name.
func (s *Service) Variant(name string) (transcode.StreamVariant, bool) {
	id, ok := s.registry.VariantOwner(name)
	if !ok {
		return transcode.StreamVariant{}, false
	}
	rec, ok := s.registry.Get(id)
	if !ok {
		return transcode.StreamVariant{}, false
	}
	for _, v := range rec.Config.OutputVariants {
		if v.Name() == name {
			return v, true
		}
	}
	return transcode.StreamVariant{}, false
}

// Presets lists the available presets.
func (s *Service) Presets() []Preset {
	return s.presets.List()
}

// ActiveStreamCount returns the number of active streams.
func (s *Service) ActiveStreamCount() int {
	return s.registry.ActiveStreamCount()
}
