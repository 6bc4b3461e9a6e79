// Package playlist fetches adaptive streaming manifests and turns them into
// the rendition and segment lists the transcoding engine works from.
package playlist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

const (
	// FetchTimeout bounds a single manifest fetch.
	FetchTimeout = 30 * time.Second

	maxManifestSize = 10 << 20
)

// SourceRendition is one alternative listed in a master playlist. Optional
// attributes are nil when the manifest does not declare them.
type SourceRendition struct {
	URI        string   `json:"uri"`
	Bandwidth  int64    `json:"bandwidth"`
	Resolution *string  `json:"resolution,omitempty"`
	Codecs     *string  `json:"codecs,omitempty"`
	FrameRate  *float64 `json:"frame_rate,omitempty"`
}

// Manifest is the parsed form of a fetched playlist. Exactly one of
// Renditions (master playlist) or Segments (media playlist) is populated.
type Manifest struct {
	URL        string
	Renditions []SourceRendition
	Segments   []string
	// Duration is target duration × segment count, nil when the playlist
	// declares no target duration.
	Duration *float64
}

// IsMaster reports whether the manifest listed alternative renditions.
func (m *Manifest) IsMaster() bool {
	return len(m.Renditions) > 0
}

// Resolver fetches and parses manifests over HTTP.
type Resolver struct {
	client *http.Client
	log    *slog.Logger
}

// NewResolver returns a Resolver using client. A nil client gets a dedicated
// client with FetchTimeout; a nil logger discards output.
func NewResolver(client *http.Client, log *slog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: FetchTimeout}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{client: client, log: log}
}

// Resolve fetches rawURL and parses it as either a master or a media playlist.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Manifest, error) {
	body, err := r.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, &ParseError{URL: rawURL, Err: err}
	}

	manifest := &Manifest{URL: rawURL}
	switch listType {
	case m3u8.MASTER:
		master, ok := pl.(*m3u8.MasterPlaylist)
		if !ok {
			return nil, &ParseError{URL: rawURL, Err: fmt.Errorf("unexpected playlist type %T", pl)}
		}
		manifest.Renditions = renditionsFrom(master)
	case m3u8.MEDIA:
		media, ok := pl.(*m3u8.MediaPlaylist)
		if !ok {
			return nil, &ParseError{URL: rawURL, Err: fmt.Errorf("unexpected playlist type %T", pl)}
		}
		segments, err := segmentsFrom(media, rawURL)
		if err != nil {
			return nil, &ParseError{URL: rawURL, Err: err}
		}
		manifest.Segments = segments
		if media.TargetDuration > 0 {
			d := media.TargetDuration * float64(len(segments))
			manifest.Duration = &d
		}
	default:
		return nil, &ParseError{URL: rawURL, Err: fmt.Errorf("unknown playlist type")}
	}

	r.log.Debug("manifest resolved",
		slog.String("url", rawURL),
		slog.Int("renditions", len(manifest.Renditions)),
		slog.Int("segments", len(manifest.Segments)))
	return manifest, nil
}

// ResolveMaster resolves rawURL and returns its renditions. It fails with
// *NotMasterError when the manifest is a media playlist, so a nil error
// guarantees at least one rendition.
func (r *Resolver) ResolveMaster(ctx context.Context, rawURL string) ([]SourceRendition, error) {
	manifest, err := r.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !manifest.IsMaster() {
		return nil, &NotMasterError{URL: rawURL}
	}
	return manifest.Renditions, nil
}

// Close releases idle connections held by the HTTP client.
func (r *Resolver) Close() {
	r.client.CloseIdleConnections()
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

func renditionsFrom(master *m3u8.MasterPlaylist) []SourceRendition {
	out := make([]SourceRendition, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil || v.Iframe {
			continue
		}
		sr := SourceRendition{
			URI:       v.URI,
			Bandwidth: int64(v.Bandwidth),
		}
		if v.Resolution != "" {
			res := v.Resolution
			sr.Resolution = &res
		}
		if v.Codecs != "" {
			codecs := v.Codecs
			sr.Codecs = &codecs
		}
		if v.FrameRate > 0 {
			fr := v.FrameRate
			sr.FrameRate = &fr
		}
		out = append(out, sr)
	}
	return out
}

func segmentsFrom(media *m3u8.MediaPlaylist, manifestURL string) ([]string, error) {
	base, err := baseURL(manifestURL)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, media.Count())
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		ref, err := url.Parse(strings.TrimSpace(seg.URI))
		if err != nil {
			return nil, fmt.Errorf("segment uri %q: %w", seg.URI, err)
		}
		out = append(out, base.ResolveReference(ref).String())
	}
	return out, nil
}

// baseURL strips the last path component (and any query) of a manifest URL,
// leaving the directory segments are resolved against.
func baseURL(manifestURL string) (*url.URL, error) {
	u, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("manifest url: %w", err)
	}
	dir := u.Path
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i]
	} else {
		dir = ""
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host, User: u.User, Path: dir + "/"}, nil
}
