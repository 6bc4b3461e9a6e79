package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hls-forward/internal/platform/metrics"
	"hls-forward/internal/playlist"
	"hls-forward/internal/transcode"

	"github.com/go-chi/chi/v5"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	serviceName         = "hls-forward"
	serviceVersion      = "0.1.0"

	// DefaultPlaylistWait bounds how long a playlist request waits for an
	// active variant's playlist to be written.
	DefaultPlaylistWait = time.Second
)

var segmentContentTypes = map[string]string{
	".ts":   "video/mp2t",
	".m4s":  "video/mp4",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".mpg":  "video/mpeg",
	".flv":  "video/x-flv",
	".avi":  "video/x-msvideo",
	".asf":  "video/x-ms-asf",
	".rm":   "application/vnd.rn-realmedia",
	".rmvb": "application/vnd.rn-realmedia-vbr",
}

// Files describes where transcoder output is served from.
type Files struct {
	Dir string
	// Readiness is optional; without it a missing playlist is a 404 at once.
	Readiness    Readiness
	PlaylistWait time.Duration
}

// Handler exposes the stream HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	files   Files
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, output Files, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, files Files, log *slog.Logger, m *metrics.Metrics) *Handler {
	if files.PlaylistWait <= 0 {
		files.PlaylistWait = DefaultPlaylistWait
	}
	return &Handler{svc: svc, files: files, log: log, metrics: m}
}

// Routes registers every endpoint on r. Fixed paths are registered before
// the catch-all file route; chi matches static segments first.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/start-transcoding", h.StartTranscoding)
	r.Get("/streams", h.ListStreams)
	r.Route("/streams/{stream_id}", func(r chi.Router) {
		r.Get("/", h.GetStream)
		r.Delete("/", h.StopStream)
		r.Get("/master.m3u8", h.GetMasterPlaylist)
	})
	r.Get("/uris", h.ListURIs)
	r.Get("/presets", h.ListPresets)
	r.Get("/{file}", h.ServeFile)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps service and engine errors to HTTP status codes.
func statusFor(err error) int {
	var (
		fetchErr   *playlist.FetchError
		parseErr   *playlist.ParseError
		notMaster  *playlist.NotMasterError
		launchErr  *transcode.LaunchError
		partialErr *transcode.PartialStartError
	)
	switch {
	case errors.Is(err, transcode.ErrInvalidRequest), errors.Is(err, ErrUnknownPreset):
		return http.StatusBadRequest
	case errors.Is(err, ErrStreamActive), errors.Is(err, ErrVariantInUse):
		return http.StatusConflict
	case errors.Is(err, ErrStreamNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTooManyStreams):
		return http.StatusTooManyRequests
	case errors.As(err, &partialErr):
		return http.StatusBadGateway
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.As(err, &parseErr), errors.As(err, &notMaster):
		return http.StatusUnprocessableEntity
	case errors.As(err, &launchErr), errors.Is(err, playlist.ErrEmptyInput):
		return http.StatusInternalServerError
	case errors.Is(err, transcode.ErrEngineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// streamIDParam returns the URL-decoded stream_id path parameter.
func streamIDParam(r *http.Request) (StreamID, bool) {
	raw := chi.URLParam(r, "stream_id")
	id, err := url.PathUnescape(raw)
	if err != nil || id == "" {
		return "", false
	}
	return StreamID(id), true
}

type startResponse struct {
	Message  string            `json:"message"`
	StreamID StreamID          `json:"stream_id"`
	Variants map[string]string `json:"variants"`
	Preset   string            `json:"preset,omitempty"`
}

type partialStartResponse struct {
	Error    string            `json:"error"`
	StreamID StreamID          `json:"stream_id"`
	Variants map[string]string `json:"variants"`
	Failed   string            `json:"failed_variant"`
}

// StartTranscoding handles POST /start-transcoding.
// Body: { "input_url": "...", "preset": "standard", "variants": [...], "output_host": "...", "output_port": 8080 }.
func (h *Handler) StartTranscoding(w http.ResponseWriter, r *http.Request) {
	var sr StartRequest
	if err := json.NewDecoder(r.Body).Decode(&sr); err != nil {
		h.log.Debug("invalid start body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := h.svc.Start(r.Context(), sr)
	var partial *transcode.PartialStartError
	if errors.As(err, &partial) && rec != nil {
		h.log.Warn("transcoding partially started",
			slog.String("stream_id", string(rec.ID)),
			slog.String("failed_variant", partial.Failed),
			slog.Int("started", len(rec.Variants)),
			slog.String("error", err.Error()))
		if h.metrics != nil {
			h.metrics.IncStreamsStarted()
			h.metrics.IncLaunchFailures()
		}
		writeJSON(w, statusFor(err), partialStartResponse{
			Error:    err.Error(),
			StreamID: rec.ID,
			Variants: rec.Variants,
			Failed:   partial.Failed,
		})
		return
	}
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError || status == http.StatusBadGateway {
			h.log.Error("start transcoding failed", slog.String("input_url", sr.InputURL), slog.String("error", err.Error()))
		} else {
			h.log.Info("start transcoding rejected", slog.String("input_url", sr.InputURL), slog.String("error", err.Error()))
		}
		var launchErr *transcode.LaunchError
		if h.metrics != nil && errors.As(err, &launchErr) {
			h.metrics.IncLaunchFailures()
		}
		writeError(w, status, "failed to start transcoding: "+err.Error())
		return
	}

	h.log.Info("transcoding started",
		slog.String("stream_id", string(rec.ID)),
		slog.Int("variants", len(rec.Variants)),
		slog.String("preset", rec.Preset))
	if h.metrics != nil {
		h.metrics.IncStreamsStarted()
	}
	writeJSON(w, http.StatusCreated, startResponse{
		Message:  "Transcoding started successfully",
		StreamID: rec.ID,
		Variants: rec.Variants,
		Preset:   rec.Preset,
	})
}

// ListStreams handles GET /streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	records := h.svc.List()
	active := make(map[StreamID]*StreamRecord, len(records))
	for _, rec := range records {
		active[rec.ID] = rec
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_streams": active,
		"total_streams":  len(records),
	})
}

// GetStream handles GET /streams/{stream_id}.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	id, ok := streamIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid stream id")
		return
	}
	st, err := h.svc.Status(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetMasterPlaylist handles GET /streams/{stream_id}/master.m3u8.
func (h *Handler) GetMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := streamIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid stream id")
		return
	}
	rec, ok := h.svc.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrStreamNotFound.Error())
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(BuildMasterPlaylist(rec)))
}

// StopStream handles DELETE /streams/{stream_id}.
func (h *Handler) StopStream(w http.ResponseWriter, r *http.Request) {
	id, ok := streamIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid stream id")
		return
	}

	rec, err := h.svc.Stop(id)
	if err != nil && rec == nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if err != nil {
		h.log.Error("stop stream failed", slog.String("stream_id", string(id)), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to stop stream: "+err.Error())
		return
	}

	h.log.Info("stream stopped", slog.String("stream_id", string(id)), slog.Int("variants", len(rec.Variants)))
	if h.metrics != nil {
		h.metrics.IncStreamsStopped()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Stream %s stopped successfully", id),
	})
}

// ListURIs handles GET /uris.
func (h *Handler) ListURIs(w http.ResponseWriter, r *http.Request) {
	uris := h.svc.URIs()
	if uris == nil {
		uris = []URIEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_uris": len(uris),
		"uris":       uris,
	})
}

type presetSummary struct {
	Name     string   `json:"name"`
	Variants []string `json:"variants"`
}

// ListPresets handles GET /presets.
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	presets := h.svc.Presets()
	out := make([]presetSummary, 0, len(presets))
	for _, p := range presets {
		names := make([]string, 0, len(p.Variants))
		for _, v := range p.Variants {
			names = append(names, v.Name())
		}
		out = append(out, presetSummary{Name: p.Name, Variants: names})
	}
	writeJSON(w, http.StatusOK, map[string]any{"presets": out, "default": DefaultPreset})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
}

// Root handles GET / with a short description of the service.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]string{
			"start_transcoding": "POST /start-transcoding",
			"list_streams":      "GET /streams",
			"stream_status":     "GET /streams/{stream_id}",
			"master_playlist":   "GET /streams/{stream_id}/master.m3u8",
			"stop_stream":       "DELETE /streams/{stream_id}",
			"get_all_uris":      "GET /uris",
			"list_presets":      "GET /presets",
			"serve_playlist":    "GET /{variant_name}.m3u8",
			"serve_segment":     "GET /{segment_name}",
			"health":            "GET /health",
			"metrics":           "GET /metrics",
		},
	})
}

// ServeFile handles GET /{file}: variant playlists, segments and single-file
// outputs from the working directory.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	if file == "" || file != filepath.Base(file) || strings.Contains(file, "..") || strings.ContainsAny(file, `/\`) {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	if name, ok := strings.CutSuffix(file, ".m3u8"); ok {
		h.servePlaylist(w, r, name)
		return
	}

	path := filepath.Join(h.files.Dir, file)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "Segment not found")
		return
	}
	ct, ok := segmentContentTypes[strings.ToLower(filepath.Ext(file))]
	if !ok {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	http.ServeFile(w, r, path)
}

func (h *Handler) servePlaylist(w http.ResponseWriter, r *http.Request, name string) {
	if v, ok := h.svc.Variant(name); ok && !v.Segmented() {
		http.Redirect(w, r, "/"+transcode.OutputFile(v), http.StatusTemporaryRedirect)
		return
	}

	path := filepath.Join(h.files.Dir, name+".m3u8")
	if _, err := os.Stat(path); err != nil {
		if !h.waitForPlaylist(r.Context(), name) {
			writeError(w, http.StatusNotFound, h.missingPlaylistMessage(name))
			return
		}
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

// waitForPlaylist waits for an active variant's playlist to be written.
func (h *Handler) waitForPlaylist(ctx context.Context, name string) bool {
	if h.files.Readiness == nil {
		return false
	}
	if !h.svc.VariantActive(name) {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, h.files.PlaylistWait)
	defer cancel()
	return h.files.Readiness.WaitReady(ctx, name) == nil
}

func (h *Handler) missingPlaylistMessage(name string) string {
	uris := h.svc.URIs()
	if len(uris) == 0 {
		return fmt.Sprintf("Playlist '%s.m3u8' not found. No active transcoding streams. Start transcoding first with POST /start-transcoding.", name)
	}
	names := make([]string, 0, len(uris))
	for _, u := range uris {
		names = append(names, u.VariantName)
	}
	return fmt.Sprintf("Playlist '%s.m3u8' not found. Available variants: [%s]", name, strings.Join(names, ", "))
}
