package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncStreamsStarted()
	m.IncStreamsStopped()
	m.IncLaunchFailures()
	m.ObserveTranscoderExit("failure")
	m.ObserveTranscoderExit("stopped")
	m.ObserveTranscoderExit("stopped")
	m.IncSegmentsProduced()

	out := scrape(t, m.Handler(func() { m.SetActiveStreams(3) }))

	for _, want := range []string{
		"hls_active_streams 3",
		"hls_streams_started_total 1",
		"hls_streams_stopped_total 1",
		"hls_transcoder_launch_failures_total 1",
		`hls_transcoder_exits_total{result="failure"} 1`,
		`hls_transcoder_exits_total{result="stopped"} 2`,
		"hls_segments_produced_total 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in scrape output:\n%s", want, out)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/streams/{stream_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Delete("/streams/{stream_id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stream not found", http.StatusNotFound)
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/streams/a", nil),
		httptest.NewRequest(http.MethodGet, "/streams/b", nil),
		httptest.NewRequest(http.MethodDelete, "/streams/a", nil),
		httptest.NewRequest(http.MethodGet, "/missing", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	out := scrape(t, m.Handler(nil))
	for _, want := range []string{
		`hls_requests_total{code="200",route="/streams/{stream_id}"} 2`,
		`hls_requests_total{code="404",route="/streams/{stream_id}"} 1`,
		`hls_requests_total{code="404",route="unmatched"} 1`,
		"hls_errors_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in scrape output:\n%s", want, out)
		}
	}
	if strings.Contains(out, `route="/streams/a"`) {
		t.Errorf("raw paths must not be used as labels:\n%s", out)
	}
}

func TestRequestMiddleware_without_router(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	out := scrape(t, m.Handler(nil))
	if !strings.Contains(out, `hls_requests_total{code="418",route="unmatched"} 1`) {
		t.Errorf("expected unmatched request:\n%s", out)
	}
}
