package streaming

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"hls-forward/internal/playlist"
	"hls-forward/internal/transcode"
)

// fakeEngine starts variants in order. failAt >= 0 makes the variant at that
// index fail; err, when set, fails the whole call before anything starts.
type fakeEngine struct {
	mu       sync.Mutex
	err      error
	failAt   int
	requests []transcode.Request
	running  map[string]bool
	stopped  []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{failAt: -1, running: map[string]bool{}}
}

func (e *fakeEngine) StartTranscoding(_ context.Context, req transcode.Request) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if e.err != nil {
		return nil, e.err
	}
	urls := map[string]string{}
	for i, v := range req.OutputVariants {
		name := v.Name()
		if i == e.failAt {
			launch := &transcode.LaunchError{Variant: name, Err: errors.New("exec: not found")}
			if i == 0 {
				return nil, launch
			}
			return nil, &transcode.PartialStartError{Started: urls, Failed: name, Err: launch}
		}
		urls[name] = req.PublishURL(name)
		e.running[name] = true
	}
	return urls, nil
}

func (e *fakeEngine) StopTranscoding(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = append(e.stopped, name)
	delete(e.running, name)
	return nil
}

func (e *fakeEngine) Status(name string) (transcode.ProcessStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running[name] {
		return transcode.ProcessStatus{}, false
	}
	return transcode.ProcessStatus{Name: name, PID: 4242, Running: true}, true
}

type fakeReadiness map[string]bool

func (f fakeReadiness) Ready(name string) bool { return f[name] }

func (f fakeReadiness) WaitReady(ctx context.Context, name string) error {
	if f[name] {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func newTestService(engine Engine) *Service {
	return NewService(engine, NewInMemoryRegistry(0), ServiceOptions{PublishPort: 8080})
}

func TestService_Start_default_preset(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(engine)

	rec, err := svc.Start(context.Background(), StartRequest{InputURL: "http://origin/live/master.m3u8"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Preset != DefaultPreset {
		t.Errorf("Preset = %q, want %q", rec.Preset, DefaultPreset)
	}
	if len(rec.Variants) != 3 {
		t.Fatalf("expected 3 variants, got %v", rec.Variants)
	}
	want := "http://localhost:8080/h264_1280x720_3000k_ts.m3u8"
	if got := rec.Variants["h264_1280x720_3000k_ts"]; got != want {
		t.Errorf("publish url = %q, want %q", got, want)
	}
	if rec.ID != "http://origin/live/master.m3u8" {
		t.Errorf("stream id = %q", rec.ID)
	}
	if rec.Partial {
		t.Error("full start should not be partial")
	}
}

func TestService_Start_explicit_variants_override_preset(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(engine)

	v := transcode.StreamVariant{
		Codec:      transcode.VideoVP9,
		AudioCodec: transcode.AudioOpus,
		Resolution: transcode.Resolution{Width: 640, Height: 360},
		Bitrate:    800,
		Container:  transcode.ContainerWebM,
	}
	rec, err := svc.Start(context.Background(), StartRequest{
		InputURL:   "http://origin/master.m3u8",
		Preset:     "multi_codec",
		Variants:   []transcode.StreamVariant{v},
		OutputHost: "cdn.example",
		OutputPort: 9000,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Preset != "" {
		t.Errorf("explicit variants should not record a preset, got %q", rec.Preset)
	}
	if len(rec.Variants) != 1 || rec.Variants[v.Name()] != "http://cdn.example:9000/vp9_640x360_800k_webm.m3u8" {
		t.Errorf("unexpected variants %v", rec.Variants)
	}
}

func TestService_Start_unknown_preset(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(engine)

	_, err := svc.Start(context.Background(), StartRequest{InputURL: "http://origin/master.m3u8", Preset: "nope"})
	if !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("expected ErrUnknownPreset, got %v", err)
	}
	if len(engine.requests) != 0 {
		t.Error("engine should not be called for an unknown preset")
	}
}

func TestService_Start_invalid_url(t *testing.T) {
	svc := newTestService(newFakeEngine())
	_, err := svc.Start(context.Background(), StartRequest{InputURL: "ftp://origin/master.m3u8"})
	if !errors.Is(err, transcode.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestService_Start_duplicate(t *testing.T) {
	svc := newTestService(newFakeEngine())
	sr := StartRequest{InputURL: "http://origin/master.m3u8"}

	if _, err := svc.Start(context.Background(), sr); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Start(context.Background(), sr)
	if !errors.Is(err, ErrStreamActive) {
		t.Errorf("expected ErrStreamActive, got %v", err)
	}
}

func TestService_Start_engine_error_releases(t *testing.T) {
	engine := newFakeEngine()
	engine.err = &playlist.FetchError{URL: "http://origin/master.m3u8", StatusCode: 404}
	svc := newTestService(engine)
	sr := StartRequest{InputURL: "http://origin/master.m3u8"}

	_, err := svc.Start(context.Background(), sr)
	var fetchErr *playlist.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if svc.ActiveStreamCount() != 0 {
		t.Error("failed start should not be registered")
	}
	if svc.VariantActive("h264_1920x1080_5000k_ts") {
		t.Error("failed start should release its variant names")
	}

	engine.err = nil
	if _, err := svc.Start(context.Background(), sr); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestService_Start_partial(t *testing.T) {
	engine := newFakeEngine()
	engine.failAt = 1
	svc := newTestService(engine)

	rec, err := svc.Start(context.Background(), StartRequest{InputURL: "http://origin/master.m3u8"})
	var partial *transcode.PartialStartError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialStartError, got %v", err)
	}
	if rec == nil || !rec.Partial {
		t.Fatalf("expected partial record, got %+v", rec)
	}
	if len(rec.Variants) != 1 {
		t.Errorf("expected 1 started variant, got %v", rec.Variants)
	}

	got, ok := svc.Get(rec.ID)
	if !ok || !got.Partial {
		t.Fatal("partial stream should be registered")
	}
	if svc.VariantActive(partial.Failed) {
		t.Error("failed variant should not be held")
	}
}

func TestService_Start_first_variant_fails(t *testing.T) {
	engine := newFakeEngine()
	engine.failAt = 0
	svc := newTestService(engine)

	rec, err := svc.Start(context.Background(), StartRequest{InputURL: "http://origin/master.m3u8"})
	var launchErr *transcode.LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if rec != nil {
		t.Errorf("expected no record, got %+v", rec)
	}
	if svc.ActiveStreamCount() != 0 {
		t.Error("nothing should be registered")
	}
}

func TestService_Stop(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(engine)

	a, err := svc.Start(context.Background(), StartRequest{InputURL: "http://origin/a.m3u8", Preset: "standard"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.Start(context.Background(), StartRequest{InputURL: "http://origin/b.m3u8", Preset: "modern_web"})
	if err != nil {
		t.Fatal(err)
	}

	stopped, err := svc.Stop(a.ID)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if stopped.ID != a.ID {
		t.Errorf("Stop returned %q", stopped.ID)
	}

	got := append([]string(nil), engine.stopped...)
	sort.Strings(got)
	want := a.VariantNames()
	if len(got) != len(want) {
		t.Fatalf("stopped %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stopped %v, want %v", got, want)
		}
	}

	if _, ok := svc.Get(a.ID); ok {
		t.Error("stopped stream should be gone")
	}
	if _, ok := svc.Get(b.ID); !ok {
		t.Error("other stream should keep running")
	}
	if _, err := svc.Start(context.Background(), StartRequest{InputURL: string(a.ID)}); err != nil {
		t.Errorf("restart after stop: %v", err)
	}
}

func TestService_Stop_not_found(t *testing.T) {
	svc := newTestService(newFakeEngine())
	_, err := svc.Stop("missing")
	if !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestService_URIs(t *testing.T) {
	svc := newTestService(newFakeEngine())
	_, _ = svc.Start(context.Background(), StartRequest{InputURL: "http://origin/b.m3u8", Preset: "modern_web"})
	_, _ = svc.Start(context.Background(), StartRequest{InputURL: "http://origin/a.m3u8"})

	uris := svc.URIs()
	if len(uris) != 6 {
		t.Fatalf("expected 6 uris, got %d", len(uris))
	}
	if uris[0].StreamID != "http://origin/a.m3u8" || uris[3].StreamID != "http://origin/b.m3u8" {
		t.Errorf("uris not grouped by ordered stream id: %+v", uris)
	}
	if uris[0].URI != "http://localhost:8080/"+uris[0].VariantName+".m3u8" {
		t.Errorf("unexpected uri %+v", uris[0])
	}
}

func TestService_Status(t *testing.T) {
	engine := newFakeEngine()
	ready := fakeReadiness{"h264_1920x1080_5000k_ts": true}
	svc := NewService(engine, NewInMemoryRegistry(0), ServiceOptions{PublishPort: 8080, Readiness: ready})

	rec, err := svc.Start(context.Background(), StartRequest{InputURL: "http://origin/master.m3u8"})
	if err != nil {
		t.Fatal(err)
	}

	st, err := svc.Status(rec.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st.Variants) != 3 {
		t.Fatalf("expected 3 variant states, got %d", len(st.Variants))
	}
	top := st.Variants["h264_1920x1080_5000k_ts"]
	if !top.Ready || top.Process == nil || !top.Process.Running {
		t.Errorf("unexpected status %+v", top)
	}
	if st.Variants["h264_854x480_1500k_ts"].Ready {
		t.Error("480p playlist should not be ready")
	}

	if _, err := svc.Status("missing"); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestService_Variant(t *testing.T) {
	svc := newTestService(newFakeEngine())
	_, _ = svc.Start(context.Background(), StartRequest{InputURL: "http://origin/master.m3u8", Preset: "legacy_support"})

	v, ok := svc.Variant("mpeg4_720x576_1200k_avi")
	if !ok || v.Container != transcode.ContainerAVI {
		t.Errorf("Variant = %+v, %v", v, ok)
	}
	if _, ok := svc.Variant("unknown"); ok {
		t.Error("unknown variant should not be found")
	}
}

func TestService_Start_concurrent_same_input(t *testing.T) {
	engine := newFakeEngine()
	svc := newTestService(engine)
	const n = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
		active  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Start(context.Background(), StartRequest{InputURL: "http://origin/master.m3u8"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case errors.Is(err, ErrStreamActive):
				active++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if started != 1 || active != n-1 {
		t.Errorf("started=%d active=%d, want 1 and %d", started, active, n-1)
	}
	engine.mu.Lock()
	calls := len(engine.requests)
	engine.mu.Unlock()
	if calls != 1 {
		t.Errorf("engine started %d transcode sets, want 1", calls)
	}
	if n := svc.ActiveStreamCount(); n != 1 {
		t.Errorf("ActiveStreamCount = %d", n)
	}
}
