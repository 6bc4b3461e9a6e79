package streaming

import (
	"strings"
	"testing"

	"hls-forward/internal/transcode"
)

func TestBuildMasterPlaylist_lists_variants_in_order(t *testing.T) {
	preset, _ := NewPresetCatalog().Get("standard")
	rec := &StreamRecord{
		ID:       "http://origin/master.m3u8",
		Config:   transcode.Request{OutputVariants: preset.Variants},
		Variants: map[string]string{},
	}
	for _, v := range preset.Variants {
		rec.Variants[v.Name()] = "http://localhost:8080/" + v.Name() + ".m3u8"
	}

	out := BuildMasterPlaylist(rec)

	if !strings.HasPrefix(out, "#EXTM3U\n") {
		t.Errorf("expected #EXTM3U header: %s", out)
	}
	if n := strings.Count(out, "#EXT-X-STREAM-INF"); n != 3 {
		t.Errorf("expected 3 variants, got %d: %s", n, out)
	}
	if !strings.Contains(out, "BANDWIDTH=5000000") || !strings.Contains(out, "RESOLUTION=1920x1080") {
		t.Errorf("expected 1080p entry with bandwidth in bits/s: %s", out)
	}

	first := strings.Index(out, "h264_1920x1080_5000k_ts.m3u8")
	last := strings.Index(out, "h264_854x480_1500k_ts.m3u8")
	if first < 0 || last < 0 || first > last {
		t.Errorf("expected variants in request order: %s", out)
	}
}

func TestBuildMasterPlaylist_skips_variants_that_did_not_start(t *testing.T) {
	preset, _ := NewPresetCatalog().Get("standard")
	started := preset.Variants[0].Name()
	rec := &StreamRecord{
		Config:   transcode.Request{OutputVariants: preset.Variants},
		Variants: map[string]string{started: "http://localhost:8080/" + started + ".m3u8"},
		Partial:  true,
	}

	out := BuildMasterPlaylist(rec)
	if n := strings.Count(out, "#EXT-X-STREAM-INF"); n != 1 {
		t.Errorf("expected 1 variant, got %d: %s", n, out)
	}
	if strings.Contains(out, "h264_1280x720_3000k_ts") {
		t.Errorf("variant that did not start should be omitted: %s", out)
	}
}
