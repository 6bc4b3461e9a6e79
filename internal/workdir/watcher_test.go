package workdir

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, dir string, onSegment func(string)) *Watcher {
	t.Helper()
	w, err := New(dir, nil, onSegment)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
	})
	return w
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("#EXTM3U\n"), 0o644))
}

func TestWatcher_existing_playlist_is_ready(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "h264_1280x720_3000k_ts.m3u8"))

	w := startWatcher(t, dir, nil)
	assert.True(t, w.Ready("h264_1280x720_3000k_ts"))
	assert.False(t, w.Ready("h264_854x480_1500k_ts"))
}

func TestWatcher_WaitReady(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, nil)

	errc := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errc <- w.WaitReady(ctx, "v1")
	}()

	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "v1.m3u8"))

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("WaitReady did not return")
	}
	assert.True(t, w.Ready("v1"))
}

func TestWatcher_WaitReady_times_out(t *testing.T) {
	w := startWatcher(t, t.TempDir(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := w.WaitReady(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatcher_WaitReady_after_close(t *testing.T) {
	w := startWatcher(t, t.TempDir(), nil)
	require.NoError(t, w.Close())

	err := w.WaitReady(context.Background(), "v1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, w.Close(), "Close is idempotent")
}

func TestWatcher_counts_segments(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	w := startWatcher(t, dir, func(variant string) {
		if variant == "v1" {
			calls.Add(1)
		}
	})

	writeFile(t, filepath.Join(dir, "v1_000.ts"))
	writeFile(t, filepath.Join(dir, "v1_001.ts"))
	writeFile(t, filepath.Join(dir, "v1_init.mp4"))

	require.Eventually(t, func() bool {
		return w.SegmentCount("v1") == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
	assert.Zero(t, w.SegmentCount("v2"))
}

func TestSegmentVariant(t *testing.T) {
	tests := []struct {
		file string
		want string
		ok   bool
	}{
		{"h264_1280x720_3000k_ts_000.ts", "h264_1280x720_3000k_ts", true},
		{"h265_1280x720_2000k_fmp4_012.m4s", "h265_1280x720_2000k_fmp4", true},
		{"h265_1280x720_2000k_fmp4_init.mp4", "", false},
		{"v1.m3u8", "", false},
		{"v1_abc.ts", "", false},
		{"_000.ts", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got, ok := segmentVariant(tt.file)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
