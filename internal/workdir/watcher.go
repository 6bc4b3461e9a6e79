// Package workdir watches the transcoder working directory for variant
// playlists and segments as the transcoder writes them.
package workdir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned by WaitReady once the watcher is closed.
var ErrClosed = errors.New("workdir watcher closed")

const playlistExt = ".m3u8"

var segmentExts = map[string]bool{".ts": true, ".m4s": true}

// Watcher tracks which variant playlists exist in a directory and counts the
// segments written for each variant.
type Watcher struct {
	dir       string
	fs        *fsnotify.Watcher
	log       *slog.Logger
	onSegment func(variant string)

	mu       sync.Mutex
	ready    map[string]bool
	segments map[string]int
	waiters  map[string][]chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// New starts watching dir. onSegment, when non-nil, is called from the event
// loop for every new segment file. Call Run to process events.
func New(dir string, log *slog.Logger, onSegment func(variant string)) (*Watcher, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		dir:       dir,
		fs:        fw,
		log:       log,
		onSegment: onSegment,
		ready:     make(map[string]bool),
		segments:  make(map[string]int),
		waiters:   make(map[string][]chan struct{}),
		done:      make(chan struct{}),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, e := range entries {
		if name, ok := playlistVariant(e.Name()); ok {
			w.ready[name] = true
		}
	}
	return w, nil
}

// Run processes filesystem events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("workdir watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	base := filepath.Base(event.Name)

	if name, ok := playlistVariant(base); ok {
		switch {
		case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
			w.markReady(name)
		case event.Has(fsnotify.Remove):
			w.mu.Lock()
			delete(w.ready, name)
			w.mu.Unlock()
		}
		return
	}

	if name, ok := segmentVariant(base); ok && event.Has(fsnotify.Create) {
		w.mu.Lock()
		w.segments[name]++
		w.mu.Unlock()
		if w.onSegment != nil {
			w.onSegment(name)
		}
	}
}

func (w *Watcher) markReady(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.ready[name] {
		w.log.Debug("variant playlist ready", slog.String("variant", name))
	}
	w.ready[name] = true
	for _, ch := range w.waiters[name] {
		close(ch)
	}
	delete(w.waiters, name)
}

// Ready reports whether the playlist of the named variant exists.
func (w *Watcher) Ready(name string) bool {
	w.mu.Lock()
	ready := w.ready[name]
	w.mu.Unlock()
	if ready {
		return true
	}
	// Events can be coalesced or dropped under load; the file is the truth.
	if _, err := os.Stat(filepath.Join(w.dir, name+playlistExt)); err == nil {
		w.markReady(name)
		return true
	}
	return false
}

// WaitReady blocks until the named variant's playlist exists, ctx is done or
// the watcher is closed.
func (w *Watcher) WaitReady(ctx context.Context, name string) error {
	ch := make(chan struct{})
	w.mu.Lock()
	if w.ready[name] {
		w.mu.Unlock()
		return nil
	}
	w.waiters[name] = append(w.waiters[name], ch)
	w.mu.Unlock()

	if w.Ready(name) {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		w.removeWaiter(name, ch)
		return ctx.Err()
	case <-w.done:
		return ErrClosed
	}
}

func (w *Watcher) removeWaiter(name string, ch chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.waiters[name]
	for i, c := range list {
		if c == ch {
			w.waiters[name] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(w.waiters[name]) == 0 {
		delete(w.waiters, name)
	}
}

// SegmentCount is the number of segment files created for a variant since
// the watcher started.
func (w *Watcher) SegmentCount(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segments[name]
}

// Close stops watching. Pending WaitReady calls return ErrClosed.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}

// playlistVariant extracts the variant name from {variant}.m3u8.
func playlistVariant(file string) (string, bool) {
	name, ok := strings.CutSuffix(file, playlistExt)
	return name, ok && name != ""
}

// segmentVariant extracts the variant name from {variant}_NNN.{ts,m4s}.
func segmentVariant(file string) (string, bool) {
	ext := filepath.Ext(file)
	if !segmentExts[ext] {
		return "", false
	}
	stem := strings.TrimSuffix(file, ext)
	i := strings.LastIndex(stem, "_")
	if i <= 0 || i == len(stem)-1 {
		return "", false
	}
	for _, r := range stem[i+1:] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return stem[:i], true
}
