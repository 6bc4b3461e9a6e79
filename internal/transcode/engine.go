// Package transcode turns a transcode request into one supervised transcoder
// process per output variant and reports where each variant is published.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"hls-forward/internal/platform/logger"
	"hls-forward/internal/playlist"
)

// ErrEngineClosed is returned by StartTranscoding after Close.
var ErrEngineClosed = errors.New("transcoding engine is closed")

// ManifestResolver resolves a master playlist into its renditions.
type ManifestResolver interface {
	ResolveMaster(ctx context.Context, url string) ([]playlist.SourceRendition, error)
	Close()
}

// ProcessRunner owns the table of running transcoder processes.
type ProcessRunner interface {
	Start(args []string, name string) (*Process, error)
	Stop(name string) error
	StopAll() error
	Lookup(name string) (*Process, bool)
	// Close stops every process and refuses later starts.
	Close() error
}

// EngineOptions configures an Engine. Resolver and Runner default to a
// playlist.Resolver and a Supervisor built from the remaining fields.
type EngineOptions struct {
	// WorkDir receives every variant's output. A temporary directory is
	// created when empty.
	WorkDir     string
	Resolver    ManifestResolver
	Runner      ProcessRunner
	Binary      string
	GracePeriod time.Duration
	Logger      *slog.Logger
	OnExit      func(name string, result ExitResult, err error)
}

// Engine starts and stops transcodes. It keeps one process table shared by
// every request it served; grouping variants by stream is up to the caller.
type Engine struct {
	workDir  string
	ownsDir  bool
	resolver ManifestResolver
	runner   ProcessRunner
	log      *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	workDir, owns, err := prepareWorkDir(opts.WorkDir)
	if err != nil {
		return nil, err
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = playlist.NewResolver(nil, logger.WithComponent(log, "resolver"))
	}
	runner := opts.Runner
	if runner == nil {
		runner = NewSupervisor(SupervisorOptions{
			Binary:      opts.Binary,
			WorkDir:     workDir,
			GracePeriod: opts.GracePeriod,
			Logger:      logger.WithComponent(log, "supervisor"),
			OnExit:      opts.OnExit,
		})
	}

	return &Engine{
		workDir:  workDir,
		ownsDir:  owns,
		resolver: resolver,
		runner:   runner,
		log:      logger.WithComponent(log, "engine"),
		closed:   make(chan struct{}),
	}, nil
}

// prepareWorkDir returns the directory to write into and whether the engine
// created it (and so may remove it on Close).
func prepareWorkDir(dir string) (string, bool, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "hls-forward-")
		if err != nil {
			return "", false, fmt.Errorf("create working dir: %w", err)
		}
		return tmp, true, nil
	}
	if _, err := os.Stat(dir); err == nil {
		return dir, false, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("create working dir %s: %w", dir, err)
	}
	return dir, true, nil
}

// WorkDir is the directory variant playlists and segments are written to.
func (e *Engine) WorkDir() string { return e.workDir }

// StartTranscoding resolves the request's master playlist, picks the highest
// bandwidth rendition as the source and starts one transcoder per output
// variant, in request order. It returns variant name → publish URL.
//
// Resolver errors are returned unchanged. When a variant fails to launch after
// others have started, the started ones are left running and a
// *PartialStartError carries them; when the first variant fails the
// *LaunchError is returned as is. A Close that lands while the manifest is
// being resolved makes the call fail with ErrEngineClosed.
func (e *Engine) StartTranscoding(ctx context.Context, req Request) (map[string]string, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	renditions, err := e.resolver.ResolveMaster(ctx, req.InputURL)
	if err != nil {
		return nil, err
	}
	source, err := playlist.SelectSource(renditions)
	if err != nil {
		return nil, err
	}
	e.log.Info("source rendition selected",
		slog.String("input_url", req.InputURL),
		slog.String("uri", source.URI),
		slog.Int64("bandwidth", source.Bandwidth),
		slog.Int("renditions", len(renditions)))

	urls := make(map[string]string, len(req.OutputVariants))
	for _, v := range req.OutputVariants {
		name := v.Name()
		if e.isClosed() {
			return nil, ErrEngineClosed
		}
		args := BuildCommand(req.InputURL, e.workDir, v, source)
		if _, err := e.runner.Start(args, name); err != nil {
			if len(urls) == 0 || errors.Is(err, ErrEngineClosed) {
				return nil, err
			}
			return nil, &PartialStartError{Started: urls, Failed: name, Err: err}
		}
		urls[name] = req.PublishURL(name)
	}
	return urls, nil
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

// StopTranscoding stops the named variant's process, or every process when
// name is empty.
func (e *Engine) StopTranscoding(name string) error {
	if name == "" {
		return e.runner.StopAll()
	}
	return e.runner.Stop(name)
}

// Status reports the process behind a variant name.
func (e *Engine) Status(name string) (ProcessStatus, bool) {
	p, ok := e.runner.Lookup(name)
	if !ok {
		return ProcessStatus{}, false
	}
	return p.Status(), true
}

// Close stops every process, releases the resolver's connections and removes
// the working directory if the engine created it. It is safe to call more
// than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		if stopErr := e.runner.Close(); stopErr != nil {
			err = fmt.Errorf("stop transcoders: %w", stopErr)
		}
		e.resolver.Close()
		if e.ownsDir {
			if rmErr := os.RemoveAll(e.workDir); rmErr != nil {
				err = errors.Join(err, fmt.Errorf("remove working dir: %w", rmErr))
			}
		}
		e.log.Info("transcoding engine closed", slog.String("work_dir", e.workDir))
	})
	return err
}
