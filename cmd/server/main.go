package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"hls-forward/internal/platform/config"
	"hls-forward/internal/platform/logger"
	"hls-forward/internal/platform/metrics"
	"hls-forward/internal/streaming"
	"hls-forward/internal/transcode"
	"hls-forward/internal/workdir"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

// fileConfig is the layout of the optional CONFIG_FILE.
type fileConfig struct {
	App     config.App         `yaml:"app"`
	Presets []streaming.Preset `yaml:"presets"`
}

func main() {
	_ = config.Load()

	cfg := config.FromEnv()
	var file fileConfig
	configFile := config.GetEnv("CONFIG_FILE", "")
	var configErr error
	if configFile != "" {
		if configErr = config.LoadFile(configFile, &file); configErr == nil {
			cfg = cfg.Merge(file.App)
		}
	}
	cfg = cfg.Finalize()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if configErr != nil {
		log.Error("config file error", "path", configFile, "error", configErr)
		os.Exit(1)
	}

	met := metrics.New()

	engine, err := transcode.NewEngine(transcode.EngineOptions{
		WorkDir:     cfg.WorkDir,
		Binary:      cfg.FFmpegPath,
		GracePeriod: cfg.StopGracePeriod,
		Logger:      log,
		OnExit: func(name string, result transcode.ExitResult, err error) {
			met.ObserveTranscoderExit(string(result))
		},
	})
	if err != nil {
		log.Error("engine init failed", "error", err)
		os.Exit(1)
	}

	watcher, err := workdir.New(engine.WorkDir(), logger.WithComponent(log, "watcher"), func(string) {
		met.IncSegmentsProduced()
	})
	if err != nil {
		log.Error("watcher init failed", "work_dir", engine.WorkDir(), "error", err)
		_ = engine.Close()
		os.Exit(1)
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	go watcher.Run(watchCtx)

	registry := streaming.NewInMemoryRegistry(cfg.MaxConcurrentStreams)
	svc := streaming.NewService(engine, registry, streaming.ServiceOptions{
		PublishHost: cfg.PublishHost,
		PublishPort: cfg.PublishPort,
		Presets:     streaming.NewPresetCatalog(file.Presets...),
		Readiness:   watcher,
	})
	h := streaming.NewHandler(svc, streaming.Files{
		Dir:          engine.WorkDir(),
		Readiness:    watcher,
		PlaylistWait: cfg.PlaylistWait,
	}, logger.WithComponent(log, "http"), met)

	r := chi.NewRouter()
	r.Use(logger.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveStreams(svc.ActiveStreamCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + strconv.Itoa(cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"publish_host", cfg.PublishHost,
		"publish_port", cfg.PublishPort,
		"work_dir", engine.WorkDir(),
		"ffmpeg", cfg.FFmpegPath,
		"stop_grace_period", cfg.StopGracePeriod.String(),
		"max_concurrent_streams", cfg.MaxConcurrentStreams,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	exitCode := 0
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		exitCode = 1
	}

	stopWatch()
	if err := watcher.Close(); err != nil {
		log.Error("watcher close error", "error", err)
	}
	if err := engine.Close(); err != nil {
		log.Error("engine close error", "error", err)
		exitCode = 1
	}

	log.Info("server stopped")
	cancel()
	os.Exit(exitCode)
}
