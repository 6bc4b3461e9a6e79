package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App holds the service settings. Each field can come from the environment
// or from the app section of a config file.
type App struct {
	Port                 int           `yaml:"port" json:"port"`
	PublishHost          string        `yaml:"publish_host" json:"publish_host"`
	PublishPort          int           `yaml:"publish_port" json:"publish_port"`
	WorkDir              string        `yaml:"work_dir" json:"work_dir"`
	FFmpegPath           string        `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	StopGracePeriod      time.Duration `yaml:"stop_grace_period" json:"stop_grace_period"`
	PlaylistWait         time.Duration `yaml:"playlist_wait" json:"playlist_wait"`
	MaxConcurrentStreams int           `yaml:"max_concurrent_streams" json:"max_concurrent_streams"`
	LogLevel             string        `yaml:"log_level" json:"log_level"`
	LogFormat            string        `yaml:"log_format" json:"log_format"`
}

// FromEnv returns the settings from environment variables with their defaults.
// PublishPort stays zero when PUBLISH_PORT is unset; see Finalize.
func FromEnv() App {
	return App{
		Port:                 GetEnvInt("PORT", 8080),
		PublishHost:          GetEnv("PUBLISH_HOST", "localhost"),
		PublishPort:          GetEnvInt("PUBLISH_PORT", 0),
		WorkDir:              GetEnv("WORK_DIR", ""),
		FFmpegPath:           GetEnv("FFMPEG_PATH", "ffmpeg"),
		StopGracePeriod:      GetEnvDuration("STOP_GRACE_PERIOD", 10*time.Second),
		PlaylistWait:         GetEnvDuration("PLAYLIST_WAIT", time.Second),
		MaxConcurrentStreams: GetEnvInt("MAX_CONCURRENT_STREAMS", 5),
		LogLevel:             GetEnv("LOG_LEVEL", "info"),
		LogFormat:            GetEnv("LOG_FORMAT", "json"),
	}
}

// Merge returns a with every non-zero field of o applied on top.
func (a App) Merge(o App) App {
	if o.Port != 0 {
		a.Port = o.Port
	}
	if o.PublishHost != "" {
		a.PublishHost = o.PublishHost
	}
	if o.PublishPort != 0 {
		a.PublishPort = o.PublishPort
	}
	if o.WorkDir != "" {
		a.WorkDir = o.WorkDir
	}
	if o.FFmpegPath != "" {
		a.FFmpegPath = o.FFmpegPath
	}
	if o.StopGracePeriod != 0 {
		a.StopGracePeriod = o.StopGracePeriod
	}
	if o.PlaylistWait != 0 {
		a.PlaylistWait = o.PlaylistWait
	}
	if o.MaxConcurrentStreams != 0 {
		a.MaxConcurrentStreams = o.MaxConcurrentStreams
	}
	if o.LogLevel != "" {
		a.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		a.LogFormat = o.LogFormat
	}
	return a
}

// Finalize fills derived defaults: the publish port defaults to the
// listening port.
func (a App) Finalize() App {
	if a.PublishPort == 0 {
		a.PublishPort = a.Port
	}
	return a
}

// LoadFile decodes a YAML config file into out. JSON is a subset of YAML, so
// JSON files are accepted too. Durations are written as strings like "10s".
func LoadFile(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
