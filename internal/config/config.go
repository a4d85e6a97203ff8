// Package config provides the configuration schema, loader, credential
// source and file watcher for the pushtalk client.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/ptt/codec"
	"github.com/MrWong99/pushtalk/pkg/ptt/session"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the slog level for l. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Audio     AudioConfig     `yaml:"audio"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig selects the endpoint and logging.
type ServerConfig struct {
	// URL is the WebSocket endpoint (e.g., "wss://zello.io/ws").
	URL string `yaml:"url"`

	// LogLevel controls verbosity. It is the only setting applied without a
	// restart.
	LogLevel LogLevel `yaml:"log_level"`
}

// SessionConfig holds protocol timing. Durations are YAML duration strings
// such as "5s" or "250ms".
type SessionConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	LogonTimeout   time.Duration `yaml:"logon_timeout"`
	CloseTimeout   time.Duration `yaml:"close_timeout"`

	// EventBuffer is the capacity of the session event channel.
	EventBuffer int `yaml:"event_buffer"`
}

// AudioConfig describes the outgoing stream format, inbound buffering and
// the local device format.
type AudioConfig struct {
	// PCMQueueCapacity bounds decoded frames waiting for the output device.
	// The oldest frame is dropped when full.
	PCMQueueCapacity int `yaml:"pcm_queue_capacity"`

	// DecodeFailureThreshold is the number of consecutive decode failures
	// that tear an inbound stream down.
	DecodeFailureThreshold int `yaml:"decode_failure_threshold"`

	// ReorderTolerance is how many packet ids behind the expected one a
	// packet is still considered late rather than a stream reset.
	ReorderTolerance uint32 `yaml:"reorder_tolerance"`

	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FrameSizeMs     int `yaml:"frame_size_ms"`
	FramesPerPacket int `yaml:"frames_per_packet"`

	// OutputSampleRate and OutputChannels are the device format. Zero keeps
	// the stream format.
	OutputSampleRate int `yaml:"output_sample_rate"`
	OutputChannels   int `yaml:"output_channels"`
}

// Params returns the outgoing codec parameters.
func (a AudioConfig) Params() codec.Params {
	return codec.Params{
		SampleRate:      a.SampleRate,
		Channels:        a.Channels,
		FrameSizeMs:     a.FrameSizeMs,
		FramesPerPacket: a.FramesPerPacket,
	}
}

// OutputFormat returns the device format for decoded audio, falling back to
// the stream format for zero fields.
func (a AudioConfig) OutputFormat() audio.Format {
	f := audio.Format{SampleRate: a.OutputSampleRate, Channels: a.OutputChannels}
	if f.SampleRate == 0 {
		f.SampleRate = a.SampleRate
	}
	if f.Channels == 0 {
		f.Channels = a.Channels
	}
	return f
}

// TelemetryConfig configures the metrics and health HTTP server.
type TelemetryConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz (e.g., ":9090").
	// Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a config populated with every default value.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.URL == "" {
		cfg.Server.URL = session.DefaultURL
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	s := &cfg.Session
	if s.CommandTimeout == 0 {
		s.CommandTimeout = 5 * time.Second
	}
	if s.LogonTimeout == 0 {
		s.LogonTimeout = 10 * time.Second
	}
	if s.CloseTimeout == 0 {
		s.CloseTimeout = 2 * time.Second
	}
	if s.EventBuffer == 0 {
		s.EventBuffer = 64
	}

	a := &cfg.Audio
	if a.PCMQueueCapacity == 0 {
		a.PCMQueueCapacity = 20
	}
	if a.DecodeFailureThreshold == 0 {
		a.DecodeFailureThreshold = 3
	}
	if a.ReorderTolerance == 0 {
		a.ReorderTolerance = 4
	}
	if a.SampleRate == 0 {
		a.SampleRate = 16000
	}
	if a.Channels == 0 {
		a.Channels = 1
	}
	if a.FrameSizeMs == 0 {
		a.FrameSizeMs = 60
	}
	if a.FramesPerPacket == 0 {
		a.FramesPerPacket = 1
	}
}

// SessionConfig maps cfg onto a session configuration for creds.
func (cfg *Config) SessionConfig(creds session.Credentials) session.Config {
	return session.Config{
		Credentials:      creds,
		URL:              cfg.Server.URL,
		CommandTimeout:   cfg.Session.CommandTimeout,
		LogonTimeout:     cfg.Session.LogonTimeout,
		CloseTimeout:     cfg.Session.CloseTimeout,
		EventBuffer:      cfg.Session.EventBuffer,
		OutputCapacity:   cfg.Audio.PCMQueueCapacity,
		Outbound:         cfg.Audio.Params(),
		FailureThreshold: cfg.Audio.DecodeFailureThreshold,
		ReorderTolerance: cfg.Audio.ReorderTolerance,
	}
}
