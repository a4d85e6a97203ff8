package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("config: file not found, using defaults", "path", path)
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are an error. Empty input is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.URL != "" {
		u, err := url.Parse(cfg.Server.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("server.url: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("server.url %q must use the ws or wss scheme", cfg.Server.URL))
		case u.Scheme == "ws":
			slog.Warn("server.url is not encrypted; credentials are sent in clear text", "url", cfg.Server.URL)
		}
	}

	// Session
	for name, d := range map[string]int64{
		"session.command_timeout": int64(cfg.Session.CommandTimeout),
		"session.logon_timeout":   int64(cfg.Session.LogonTimeout),
		"session.close_timeout":   int64(cfg.Session.CloseTimeout),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if cfg.Session.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("session.event_buffer %d must not be negative", cfg.Session.EventBuffer))
	}

	// Audio
	a := cfg.Audio
	if a.PCMQueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("audio.pcm_queue_capacity %d must not be negative", a.PCMQueueCapacity))
	}
	if a.DecodeFailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.decode_failure_threshold %d must not be negative", a.DecodeFailureThreshold))
	}
	if a.SampleRate != 0 && a.Channels != 0 && a.FrameSizeMs != 0 && a.FramesPerPacket != 0 {
		if err := a.Params().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("audio: %w", err))
		}
	}
	if a.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d must not be negative", a.OutputSampleRate))
	}
	if a.OutputChannels < 0 || a.OutputChannels > 2 {
		errs = append(errs, fmt.Errorf("audio.output_channels %d is invalid; valid values: 0, 1, 2", a.OutputChannels))
	}

	return errors.Join(errs...)
}
