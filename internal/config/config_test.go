package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/pushtalk/internal/config"
	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/ptt/codec"
	"github.com/MrWong99/pushtalk/pkg/ptt/session"
)

const fullYAML = `
server:
  url: wss://ptt.example.com/ws
  log_level: debug
session:
  command_timeout: 3s
  logon_timeout: 8s
  close_timeout: 500ms
  event_buffer: 16
audio:
  pcm_queue_capacity: 40
  decode_failure_threshold: 5
  reorder_tolerance: 2
  sample_rate: 48000
  channels: 1
  frame_size_ms: 20
  frames_per_packet: 2
  output_sample_rate: 44100
  output_channels: 2
telemetry:
  listen_addr: ":9090"
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.URL != "wss://ptt.example.com/ws" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	want := config.SessionConfig{
		CommandTimeout: 3 * time.Second,
		LogonTimeout:   8 * time.Second,
		CloseTimeout:   500 * time.Millisecond,
		EventBuffer:    16,
	}
	if cfg.Session != want {
		t.Errorf("session = %+v, want %+v", cfg.Session, want)
	}
	wantParams := codec.Params{SampleRate: 48000, Channels: 1, FrameSizeMs: 20, FramesPerPacket: 2}
	if got := cfg.Audio.Params(); got != wantParams {
		t.Errorf("audio params = %+v, want %+v", got, wantParams)
	}
	if cfg.Audio.OutputSampleRate != 44100 || cfg.Audio.OutputChannels != 2 {
		t.Errorf("output format = %d/%d", cfg.Audio.OutputSampleRate, cfg.Audio.OutputChannels)
	}
	if cfg.Telemetry.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Telemetry.ListenAddr)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := config.Default()
	if *cfg != *def {
		t.Errorf("got %+v, want defaults %+v", cfg, def)
	}
	if cfg.Server.URL != session.DefaultURL {
		t.Errorf("url = %q", cfg.Server.URL)
	}
	if cfg.Session.CommandTimeout != 5*time.Second || cfg.Session.LogonTimeout != 10*time.Second {
		t.Errorf("timeouts = %+v", cfg.Session)
	}
	p := cfg.Audio.Params()
	if p.SampleRate != 16000 || p.Channels != 1 || p.FrameSizeMs != 60 || p.FramesPerPacket != 1 {
		t.Errorf("default params = %+v", p)
	}
	if cfg.Audio.PCMQueueCapacity != 20 || cfg.Audio.DecodeFailureThreshold != 3 || cfg.Audio.ReorderTolerance != 4 {
		t.Errorf("default audio = %+v", cfg.Audio)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  bogus: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  url: https://example.com
  log_level: loud
session:
  command_timeout: -1s
audio:
  sample_rate: 44100
  frame_size_ms: 15
  output_channels: 6
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{
		"server.url", "server.log_level", "session.command_timeout",
		"sample rate 44100", "frame size 15ms", "audio.output_channels",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *cfg != *config.Default() {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("sample_rate = %d", cfg.Audio.SampleRate)
	}

	if err := os.WriteFile(path, []byte("server: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil || !strings.Contains(err.Error(), path) {
		t.Errorf("err = %v, want parse error naming the file", err)
	}
}

func TestConfig_SessionConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatal(err)
	}
	creds := session.Credentials{Username: "u", Password: "p", Token: "t", Channel: "c"}
	sc := cfg.SessionConfig(creds)
	if sc.Credentials != creds || sc.URL != cfg.Server.URL {
		t.Errorf("credentials/url not mapped: %+v", sc)
	}
	if sc.CommandTimeout != 3*time.Second || sc.EventBuffer != 16 || sc.OutputCapacity != 40 {
		t.Errorf("session fields not mapped: %+v", sc)
	}
	if sc.FailureThreshold != 5 || sc.ReorderTolerance != 2 || sc.Outbound != cfg.Audio.Params() {
		t.Errorf("audio fields not mapped: %+v", sc)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  bool
	}{
		{config.LogDebug, true},
		{config.LogInfo, true},
		{config.LogWarn, true},
		{config.LogError, true},
		{"trace", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.level.IsValid(); got != tt.want {
			t.Errorf("%q.IsValid() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestLogLevel_Slog(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.Slog(); got != tt.want {
			t.Errorf("%q.Slog() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestAudioConfig_OutputFormat(t *testing.T) {
	t.Parallel()
	a := config.Default().Audio
	if got := a.OutputFormat(); got != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("default output format = %v", got)
	}
	a.OutputSampleRate, a.OutputChannels = 48000, 2
	if got := a.OutputFormat(); got != (audio.Format{SampleRate: 48000, Channels: 2}) {
		t.Errorf("output format = %v", got)
	}
}
