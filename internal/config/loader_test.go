package config

import (
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
discord:
  token: "bot-token"
  guild_id: "g1"
  channel_id: "c1"
wake:
  phrases: ["hey atlas"]
`

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.TargetSampleRate != 16000 {
		t.Errorf("TargetSampleRate = %d, want 16000", cfg.Audio.TargetSampleRate)
	}
	if got := cfg.Segmentation.SilenceTimeout.Std(); got != 750*time.Millisecond {
		t.Errorf("SilenceTimeout = %s, want 750ms", got)
	}
	if got := cfg.Segmentation.MinSegmentDuration.Std(); got != 300*time.Millisecond {
		t.Errorf("MinSegmentDuration = %s, want 300ms", got)
	}
	if got := cfg.Segmentation.MaxSegmentDuration.Std(); got != 15*time.Second {
		t.Errorf("MaxSegmentDuration = %s, want 15s", got)
	}
	if cfg.Buffer.PendingDepth != 250 {
		t.Errorf("PendingDepth = %d, want 250", cfg.Buffer.PendingDepth)
	}
	if got := cfg.Buffer.PendingTimeout.Std(); got != 5*time.Second {
		t.Errorf("PendingTimeout = %s, want 5s", got)
	}
	if cfg.Wake.ActivationThreshold != 0.5 {
		t.Errorf("ActivationThreshold = %v, want 0.5", cfg.Wake.ActivationThreshold)
	}
	if cfg.Connection.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Connection.MaxAttempts)
	}
	if got := cfg.Connection.InitialBackoff.Std(); got != time.Second {
		t.Errorf("InitialBackoff = %s, want 1s", got)
	}
	if got := cfg.Connection.MaxBackoff.Std(); got != 10*time.Second {
		t.Errorf("MaxBackoff = %s, want 10s", got)
	}
	if cfg.STT.Language != "en" {
		t.Errorf("Language = %q, want en", cfg.STT.Language)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	const yml = `
server:
  listen_addr: ":9090"
  log_level: debug
discord:
  token: "bot-token"
  guild_id: "g1"
  channel_id: "c1"
audio:
  target_sample_rate: 48000
  vad_aggressiveness: 2
segmentation:
  silence_timeout: 500ms
  min_segment_duration: 250ms
  max_segment_duration: 10s
buffer:
  pending_depth: 100
  pending_timeout: 3s
wake:
  phrases: ["hey atlas", "ok atlas"]
  model_dir: "/opt/models"
  activation_threshold: 0.7
connection:
  max_attempts: 3
  initial_backoff: 500ms
  max_backoff: 8s
stt:
  base_url: "http://localhost:9000"
  model: "base.en"
  language: de
store:
  postgres_dsn: "postgres://localhost/earshot"
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if got := cfg.Segmentation.SilenceTimeout.Std(); got != 500*time.Millisecond {
		t.Errorf("SilenceTimeout = %s, want 500ms", got)
	}
	if got := cfg.Connection.InitialBackoff.Std(); got != 500*time.Millisecond {
		t.Errorf("InitialBackoff = %s, want 500ms", got)
	}
	if len(cfg.Wake.Phrases) != 2 || cfg.Wake.Phrases[1] != "ok atlas" {
		t.Errorf("Phrases = %v", cfg.Wake.Phrases)
	}
	if cfg.Audio.VADAggressiveness != 2 {
		t.Errorf("VADAggressiveness = %d, want 2", cfg.Audio.VADAggressiveness)
	}
	if cfg.STT.Language != "de" {
		t.Errorf("Language = %q, want de", cfg.STT.Language)
	}
	if cfg.Store.PostgresDSN == "" {
		t.Error("PostgresDSN not set")
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	const yml = `
discord:
  token: "t"
  guild_id: "g"
  channel_id: "c"
  nickname: "oops"
`
	if _, err := LoadFromReader(strings.NewReader(yml)); err == nil {
		t.Error("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	const yml = `
discord:
  token: "t"
  guild_id: "g"
  channel_id: "c"
segmentation:
  silence_timeout: "soon"
`
	if _, err := LoadFromReader(strings.NewReader(yml)); err == nil {
		t.Error("expected error for invalid duration, got nil")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Server.LogLevel = "verbose"
	cfg.Audio.VADAggressiveness = 7
	cfg.Wake.ActivationThreshold = 1.5

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate returned nil for invalid config")
	}
	msg := err.Error()
	for _, want := range []string{
		"server.log_level",
		"discord.token is required",
		"discord.guild_id is required",
		"discord.channel_id is required",
		"audio.vad_aggressiveness",
		"wake.activation_threshold",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q: %v", want, msg)
		}
	}
}

func TestValidate_SegmentationOrdering(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Discord = DiscordConfig{Token: "t", GuildID: "g", ChannelID: "c"}
	cfg.Segmentation.MinSegmentDuration = Duration(20 * time.Second)

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "max_segment_duration") {
		t.Errorf("expected max/min ordering error, got %v", err)
	}
}

func TestValidate_BackoffOrdering(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Discord = DiscordConfig{Token: "t", GuildID: "g", ChannelID: "c"}
	cfg.Connection.MaxBackoff = Duration(500 * time.Millisecond)

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "connection.max_backoff") {
		t.Errorf("expected backoff ordering error, got %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/earshot.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
