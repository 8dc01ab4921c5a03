package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
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
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}
	if cfg.Discord.ChannelID == "" {
		errs = append(errs, errors.New("discord.channel_id is required"))
	}

	// Audio
	if cfg.Audio.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.target_sample_rate %d must be positive", cfg.Audio.TargetSampleRate))
	}
	if cfg.Audio.VADAggressiveness < 0 || cfg.Audio.VADAggressiveness > 3 {
		errs = append(errs, fmt.Errorf("audio.vad_aggressiveness %d is out of range [0, 3]", cfg.Audio.VADAggressiveness))
	}

	// Segmentation ordering: min < silence evaluation window < max.
	seg := cfg.Segmentation
	if seg.SilenceTimeout <= 0 {
		errs = append(errs, errors.New("segmentation.silence_timeout must be positive"))
	}
	if seg.MinSegmentDuration <= 0 {
		errs = append(errs, errors.New("segmentation.min_segment_duration must be positive"))
	}
	if seg.MaxSegmentDuration <= seg.MinSegmentDuration {
		errs = append(errs, fmt.Errorf("segmentation.max_segment_duration %s must exceed min_segment_duration %s",
			seg.MaxSegmentDuration.Std(), seg.MinSegmentDuration.Std()))
	}

	// Buffer
	if cfg.Buffer.PendingDepth <= 0 {
		errs = append(errs, errors.New("buffer.pending_depth must be positive"))
	}
	if cfg.Buffer.PendingTimeout <= 0 {
		errs = append(errs, errors.New("buffer.pending_timeout must be positive"))
	}

	// Wake
	if cfg.Wake.ActivationThreshold <= 0 || cfg.Wake.ActivationThreshold > 1 {
		errs = append(errs, fmt.Errorf("wake.activation_threshold %.2f is out of range (0, 1]", cfg.Wake.ActivationThreshold))
	}
	for i, p := range cfg.Wake.Phrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("wake.phrases[%d] is empty", i))
		}
	}
	if len(cfg.Wake.Phrases) == 0 {
		slog.Warn("wake.phrases is empty; wake detection is disabled")
	}

	// Connection
	if cfg.Connection.MaxAttempts <= 0 {
		errs = append(errs, errors.New("connection.max_attempts must be positive"))
	}
	if cfg.Connection.InitialBackoff <= 0 {
		errs = append(errs, errors.New("connection.initial_backoff must be positive"))
	}
	if cfg.Connection.MaxBackoff < cfg.Connection.InitialBackoff {
		errs = append(errs, fmt.Errorf("connection.max_backoff %s must be at least initial_backoff %s",
			cfg.Connection.MaxBackoff.Std(), cfg.Connection.InitialBackoff.Std()))
	}

	// STT
	if cfg.STT.BaseURL == "" && cfg.STT.ModelPath == "" {
		slog.Warn("no STT backend configured; segments will not be transcribed")
	}
	if cfg.STT.BaseURL != "" && cfg.STT.ModelPath != "" {
		slog.Warn("both stt.base_url and stt.model_path are set; the HTTP backend takes precedence",
			"base_url", cfg.STT.BaseURL)
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; utterances will not be persisted")
	}

	return errors.Join(errs...)
}
