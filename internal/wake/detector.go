package wake

import (
	"context"
	"log/slog"

	"github.com/earshot-voice/earshot/internal/observe"
	"github.com/earshot-voice/earshot/pkg/audio"
)

// DefaultActivationThreshold is the minimum audio score for a detection.
const DefaultActivationThreshold = 0.5

// Detector runs wake-phrase detection. Construction never fails: model
// loading is attempted once through three tiers (explicit paths, model
// directory discovery, factory built-in) and a detector whose tiers all
// failed simply reports no audio detections, leaving the transcript path
// active as long as phrases are configured.
//
// Detector is safe for concurrent use after construction.
type Detector struct {
	phrases   []string
	threshold float64

	scorer Scorer // nil when audio scoring is disabled

	modelDir string
	factory  ScorerFactory

	metrics *observe.Metrics
	log     *slog.Logger
}

// Option customises a [Detector].
type Option func(*Detector)

// WithActivationThreshold sets the minimum audio score for a detection.
func WithActivationThreshold(t float64) Option {
	return func(d *Detector) {
		if t > 0 {
			d.threshold = t
		}
	}
}

// WithModelDir sets the directory scanned during auto-discovery.
func WithModelDir(dir string) Option {
	return func(d *Detector) { d.modelDir = dir }
}

// WithScorerFactory overrides how phrase models are constructed. The default
// is [WhisperScorerFactory]. Tests inject fakes here instead of patching any
// process-wide state.
func WithScorerFactory(f ScorerFactory) Option {
	return func(d *Detector) {
		if f != nil {
			d.factory = f
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Detector) {
		if log != nil {
			d.log = log
		}
	}
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) {
		if m != nil {
			d.metrics = m
		}
	}
}

// New constructs a Detector for the given wake phrases, attempting to load an
// audio model from modelPaths through the tier fallback.
func New(phrases []string, modelPaths []string, opts ...Option) *Detector {
	d := &Detector{
		phrases:   phrases,
		threshold: DefaultActivationThreshold,
		factory:   WhisperScorerFactory,
		metrics:   observe.DefaultMetrics(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.scorer = d.loadScorer(modelPaths)
	if d.scorer == nil {
		d.log.Warn("wake: no phrase model loaded, audio detection disabled",
			"transcript_fallback", len(d.phrases) > 0)
	}
	return d
}

// loadScorer walks the three load tiers and returns the first scorer that
// constructs, or nil.
func (d *Detector) loadScorer(explicit []string) Scorer {
	// Tier 1: explicit paths from configuration.
	if paths := filterModelPaths(explicit); len(paths) > 0 {
		if s, err := d.factory(paths); err == nil {
			d.log.Info("wake: loaded phrase model from configured paths", "paths", paths)
			return s
		} else {
			d.log.Warn("wake: configured model paths unusable", "error", err)
		}
	}

	// Tier 2: auto-discovery in the model directory.
	if paths := discoverModels(d.modelDir); len(paths) > 0 {
		if s, err := d.factory(paths); err == nil {
			d.log.Info("wake: loaded phrase model via discovery", "dir", d.modelDir, "paths", paths)
			return s
		} else {
			d.log.Warn("wake: discovered models unusable", "dir", d.modelDir, "error", err)
		}
	}

	// Tier 3: factory built-in default.
	if s, err := d.factory(nil); err == nil {
		d.log.Info("wake: loaded built-in phrase model")
		return s
	} else {
		d.log.Debug("wake: no built-in phrase model", "error", err)
	}

	return nil
}

// Enabled reports whether audio scoring is available.
func (d *Detector) Enabled() bool { return d.scorer != nil }

// Phrases returns the configured wake phrases.
func (d *Detector) Phrases() []string { return d.phrases }

// Detect scans audio and/or a transcript for a wake phrase. The audio path
// is tried first when a model is loaded and pcm is non-empty; the transcript
// path only runs when the audio path produced nothing, so an audio detection
// always wins. Returns nil when neither path detects a phrase.
func (d *Detector) Detect(pcm []byte, sampleRate int, transcript string) *Detection {
	if det := d.detectAudio(pcm, sampleRate); det != nil {
		d.metrics.RecordWakeDetection(context.Background(), string(SourceAudio))
		return det
	}
	if det := d.DetectTranscript(transcript); det != nil {
		d.metrics.RecordWakeDetection(context.Background(), string(SourceTranscript))
		return det
	}
	return nil
}

// detectAudio scores pcm against the loaded model. Returns nil when no model
// is loaded, the audio is empty, scoring fails, or the best score is below
// the activation threshold.
func (d *Detector) detectAudio(pcm []byte, sampleRate int) *Detection {
	if d.scorer == nil || len(pcm) == 0 || len(d.phrases) == 0 {
		return nil
	}

	if sampleRate != d.scorer.SampleRate() {
		resampled, err := audio.ResampleMono16(pcm, sampleRate, d.scorer.SampleRate())
		if err != nil {
			d.log.Warn("wake: resample for scoring failed", "error", err)
			return nil
		}
		pcm = resampled
	}

	phrase, score, err := d.scorer.Score(pcm, d.phrases)
	if err != nil {
		d.log.Warn("wake: audio scoring failed", "error", err)
		return nil
	}
	if phrase == "" || score < d.threshold {
		return nil
	}
	return &Detection{Phrase: phrase, Confidence: score, Source: SourceAudio}
}

// DetectTranscript fuzzy-matches the configured phrases against transcript
// text. The best-scoring phrase is returned when it clears the fixed cutoff
// of 90/100; confidence is the score divided by 100.
func (d *Detector) DetectTranscript(transcript string) *Detection {
	if transcript == "" || len(d.phrases) == 0 {
		return nil
	}

	normalized := normalizeText(transcript)
	var (
		bestPhrase string
		bestScore  int
	)
	for _, phrase := range d.phrases {
		if score := partialScore(normalizeText(phrase), normalized); score > bestScore {
			bestPhrase, bestScore = phrase, score
		}
	}
	if bestScore < fuzzyCutoff {
		return nil
	}
	return &Detection{
		Phrase:     bestPhrase,
		Confidence: float64(bestScore) / 100,
		Source:     SourceTranscript,
	}
}

// Matches reports whether any configured phrase appears in the transcript.
func (d *Detector) Matches(transcript string) bool {
	return d.DetectTranscript(transcript) != nil
}

// FirstMatch returns the phrase detected in the transcript, if any.
func (d *Detector) FirstMatch(transcript string) (string, bool) {
	det := d.DetectTranscript(transcript)
	if det == nil {
		return "", false
	}
	return det.Phrase, true
}

// Close releases the loaded model, if any.
func (d *Detector) Close() error {
	if d.scorer != nil {
		return d.scorer.Close()
	}
	return nil
}
