package wake

// Scorer scores mono 16-bit PCM against a set of wake phrases. Implementations
// wrap a loaded phrase model; the detector owns exactly one Scorer for the
// process lifetime (or none, when every load tier failed).
type Scorer interface {
	// SampleRate returns the rate (Hz) the model expects. The detector
	// resamples incoming audio to this rate before scoring.
	SampleRate() int

	// Score returns the best-matching phrase and its confidence in [0, 1].
	// An empty phrase means nothing scored at all.
	Score(pcm []byte, phrases []string) (phrase string, score float64, err error)

	// Close releases the model.
	Close() error
}

// ScorerFactory constructs a [Scorer] from a list of model file paths. An
// empty list asks the factory for its built-in default model. Factories
// return an error when no usable model can be loaded from the given paths;
// the detector then falls through to the next tier.
type ScorerFactory func(modelPaths []string) (Scorer, error)
