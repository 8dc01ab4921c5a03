// Package pipeline implements the audio ingest pipeline: identity resolution
// and reordering of raw packets (PacketBuffer), per-speaker accumulation with
// a VAD-driven flush state machine (SpeakerAccumulator), and the engine that
// owns the accumulators and emits finalized segments (Engine).
package pipeline

import (
	"time"
)

// FlushAction says what to do with an accumulator after evaluation.
type FlushAction int

const (
	// ActionFlush finalizes the accumulator into a segment.
	ActionFlush FlushAction = iota
	// ActionHold keeps the buffered audio; the utterance is not ready.
	ActionHold
)

// FlushReason explains why a flush decision was made.
type FlushReason string

const (
	// ReasonMaxDuration caps runaway utterances at the configured maximum.
	ReasonMaxDuration FlushReason = "max_duration"
	// ReasonSilenceTimeout closes an utterance after trailing silence.
	ReasonSilenceTimeout FlushReason = "silence_timeout"
	// ReasonMinDuration holds an utterance too short to be meaningful.
	ReasonMinDuration FlushReason = "min_duration"
	// ReasonForced marks segments drained on shutdown regardless of policy.
	ReasonForced FlushReason = "forced"
)

// FlushDecision is the outcome of evaluating an accumulator against the
// segmentation policy. Produced fresh on every evaluation, never mutated.
type FlushDecision struct {
	Action        FlushAction
	Reason        FlushReason
	TotalDuration time.Duration
	SilenceAge    time.Duration
}

// Segment is one finalized speech utterance for one speaker.
type Segment struct {
	// CorrelationID is unique per segment and threads through transcription,
	// wake detection, and storage logs.
	CorrelationID string

	SpeakerID  string
	PCM        []byte
	SampleRate int

	// Start and End are the timestamps of the first frame and the end of the
	// last frame.
	Start time.Time
	End   time.Time

	FrameCount    int
	SpeechFrames  int
	SilenceFrames int

	Reason FlushReason
}

// Duration returns the audio duration covered by the segment.
func (s *Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Policy holds the segmentation thresholds evaluated by
// [SpeakerAccumulator.ShouldFlush].
type Policy struct {
	// SilenceTimeout is how long a speaker must be silent before their
	// buffered utterance is considered finished.
	SilenceTimeout time.Duration

	// MinSegmentDuration is the shortest utterance worth emitting; shorter
	// ones are held until more audio arrives or they grow stale.
	MinSegmentDuration time.Duration

	// MaxSegmentDuration caps a single utterance; longer speech is split.
	MaxSegmentDuration time.Duration
}

// DefaultPolicy returns the standard segmentation thresholds.
func DefaultPolicy() Policy {
	return Policy{
		SilenceTimeout:     750 * time.Millisecond,
		MinSegmentDuration: 300 * time.Millisecond,
		MaxSegmentDuration: 15 * time.Second,
	}
}

// SweepInterval returns how often the idle sweep should run for this policy:
// half the silence timeout, capped at 500ms, so trailing silence closes an
// utterance promptly without a hot loop.
func (p Policy) SweepInterval() time.Duration {
	interval := p.SilenceTimeout / 2
	if interval > 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return interval
}
