package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earshot-voice/earshot/internal/observe"
	"github.com/earshot-voice/earshot/pkg/audio"
	"github.com/earshot-voice/earshot/pkg/provider/vad"
)

// DefaultQueueSize bounds the segment queue between the engine and its
// consumer.
const DefaultQueueSize = 64

// speakerState bundles everything the engine tracks per speaker: the
// accumulator, the speaker's VAD session, and the frame sequence counter.
type speakerState struct {
	acc *SpeakerAccumulator
	vad vad.Session
	seq uint64
}

// Engine owns the set of [SpeakerAccumulator]s and drives the flush state
// machine from three triggers: every registered frame (inline), the periodic
// idle sweep, and the forced drain on shutdown. Completed segments are
// emitted on a bounded queue read via [Engine.Segments].
//
// The accumulator map is guarded by a single mutex because frame
// registration and the idle sweep run on different goroutines.
type Engine struct {
	policy     Policy
	targetRate int
	queueSize  int

	vadEngine vad.Engine

	mu       sync.Mutex
	speakers map[string]*speakerState
	closed   bool // queue closed; guarded by mu

	queue chan *Segment

	metrics *observe.Metrics
	log     *slog.Logger
}

// EngineOption customises an [Engine].
type EngineOption func(*Engine)

// WithQueueSize overrides the segment queue capacity.
func WithQueueSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithTargetSampleRate sets the rate incoming audio is resampled to before
// accumulation. Default 16000 Hz.
func WithTargetSampleRate(hz int) EngineOption {
	return func(e *Engine) {
		if hz > 0 {
			e.targetRate = hz
		}
	}
}

// WithEngineLogger overrides the logger.
func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithEngineMetrics overrides the metrics sink.
func WithEngineMetrics(m *observe.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine creates a segmentation engine using the given policy and VAD
// engine.
func NewEngine(policy Policy, vadEngine vad.Engine, opts ...EngineOption) *Engine {
	e := &Engine{
		policy:     policy,
		targetRate: 16000,
		queueSize:  DefaultQueueSize,
		vadEngine:  vadEngine,
		speakers:   make(map[string]*speakerState),
		metrics:    observe.DefaultMetrics(),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = make(chan *Segment, e.queueSize)
	return e
}

// Segments returns the queue of completed segments. The channel is closed
// after [Engine.Run] returns.
func (e *Engine) Segments() <-chan *Segment {
	return e.queue
}

// RegisterPacket converts a resolved packet into a [audio.PCMFrame]
// (resampling to the target rate), classifies it with the speaker's VAD
// session, and feeds the accumulator. A flush decision is evaluated inline
// after every frame.
//
// Per-frame failures are logged and dropped; they never propagate to other
// speakers or to the caller.
func (e *Engine) RegisterPacket(pkt audio.Packet) {
	if pkt.SpeakerID == "" || len(pkt.PCM) == 0 {
		return
	}

	pcm := pkt.PCM
	if pkt.SampleRate != e.targetRate {
		var err error
		pcm, err = audio.ResampleMono16(pcm, pkt.SampleRate, e.targetRate)
		if err != nil {
			e.log.Warn("dropping packet, resample failed",
				"speaker_id", pkt.SpeakerID, "error", err)
			return
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.speakerLocked(pkt.SpeakerID)
	if err != nil {
		e.log.Warn("dropping packet, no VAD session",
			"speaker_id", pkt.SpeakerID, "error", err)
		return
	}

	st.seq++
	frame := audio.PCMFrame{
		SpeakerID:  pkt.SpeakerID,
		PCM:        pcm,
		SampleRate: e.targetRate,
		Seq:        st.seq,
		Timestamp:  pkt.ReceivedAt,
		Duration:   time.Duration(len(pcm)/2) * time.Second / time.Duration(e.targetRate),
		RMS:        audio.RMS16(pcm),
	}

	if st.vad.IsSpeech(frame.PCM) {
		wasEmpty := st.acc.Empty()
		st.acc.Append(frame)
		if wasEmpty {
			e.metrics.ActiveSpeakers.Add(context.Background(), 1)
		}
	} else {
		st.acc.MarkSilence(frame.Timestamp)
	}

	e.evaluateLocked(st.acc, frame.End(), "frame")
}

// FlushInactive runs one idle sweep: every accumulator is evaluated against
// the policy at the given instant, which lets trailing silence close an
// utterance without any new audio arriving.
func (e *Engine) FlushInactive(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.speakers {
		e.evaluateLocked(st.acc, now, "sweep")
	}
}

// ForceFlush drains every non-empty accumulator regardless of policy,
// tagging the segments with reason forced. Called on shutdown.
func (e *Engine) ForceFlush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.speakers {
		if st.acc.Empty() {
			continue
		}
		e.popLocked(st.acc, ReasonForced, "shutdown")
	}
}

// Run drives the idle sweep until ctx is cancelled, then force-flushes all
// accumulators and closes the segment queue.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.policy.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.ForceFlush()
			// Closing under the mutex keeps a late RegisterPacket flush from
			// sending on the closed queue.
			e.mu.Lock()
			e.closed = true
			close(e.queue)
			e.mu.Unlock()
			return nil
		case now := <-ticker.C:
			e.FlushInactive(now)
		}
	}
}

// speakerLocked returns the state for a speaker, creating it on first sight.
func (e *Engine) speakerLocked(speakerID string) (*speakerState, error) {
	if st, ok := e.speakers[speakerID]; ok {
		return st, nil
	}
	sess, err := e.vadEngine.NewSession(e.targetRate)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create VAD session: %w", err)
	}
	st := &speakerState{
		acc: NewSpeakerAccumulator(speakerID),
		vad: sess,
	}
	e.speakers[speakerID] = st
	return st, nil
}

// evaluateLocked applies the flush policy to one accumulator and acts on the
// decision. Caller holds e.mu.
func (e *Engine) evaluateLocked(acc *SpeakerAccumulator, now time.Time, trigger string) {
	decision := acc.ShouldFlush(now, e.policy)
	if decision == nil {
		return
	}
	switch decision.Action {
	case ActionFlush:
		e.popLocked(acc, decision.Reason, trigger)
	case ActionHold:
		e.metrics.SegmentsHeld.Add(context.Background(), 1)
	}
}

// popLocked drains an accumulator into a segment and emits it. Caller holds
// e.mu.
func (e *Engine) popLocked(acc *SpeakerAccumulator, reason FlushReason, trigger string) {
	seg := acc.PopSegment(uuid.NewString(), reason)
	if seg == nil {
		return
	}
	e.metrics.ActiveSpeakers.Add(context.Background(), -1)

	if e.closed {
		e.metrics.SegmentsDropped.Add(context.Background(), 1)
		e.log.Warn("segment queue closed, dropping segment",
			"correlation_id", seg.CorrelationID, "speaker_id", seg.SpeakerID)
		return
	}

	e.log.Info("segment finalized",
		"correlation_id", seg.CorrelationID,
		"speaker_id", seg.SpeakerID,
		"frames", seg.FrameCount,
		"speech_frames", seg.SpeechFrames,
		"silence_frames", seg.SilenceFrames,
		"duration", seg.Duration(),
		"reason", string(seg.Reason),
		"trigger", trigger,
	)

	select {
	case e.queue <- seg:
		e.metrics.RecordSegment(context.Background(), string(seg.Reason), seg.Duration().Seconds())
		e.metrics.QueueDepth.Add(context.Background(), 1)
	default:
		e.metrics.SegmentsDropped.Add(context.Background(), 1)
		e.log.Warn("segment queue full, dropping segment",
			"correlation_id", seg.CorrelationID, "speaker_id", seg.SpeakerID)
	}
}
