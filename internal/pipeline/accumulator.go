package pipeline

import (
	"time"

	"github.com/earshot-voice/earshot/pkg/audio"
)

// SpeakerAccumulator is the mutable per-speaker working buffer. It collects
// contiguous PCM frames for one speaker and tracks the activity state the
// flush policy evaluates. Two states only: empty and accumulating; a flush
// returns it to empty.
//
// SpeakerAccumulator is not safe for concurrent use; the owning [Engine]
// serialises access.
type SpeakerAccumulator struct {
	speakerID string

	frames       []audio.PCMFrame
	active       bool
	lastActivity time.Time
	silenceStart time.Time // zero while audio is arriving

	speechFrames  int
	silenceFrames int
}

// NewSpeakerAccumulator creates an empty accumulator for the given speaker.
func NewSpeakerAccumulator(speakerID string) *SpeakerAccumulator {
	return &SpeakerAccumulator{speakerID: speakerID}
}

// SpeakerID returns the speaker this accumulator belongs to.
func (a *SpeakerAccumulator) SpeakerID() string { return a.speakerID }

// Empty reports whether the accumulator holds no frames.
func (a *SpeakerAccumulator) Empty() bool { return len(a.frames) == 0 }

// FrameCount returns the number of buffered frames.
func (a *SpeakerAccumulator) FrameCount() int { return len(a.frames) }

// Append pushes a speech frame. It marks the accumulator active, advances
// last-activity to the frame's timestamp, and clears any running silence
// marker. Only real audio frames advance last-activity.
func (a *SpeakerAccumulator) Append(f audio.PCMFrame) {
	a.frames = append(a.frames, f)
	a.active = true
	a.lastActivity = f.Timestamp
	a.silenceStart = time.Time{}
	a.speechFrames++
}

// MarkSilence records that the speaker was silent at ts. On an empty
// accumulator it only advances last-activity, which prevents stale-silence
// flush triggers before any speech has arrived. Otherwise it starts the
// silence clock if not already running. Returns true when this call started
// a new silence period.
func (a *SpeakerAccumulator) MarkSilence(ts time.Time) bool {
	if a.Empty() {
		a.lastActivity = ts
		return false
	}
	a.silenceFrames++
	if a.silenceStart.IsZero() {
		a.silenceStart = ts
		return true
	}
	return false
}

// ShouldFlush evaluates the flush policy at the given instant. Returns nil
// when no decision applies and the caller should keep accumulating.
//
// Evaluation order: max-duration cap first, then the silence timeout (which
// flushes only utterances at least the minimum duration; shorter ones are
// held with reason min_duration).
func (a *SpeakerAccumulator) ShouldFlush(now time.Time, p Policy) *FlushDecision {
	if a.Empty() {
		return nil
	}

	first := a.frames[0]
	last := a.frames[len(a.frames)-1]
	total := last.End().Sub(first.Timestamp)
	silenceAge := now.Sub(a.lastActivity)

	if total >= p.MaxSegmentDuration {
		return &FlushDecision{
			Action:        ActionFlush,
			Reason:        ReasonMaxDuration,
			TotalDuration: total,
			SilenceAge:    silenceAge,
		}
	}

	if silenceAge >= p.SilenceTimeout {
		if total >= p.MinSegmentDuration {
			return &FlushDecision{
				Action:        ActionFlush,
				Reason:        ReasonSilenceTimeout,
				TotalDuration: total,
				SilenceAge:    silenceAge,
			}
		}
		return &FlushDecision{
			Action:        ActionHold,
			Reason:        ReasonMinDuration,
			TotalDuration: total,
			SilenceAge:    silenceAge,
		}
	}

	return nil
}

// PopSegment drains the accumulator into a [Segment] and resets it to empty.
// Returns nil on an empty accumulator without mutating anything. The speech
// and silence frame counts are captured before the reset.
func (a *SpeakerAccumulator) PopSegment(correlationID string, reason FlushReason) *Segment {
	if a.Empty() {
		return nil
	}

	first := a.frames[0]
	last := a.frames[len(a.frames)-1]

	var size int
	for _, f := range a.frames {
		size += len(f.PCM)
	}
	pcm := make([]byte, 0, size)
	for _, f := range a.frames {
		pcm = append(pcm, f.PCM...)
	}

	seg := &Segment{
		CorrelationID: correlationID,
		SpeakerID:     a.speakerID,
		PCM:           pcm,
		SampleRate:    first.SampleRate,
		Start:         first.Timestamp,
		End:           last.End(),
		FrameCount:    len(a.frames),
		SpeechFrames:  a.speechFrames,
		SilenceFrames: a.silenceFrames,
		Reason:        reason,
	}

	a.frames = nil
	a.active = false
	a.silenceStart = time.Time{}
	a.speechFrames = 0
	a.silenceFrames = 0

	return seg
}
