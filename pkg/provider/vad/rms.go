package vad

import (
	"fmt"

	"github.com/earshot-voice/earshot/pkg/audio"
)

// Compile-time interface assertion.
var _ Engine = (*RMSEngine)(nil)

// rmsThresholds maps aggressiveness (0-3) to the minimum RMS energy (in the
// int16 sample domain) a frame must carry to count as speech. Higher
// aggressiveness filters more borderline audio as silence.
var rmsThresholds = [4]float64{150, 300, 500, 800}

// RMSEngine is an energy-based VAD. It is deliberately simple: a frame is
// speech when its root-mean-square amplitude exceeds a threshold selected by
// the configured aggressiveness. Good enough to bound utterances; not a
// substitute for a model-based detector on noisy channels.
type RMSEngine struct {
	threshold float64
}

// NewRMSEngine creates an RMS energy detector. Aggressiveness must be in
// [0, 3], mirroring the WebRTC VAD convention.
func NewRMSEngine(aggressiveness int) (*RMSEngine, error) {
	if aggressiveness < 0 || aggressiveness > 3 {
		return nil, fmt.Errorf("vad: aggressiveness %d out of range [0, 3]", aggressiveness)
	}
	return &RMSEngine{threshold: rmsThresholds[aggressiveness]}, nil
}

// NewSession implements [Engine]. The sample rate does not affect the energy
// computation but must be positive.
func (e *RMSEngine) NewSession(sampleRate int) (Session, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("vad: invalid sample rate %d", sampleRate)
	}
	return &rmsSession{threshold: e.threshold}, nil
}

type rmsSession struct {
	threshold float64
}

func (s *rmsSession) IsSpeech(pcm []byte) bool {
	if len(pcm) < 2 {
		return false
	}
	return audio.RMS16(pcm) >= s.threshold
}

func (s *rmsSession) Reset() {}
