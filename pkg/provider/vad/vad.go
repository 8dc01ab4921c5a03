// Package vad defines the voice-activity-detection provider boundary used by
// the segmentation pipeline. An [Engine] creates per-speaker [Session]s; a
// Session classifies fixed-duration mono 16-bit PCM frames as speech or
// silence.
//
// The default implementation is the RMS energy detector in this package.
// Implementations backed by external models can live elsewhere and plug in
// through the same interfaces.
package vad

// Engine creates VAD sessions for a given sample rate.
type Engine interface {
	// NewSession returns a fresh session for one speaker's stream at the given
	// sample rate (Hz). Sessions are not safe for concurrent use.
	NewSession(sampleRate int) (Session, error)
}

// Session classifies PCM frames for one stream. Frames must be mono 16-bit
// little-endian PCM at the sample rate the session was created with.
type Session interface {
	// IsSpeech reports whether the frame contains voice activity.
	IsSpeech(pcm []byte) bool

	// Reset clears any per-stream adaptive state.
	Reset()
}
