// Package stt defines the speech-to-text provider boundary. The pipeline
// hands finalized utterances to a [Transcriber] and consumes plain text; how
// the audio reaches a model (HTTP server, CGO bindings, cloud API) is an
// implementation concern behind this interface.
package stt

import "context"

// Transcriber converts one utterance of mono 16-bit little-endian PCM into
// text. Implementations must be safe for concurrent use.
type Transcriber interface {
	// Transcribe returns the transcript of pcm recorded at sampleRate Hz.
	// An empty string with a nil error means the audio contained no
	// recognisable speech.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)

	// Close releases any resources held by the transcriber.
	Close() error
}
