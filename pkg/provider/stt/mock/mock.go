// Package mock provides an in-memory mock of the stt provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-voice/earshot/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Transcriber = (*Transcriber)(nil)

// TranscribeCall records the arguments of one Transcribe invocation.
type TranscribeCall struct {
	PCM        []byte
	SampleRate int
}

// Transcriber is a mock [stt.Transcriber].
type Transcriber struct {
	mu sync.Mutex

	// TranscribeResult is returned by Transcribe.
	TranscribeResult string

	// TranscribeError is the error returned by Transcribe.
	TranscribeError error

	// TranscribeFunc, when non-nil, overrides the fixed result fields.
	TranscribeFunc func(ctx context.Context, pcm []byte, sampleRate int) (string, error)

	// TranscribeCalls records all invocations.
	TranscribeCalls []TranscribeCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Transcribe implements [stt.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	t.mu.Lock()
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{PCM: pcm, SampleRate: sampleRate})
	fn := t.TranscribeFunc
	result, err := t.TranscribeResult, t.TranscribeError
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, pcm, sampleRate)
	}
	return result, err
}

// Close implements [stt.Transcriber].
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountClose++
	return nil
}
