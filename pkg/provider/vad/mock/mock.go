// Package mock provides in-memory mocks of the vad provider interfaces.
package mock

import (
	"sync"

	"github.com/earshot-voice/earshot/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine  = (*Engine)(nil)
	_ vad.Session = (*Session)(nil)
)

// Engine is a mock [vad.Engine].
type Engine struct {
	mu sync.Mutex

	// NewSessionResult is returned by NewSession. When nil, a zero-value
	// Session is returned instead.
	NewSessionResult *Session

	// NewSessionError is the error returned by NewSession.
	NewSessionError error

	// NewSessionCalls records the sample rates passed to NewSession.
	NewSessionCalls []int
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(sampleRate int) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, sampleRate)
	if e.NewSessionError != nil {
		return nil, e.NewSessionError
	}
	if e.NewSessionResult != nil {
		return e.NewSessionResult, nil
	}
	return &Session{}, nil
}

// Session is a mock [vad.Session].
type Session struct {
	mu sync.Mutex

	// IsSpeechResult is the fixed value returned by IsSpeech when
	// IsSpeechFunc is nil.
	IsSpeechResult bool

	// IsSpeechFunc, when non-nil, is invoked per call with the frame.
	IsSpeechFunc func(pcm []byte) bool

	// CallCountIsSpeech records how many times IsSpeech was called.
	CallCountIsSpeech int

	// CallCountReset records how many times Reset was called.
	CallCountReset int
}

// IsSpeech implements [vad.Session].
func (s *Session) IsSpeech(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountIsSpeech++
	if s.IsSpeechFunc != nil {
		return s.IsSpeechFunc(pcm)
	}
	return s.IsSpeechResult
}

// Reset implements [vad.Session].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountReset++
}
