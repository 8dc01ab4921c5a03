// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/earshot-voice/earshot/pkg/audio"
	"github.com/earshot-voice/earshot/pkg/provider/stt"
)

// nativeSampleRate is the rate whisper.cpp models expect.
const nativeSampleRate = 16000

// Compile-time interface assertion.
var _ stt.Transcriber = (*Native)(nil)

// Native is an [stt.Transcriber] using the whisper.cpp Go bindings, with no
// HTTP overhead. The model is loaded once and shared; each Transcribe call
// gets a fresh whisper context, so concurrent calls are safe.
type Native struct {
	model    whisperlib.Model
	language string

	mu sync.Mutex // serialises Close against in-flight transcriptions
}

// NativeOption is a functional option for configuring a [Native].
type NativeOption func(*Native)

// WithNativeLanguage sets the BCP-47 language code for transcription.
// Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) {
		if lang != "" {
			n.language = lang
		}
	}
}

// NewNative loads a whisper.cpp GGML model from the given file path. The
// caller must Close the transcriber when done.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Transcribe runs whisper.cpp inference over the PCM buffer. Audio at a rate
// other than 16 kHz is resampled first.
func (n *Native) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context cancelled: %w", err)
	}

	if sampleRate != nativeSampleRate {
		resampled, err := audio.ResampleMono16(pcm, sampleRate, nativeSampleRate)
		if err != nil {
			return "", fmt.Errorf("whisper: resample: %w", err)
		}
		pcm = resampled
	}
	samples := audio.BytesToFloat32(pcm)

	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", n.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.model != nil {
		err := n.model.Close()
		n.model = nil
		return err
	}
	return nil
}
