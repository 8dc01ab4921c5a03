package wake

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/earshot-voice/earshot/pkg/audio"
)

// whisperSampleRate is the rate whisper.cpp models expect.
const whisperSampleRate = 16000

// Compile-time interface assertion.
var _ Scorer = (*whisperScorer)(nil)

// whisperScorer scores audio by transcribing it with a local whisper.cpp
// model (CGO bindings) and fuzzy-matching the transcript against the
// configured phrases. Slower than a dedicated keyword model but needs no
// phrase-specific training artifacts.
//
// The whisper.cpp static library and headers must be available at link time.
type whisperScorer struct {
	model whisperlib.Model
}

// WhisperScorerFactory is the default [ScorerFactory]. It loads a whisper.cpp
// GGML model from the first usable path; it has no built-in model, so an
// empty path list is an error and the detector's built-in tier fails through
// to transcript-only mode.
func WhisperScorerFactory(modelPaths []string) (Scorer, error) {
	path := pickWhisperModel(modelPaths)
	if path == "" {
		return nil, errors.New("wake: no whisper model path available")
	}
	model, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("wake: load whisper model %q: %w", path, err)
	}
	return &whisperScorer{model: model}, nil
}

// pickWhisperModel selects the first GGML model from the candidate paths.
// ONNX/TFLite artifacts belong to other scorer backends and are skipped.
func pickWhisperModel(paths []string) string {
	for _, p := range paths {
		if strings.ToLower(filepath.Ext(p)) == ".bin" {
			return p
		}
	}
	return ""
}

func (s *whisperScorer) SampleRate() int { return whisperSampleRate }

// Score transcribes pcm and returns the phrase with the best fuzzy match
// against the transcript, scaled to [0, 1].
func (s *whisperScorer) Score(pcm []byte, phrases []string) (string, float64, error) {
	if len(pcm) == 0 || len(phrases) == 0 {
		return "", 0, nil
	}

	text, err := s.transcribe(pcm)
	if err != nil {
		return "", 0, err
	}
	if text == "" {
		return "", 0, nil
	}

	normalized := normalizeText(text)
	var (
		bestPhrase string
		bestScore  int
	)
	for _, phrase := range phrases {
		if score := partialScore(normalizeText(phrase), normalized); score > bestScore {
			bestPhrase, bestScore = phrase, score
		}
	}
	return bestPhrase, float64(bestScore) / 100, nil
}

// transcribe runs one whisper.cpp inference over the PCM buffer. Contexts are
// cheap and not thread-safe, so each call gets a fresh one from the shared
// model.
func (s *whisperScorer) transcribe(pcm []byte) (string, error) {
	samples := audio.BytesToFloat32(pcm)

	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("wake: create whisper context: %w", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("wake: whisper inference: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("wake: read whisper segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func (s *whisperScorer) Close() error {
	if s.model != nil {
		return s.model.Close()
	}
	return nil
}
