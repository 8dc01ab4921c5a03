// Package wake implements wake-phrase detection over audio and transcripts.
//
// Audio scoring runs against phrase models loaded with a three-tier fallback
// (explicit paths, auto-discovery in a model directory, built-in default).
// When no model can be loaded the detector stays constructed but degrades to
// transcript-only detection: normalized fuzzy matching of configured phrases
// against the transcript text. Audio detections always win over transcript
// detections when both paths are attempted.
package wake

// Source says which detection path produced a result.
type Source string

const (
	// SourceAudio means the phrase was scored directly on PCM by a model.
	SourceAudio Source = "audio"
	// SourceTranscript means the phrase fuzzy-matched the transcript text.
	SourceTranscript Source = "transcript"
)

// Detection is a confirmed wake-phrase hit. It is only produced when the
// score cleared the configured threshold for its source, so a non-nil
// Detection always means "activate".
type Detection struct {
	// Phrase is the configured wake phrase that matched.
	Phrase string

	// Confidence is in [0, 1]. For audio detections it is the model score;
	// for transcript detections it is the fuzzy score divided by 100.
	Confidence float64

	Source Source
}
