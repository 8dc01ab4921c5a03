package wake

import (
	"os"
	"path/filepath"
	"strings"
)

// infraMarkers identify helper artifacts that ship next to wake models but
// are not phrase models themselves (feature extractors and VAD stages).
var infraMarkers = []string{"embedding", "melspectrogram", "mel_spectrogram", "vad"}

// isInfrastructureArtifact reports whether the file is a supporting artifact
// rather than a scorable phrase model.
func isInfrastructureArtifact(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, marker := range infraMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// filterModelPaths drops infrastructure artifacts and resolves ONNX/TFLite
// duplicates: when both an .onnx and a .tflite file share a base name, only
// the ONNX one survives. Input order is otherwise preserved.
func filterModelPaths(paths []string) []string {
	// Bases for which an ONNX artifact exists.
	onnx := make(map[string]bool)
	for _, p := range paths {
		if isInfrastructureArtifact(p) {
			continue
		}
		if strings.EqualFold(filepath.Ext(p), ".onnx") {
			onnx[modelBase(p)] = true
		}
	}

	var out []string
	for _, p := range paths {
		if isInfrastructureArtifact(p) {
			continue
		}
		if strings.EqualFold(filepath.Ext(p), ".tflite") && onnx[modelBase(p)] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// modelBase returns the path without its extension, lowercased, for
// ONNX/TFLite equivalence checks.
func modelBase(path string) string {
	ext := filepath.Ext(path)
	return strings.ToLower(strings.TrimSuffix(path, ext))
}

// discoverModels scans dir for model files. Returns nil when the directory
// does not exist or holds nothing usable; filtering and ONNX preference are
// applied to whatever is found.
func discoverModels(dir string) []string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".onnx", ".tflite", ".bin":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return filterModelPaths(paths)
}
