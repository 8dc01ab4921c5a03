package wake

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFilterModelPaths(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "drops infrastructure artifacts",
			in: []string{
				"models/hey_atlas.onnx",
				"models/embedding_model.onnx",
				"models/melspectrogram.onnx",
				"models/silero_vad.onnx",
			},
			want: []string{"models/hey_atlas.onnx"},
		},
		{
			name: "prefers onnx over tflite with same base",
			in: []string{
				"models/hey_atlas.tflite",
				"models/hey_atlas.onnx",
			},
			want: []string{"models/hey_atlas.onnx"},
		},
		{
			name: "keeps tflite without onnx twin",
			in:   []string{"models/ok_atlas.tflite"},
			want: []string{"models/ok_atlas.tflite"},
		},
		{
			name: "preserves order",
			in: []string{
				"models/a.onnx",
				"models/b.tflite",
				"models/c.onnx",
			},
			want: []string{"models/a.onnx", "models/b.tflite", "models/c.onnx"},
		},
		{
			name: "empty input",
			in:   nil,
			want: nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := filterModelPaths(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("filterModelPaths(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestDiscoverModels(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"hey_atlas.onnx",
		"hey_atlas.tflite",
		"embedding_model.onnx",
		"readme.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	got := discoverModels(dir)
	want := []string{filepath.Join(dir, "hey_atlas.onnx")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("discoverModels = %v, want %v", got, want)
	}
}

func TestDiscoverModels_MissingDir(t *testing.T) {
	if got := discoverModels(filepath.Join(t.TempDir(), "nope")); got != nil {
		t.Errorf("discoverModels on missing dir = %v, want nil", got)
	}
	if got := discoverModels(""); got != nil {
		t.Errorf("discoverModels on empty dir = %v, want nil", got)
	}
}
