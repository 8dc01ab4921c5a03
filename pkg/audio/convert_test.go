package audio

import (
	"math"
	"testing"
	"time"
)

// pcm16 builds little-endian PCM bytes from int16 samples.
func pcm16(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func TestStereoToMono(t *testing.T) {
	t.Run("averages channels", func(t *testing.T) {
		in := pcm16(100, 200, -100, 100)
		got := StereoToMono(in)
		want := pcm16(150, 0)
		if string(got) != string(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := StereoToMono(nil); len(got) != 0 {
			t.Errorf("expected empty output, got %d bytes", len(got))
		}
	})
}

func TestResampleMono16(t *testing.T) {
	t.Run("same rate returns input unchanged", func(t *testing.T) {
		in := pcm16(1, 2, 3)
		got, err := ResampleMono16(in, 16000, 16000)
		if err != nil {
			t.Fatalf("ResampleMono16: %v", err)
		}
		if &got[0] != &in[0] {
			t.Error("expected input slice returned unchanged")
		}
	})

	t.Run("downsample halves sample count", func(t *testing.T) {
		in := make([]byte, 960*2) // 20 ms at 48 kHz
		got, err := ResampleMono16(in, 48000, 16000)
		if err != nil {
			t.Fatalf("ResampleMono16: %v", err)
		}
		if len(got) != 320*2 {
			t.Errorf("expected 320 samples, got %d", len(got)/2)
		}
	})

	t.Run("constant signal stays constant", func(t *testing.T) {
		in := pcm16(1000, 1000, 1000, 1000, 1000, 1000)
		got, err := ResampleMono16(in, 48000, 16000)
		if err != nil {
			t.Fatalf("ResampleMono16: %v", err)
		}
		for i := 0; i+1 < len(got); i += 2 {
			s := int16(got[i]) | int16(got[i+1])<<8
			if s != 1000 {
				t.Fatalf("sample %d = %d, want 1000", i/2, s)
			}
		}
	})

	t.Run("invalid rates error", func(t *testing.T) {
		if _, err := ResampleMono16(pcm16(5), 0, 16000); err == nil {
			t.Error("expected error for zero source rate")
		}
	})
}

func TestRMS16(t *testing.T) {
	t.Run("silence is zero", func(t *testing.T) {
		if got := RMS16(pcm16(0, 0, 0, 0)); got != 0 {
			t.Errorf("expected 0, got %f", got)
		}
	})

	t.Run("constant amplitude", func(t *testing.T) {
		got := RMS16(pcm16(1000, -1000, 1000, -1000))
		if math.Abs(got-1000) > 0.01 {
			t.Errorf("expected 1000, got %f", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := RMS16(nil); got != 0 {
			t.Errorf("expected 0, got %f", got)
		}
	})
}

func TestBytesToFloat32(t *testing.T) {
	got := BytesToFloat32(pcm16(0, 16384, -16384))
	want := []float32{0, 0.5, -0.5}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestPCMFrameEnd(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := PCMFrame{Timestamp: start, Duration: 20 * time.Millisecond}
	if got := f.End(); !got.Equal(start.Add(20 * time.Millisecond)) {
		t.Errorf("End() = %v, want %v", got, start.Add(20*time.Millisecond))
	}
}
