package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew_RequiresServerURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New(\"\") returned nil error")
	}
}

func TestTranscribe(t *testing.T) {
	var gotPath, gotLanguage, gotModel string
	var gotWAV []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("model")

		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			gotWAV, _ = io.ReadAll(f)
			f.Close()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "hey atlas what time is it"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithLanguage("en"), WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pcm := bytes.Repeat([]byte{1, 0}, 1600) // 100ms at 16kHz
	text, err := c.Transcribe(context.Background(), pcm, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if text != "hey atlas what time is it" {
		t.Errorf("text = %q", text)
	}
	if gotPath != "/inference" {
		t.Errorf("path = %q, want /inference", gotPath)
	}
	if gotLanguage != "en" {
		t.Errorf("language field = %q, want en", gotLanguage)
	}
	if gotModel != "base.en" {
		t.Errorf("model field = %q, want base.en", gotModel)
	}
	if len(gotWAV) != 44+len(pcm) {
		t.Errorf("wav size = %d, want %d", len(gotWAV), 44+len(pcm))
	}
}

func TestTranscribe_EmptyPCM(t *testing.T) {
	c, _ := New("http://unused")
	text, err := c.Transcribe(context.Background(), nil, 16000)
	if err != nil || text != "" {
		t.Errorf("Transcribe(empty) = %q, %v; want \"\", nil", text, err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	if _, err := c.Transcribe(context.Background(), []byte{1, 0}, 16000); err == nil {
		t.Error("expected error for HTTP 500")
	}
}

func TestTranscribe_InvalidSampleRate(t *testing.T) {
	c, _ := New("http://unused")
	if _, err := c.Transcribe(context.Background(), []byte{1, 0}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := bytes.Repeat([]byte{0xAB, 0xCD}, 160)
	wav := encodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); int(got) != len(pcm) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("pcm payload mismatch")
	}
}
