package pipeline

import (
	"bytes"
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/earshot-voice/earshot/internal/observe"
	"github.com/earshot-voice/earshot/pkg/audio"
	vadmock "github.com/earshot-voice/earshot/pkg/provider/vad/mock"
)

// speechPacket builds a resolved 20ms packet at the engine's target rate.
func speechPacket(speakerID string, offset time.Duration, marker byte) audio.Packet {
	return audio.Packet{
		StreamID:   7,
		SpeakerID:  speakerID,
		PCM:        bytes.Repeat([]byte{marker}, 320*2),
		SampleRate: 16000,
		ReceivedAt: base.Add(offset),
	}
}

func newTestEngine(t *testing.T, policy Policy, speech bool) *Engine {
	t.Helper()
	vadEng := &vadmock.Engine{NewSessionResult: &vadmock.Session{IsSpeechResult: speech}}
	return NewEngine(policy, vadEng, WithQueueSize(16))
}

// receiveSegment pulls one segment or fails the test.
func receiveSegment(t *testing.T, e *Engine) *Segment {
	t.Helper()
	select {
	case seg := <-e.Segments():
		return seg
	default:
		t.Fatal("no segment in queue")
		return nil
	}
}

func assertNoSegment(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case seg := <-e.Segments():
		t.Fatalf("unexpected segment %+v", seg)
	default:
	}
}

func TestEngine_SilenceTimeoutFlush(t *testing.T) {
	e := newTestEngine(t, testPolicy(), true)

	for i := 0; i < 20; i++ {
		e.RegisterPacket(speechPacket("42", time.Duration(i)*20*time.Millisecond, byte(i)))
	}
	assertNoSegment(t, e)

	// Idle sweep well past the silence timeout closes the utterance without
	// any new audio.
	e.FlushInactive(base.Add(2 * time.Second))

	seg := receiveSegment(t, e)
	if seg.SpeakerID != "42" {
		t.Errorf("speaker id = %q, want 42", seg.SpeakerID)
	}
	if seg.Reason != ReasonSilenceTimeout {
		t.Errorf("reason = %q, want %q", seg.Reason, ReasonSilenceTimeout)
	}
	if seg.FrameCount != 20 {
		t.Errorf("frame count = %d, want 20", seg.FrameCount)
	}
	if seg.CorrelationID == "" {
		t.Error("missing correlation id")
	}
	if seg.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", seg.SampleRate)
	}
	// 20 frames x 20ms, concatenated.
	if len(seg.PCM) != 20*320*2 {
		t.Errorf("pcm length = %d, want %d", len(seg.PCM), 20*320*2)
	}
}

func TestEngine_ShortUtteranceHeld(t *testing.T) {
	e := newTestEngine(t, testPolicy(), true)

	e.RegisterPacket(speechPacket("42", 0, 1)) // 20ms < 300ms minimum

	e.FlushInactive(base.Add(2 * time.Second))
	assertNoSegment(t, e)
}

func TestEngine_MaxDurationFlushInline(t *testing.T) {
	p := testPolicy()
	p.MaxSegmentDuration = 200 * time.Millisecond
	e := newTestEngine(t, p, true)

	// The inline trigger must split without waiting for a sweep.
	for i := 0; i < 10; i++ {
		e.RegisterPacket(speechPacket("42", time.Duration(i)*20*time.Millisecond, byte(i)))
	}

	seg := receiveSegment(t, e)
	if seg.Reason != ReasonMaxDuration {
		t.Errorf("reason = %q, want %q", seg.Reason, ReasonMaxDuration)
	}
}

func TestEngine_ForceFlush(t *testing.T) {
	e := newTestEngine(t, testPolicy(), true)

	e.RegisterPacket(speechPacket("42", 0, 1))
	e.RegisterPacket(speechPacket("99", 0, 2))

	e.ForceFlush()

	speakers := map[string]FlushReason{}
	for i := 0; i < 2; i++ {
		seg := receiveSegment(t, e)
		speakers[seg.SpeakerID] = seg.Reason
	}
	for _, id := range []string{"42", "99"} {
		if speakers[id] != ReasonForced {
			t.Errorf("speaker %s reason = %q, want %q", id, speakers[id], ReasonForced)
		}
	}
}

func TestEngine_SilenceFramesNotAccumulated(t *testing.T) {
	vadEng := &vadmock.Engine{NewSessionResult: &vadmock.Session{IsSpeechResult: false}}
	e := NewEngine(testPolicy(), vadEng, WithQueueSize(16))

	for i := 0; i < 50; i++ {
		e.RegisterPacket(speechPacket("42", time.Duration(i)*20*time.Millisecond, byte(i)))
	}

	e.FlushInactive(base.Add(time.Minute))
	e.ForceFlush()
	assertNoSegment(t, e)
}

func TestEngine_ResamplesToTargetRate(t *testing.T) {
	p := testPolicy()
	p.MinSegmentDuration = 0
	e := newTestEngine(t, p, true)

	pkt := audio.Packet{
		StreamID:   7,
		SpeakerID:  "42",
		PCM:        bytes.Repeat([]byte{1, 0}, 960), // 20ms at 48kHz
		SampleRate: 48000,
		ReceivedAt: base,
	}
	e.RegisterPacket(pkt)
	e.ForceFlush()

	seg := receiveSegment(t, e)
	if seg.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", seg.SampleRate)
	}
	// 960 samples at 48kHz resample to 320 at 16kHz.
	if len(seg.PCM) != 320*2 {
		t.Errorf("pcm length = %d, want %d", len(seg.PCM), 320*2)
	}
}

func TestEngine_SpeakersIsolated(t *testing.T) {
	e := newTestEngine(t, testPolicy(), true)

	for i := 0; i < 20; i++ {
		e.RegisterPacket(speechPacket("42", time.Duration(i)*20*time.Millisecond, 1))
	}
	// Speaker 99 spoke much later; only 42's utterance is stale.
	for i := 0; i < 20; i++ {
		e.RegisterPacket(speechPacket("99", time.Second+time.Duration(i)*20*time.Millisecond, 2))
	}

	e.FlushInactive(base.Add(1500 * time.Millisecond))

	seg := receiveSegment(t, e)
	if seg.SpeakerID != "42" {
		t.Errorf("flushed speaker = %q, want 42", seg.SpeakerID)
	}
	assertNoSegment(t, e)
}

func TestEngine_RunShutdownDrains(t *testing.T) {
	e := newTestEngine(t, testPolicy(), true)
	e.RegisterPacket(speechPacket("42", 0, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The forced segment is in the queue and the channel is closed.
	seg, ok := <-e.Segments()
	if !ok {
		t.Fatal("queue closed before draining the forced segment")
	}
	if seg.Reason != ReasonForced {
		t.Errorf("reason = %q, want %q", seg.Reason, ReasonForced)
	}
	if _, ok := <-e.Segments(); ok {
		t.Error("queue not closed after shutdown")
	}
}

func TestEngine_LateFlushAfterShutdownDropped(t *testing.T) {
	p := testPolicy()
	p.MinSegmentDuration = 0
	p.MaxSegmentDuration = 40 * time.Millisecond
	e := newTestEngine(t, p, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// The queue is closed. A straggler burst still in flight from the ingest
	// side triggers an inline max-duration flush; the segment must be dropped,
	// not sent on the closed queue.
	for i := 0; i < 5; i++ {
		e.RegisterPacket(speechPacket("42", time.Duration(i)*20*time.Millisecond, byte(i)))
	}

	if _, ok := <-e.Segments(); ok {
		t.Error("segment emitted after the queue was closed")
	}
}

func TestEngine_QueueFullDropRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := testPolicy()
	p.MinSegmentDuration = 0
	vadEng := &vadmock.Engine{NewSessionResult: &vadmock.Session{IsSpeechResult: true}}
	e := NewEngine(p, vadEng, WithQueueSize(1), WithEngineMetrics(met))

	e.RegisterPacket(speechPacket("1", 0, 1))
	e.RegisterPacket(speechPacket("2", 0, 2))
	e.ForceFlush()

	// One segment fits the queue; the other is dropped and counted.
	if seg := receiveSegment(t, e); seg == nil {
		t.Fatal("no segment delivered")
	}
	assertNoSegment(t, e)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var dropped int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "earshot.segments.dropped" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatal("segments.dropped is not a sum")
			}
			for _, dp := range sum.DataPoints {
				dropped += dp.Value
			}
		}
	}
	if dropped != 1 {
		t.Errorf("segments.dropped = %d, want 1", dropped)
	}
}
