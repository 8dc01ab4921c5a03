// Package app wires all Earshot subsystems into a running capture service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run joins the voice channel and executes the processing
// pipeline, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithPlatform, WithTranscriber, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/earshot-voice/earshot/internal/config"
	"github.com/earshot-voice/earshot/internal/health"
	"github.com/earshot-voice/earshot/internal/observe"
	"github.com/earshot-voice/earshot/internal/pipeline"
	"github.com/earshot-voice/earshot/internal/session"
	"github.com/earshot-voice/earshot/internal/store"
	storepg "github.com/earshot-voice/earshot/internal/store/postgres"
	"github.com/earshot-voice/earshot/internal/wake"
	"github.com/earshot-voice/earshot/pkg/audio"
	"github.com/earshot-voice/earshot/pkg/provider/stt"
	"github.com/earshot-voice/earshot/pkg/provider/stt/whisper"
	"github.com/earshot-voice/earshot/pkg/provider/vad"
)

// handoffDepth bounds the channel between the transport receive goroutine and
// the ingest loop. The transport handler must never block, so a full channel
// drops the packet instead.
const handoffDepth = 256

// App owns all subsystem lifetimes and orchestrates the capture pipeline:
// transport packets → identity resolution → segmentation → transcription →
// wake detection → persistence.
type App struct {
	cfg *config.Config

	// Injectable subsystems.
	platform    audio.Platform
	vadEngine   vad.Engine
	transcriber stt.Transcriber // nil when no STT backend is configured
	detector    *wake.Detector
	store       store.Store
	metrics     *observe.Metrics
	log         *slog.Logger

	manager *session.Manager
	engine  *pipeline.Engine
	buffer  *pipeline.PacketBuffer
	handoff chan audio.Packet

	target audio.Target

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPlatform injects the voice platform instead of requiring a Discord
// session. Required in tests; main wires the Discord adapter here.
func WithPlatform(p audio.Platform) Option {
	return func(a *App) { a.platform = p }
}

// WithVAD injects a voice-activity engine instead of the RMS default.
func WithVAD(e vad.Engine) Option {
	return func(a *App) { a.vadEngine = e }
}

// WithTranscriber injects an STT backend instead of creating one from config.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithWakeDetector injects a wake detector instead of creating one from
// config.
func WithWakeDetector(d *wake.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithStore injects an utterance store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger overrides the logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem; anything not injected is built
// from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
		target: audio.Target{
			GuildID:   cfg.Discord.GuildID,
			ChannelID: cfg.Discord.ChannelID,
		},
	}
	for _, o := range opts {
		o(a)
	}

	if a.platform == nil {
		return nil, errors.New("app: no voice platform wired")
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initVAD(); err != nil {
		return nil, fmt.Errorf("app: init vad: %w", err)
	}
	if err := a.initSTT(); err != nil {
		return nil, fmt.Errorf("app: init stt: %w", err)
	}
	a.initWake()
	a.initPipeline()

	a.manager = session.NewManager(a.platform,
		session.WithMaxAttempts(cfg.Connection.MaxAttempts),
		session.WithBackoff(cfg.Connection.InitialBackoff.Std(), cfg.Connection.MaxBackoff.Std()),
		session.WithPacketHandler(a.enqueuePacket),
		session.WithManagerMetrics(a.metrics),
		session.WithManagerLogger(a.log),
	)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects the PostgreSQL utterance log, or falls back to the
// no-op store when no DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		a.store = store.Noop{}
		return nil
	}
	st, err := storepg.New(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = st
	a.log.Info("utterance store connected")
	return nil
}

// initVAD creates the RMS energy gate unless a VAD engine was injected.
func (a *App) initVAD() error {
	if a.vadEngine != nil {
		return nil
	}
	eng, err := vad.NewRMSEngine(a.cfg.Audio.VADAggressiveness)
	if err != nil {
		return err
	}
	a.vadEngine = eng
	return nil
}

// initSTT builds the whisper backend named in config. The HTTP backend wins
// when both are configured; with neither, segments pass through
// untranscribed and only the audio wake path stays active.
func (a *App) initSTT() error {
	if a.transcriber != nil {
		a.closers = append(a.closers, a.transcriber.Close)
		return nil
	}

	switch {
	case a.cfg.STT.BaseURL != "":
		var opts []whisper.Option
		if a.cfg.STT.Model != "" {
			opts = append(opts, whisper.WithModel(a.cfg.STT.Model))
		}
		if a.cfg.STT.Language != "" {
			opts = append(opts, whisper.WithLanguage(a.cfg.STT.Language))
		}
		c, err := whisper.New(a.cfg.STT.BaseURL, opts...)
		if err != nil {
			return err
		}
		a.transcriber = c
		a.log.Info("stt backend ready", "kind", "whisper-http", "base_url", a.cfg.STT.BaseURL)

	case a.cfg.STT.ModelPath != "":
		var opts []whisper.NativeOption
		if a.cfg.STT.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(a.cfg.STT.Language))
		}
		n, err := whisper.NewNative(a.cfg.STT.ModelPath, opts...)
		if err != nil {
			return err
		}
		a.transcriber = n
		a.log.Info("stt backend ready", "kind", "whisper-native", "model", a.cfg.STT.ModelPath)

	default:
		a.log.Warn("no stt backend configured, segments will not be transcribed")
	}

	if a.transcriber != nil {
		a.closers = append(a.closers, a.transcriber.Close)
	}
	return nil
}

// initWake constructs the wake detector from config unless one was injected.
func (a *App) initWake() {
	if a.detector == nil {
		a.detector = wake.New(a.cfg.Wake.Phrases, a.cfg.Wake.ModelPaths,
			wake.WithActivationThreshold(a.cfg.Wake.ActivationThreshold),
			wake.WithModelDir(a.cfg.Wake.ModelDir),
			wake.WithMetrics(a.metrics),
			wake.WithLogger(a.log),
		)
	}
	a.closers = append(a.closers, a.detector.Close)
}

// initPipeline builds the segmentation engine, the identity-resolution
// buffer, and the handoff channel between them and the transport.
func (a *App) initPipeline() {
	policy := pipeline.Policy{
		SilenceTimeout:     a.cfg.Segmentation.SilenceTimeout.Std(),
		MinSegmentDuration: a.cfg.Segmentation.MinSegmentDuration.Std(),
		MaxSegmentDuration: a.cfg.Segmentation.MaxSegmentDuration.Std(),
	}
	a.engine = pipeline.NewEngine(policy, a.vadEngine,
		pipeline.WithTargetSampleRate(a.cfg.Audio.TargetSampleRate),
		pipeline.WithEngineMetrics(a.metrics),
		pipeline.WithEngineLogger(a.log),
	)
	a.buffer = pipeline.NewPacketBuffer(a.engine.RegisterPacket,
		pipeline.WithPendingDepth(a.cfg.Buffer.PendingDepth),
		pipeline.WithPendingTimeout(a.cfg.Buffer.PendingTimeout.Std()),
		pipeline.WithPacketBufferMetrics(a.metrics),
		pipeline.WithPacketBufferLogger(a.log),
	)
	a.handoff = make(chan audio.Packet, handoffDepth)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run joins the configured voice channel and drives the pipeline until ctx is
// cancelled. On cancellation the remaining accumulated audio is force-flushed
// and processed before Run returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.manager.Join(ctx, a.target); err != nil {
		return fmt.Errorf("app: join voice channel: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { a.ingest(gctx); return nil })
	g.Go(func() error { a.consumeSegments(gctx); return nil })

	a.log.Info("earshot running", "target", a.target.Key())
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// enqueuePacket is the transport packet receiver. It must not block: when the
// handoff channel is full the packet is counted and dropped.
func (a *App) enqueuePacket(pkt audio.Packet) {
	select {
	case a.handoff <- pkt:
	default:
		a.metrics.RecordPacketDrop(context.Background(), "handoff_full")
		a.log.Warn("handoff channel full, dropping packet", "stream_id", pkt.StreamID)
	}
}

// ingest moves packets from the handoff channel into the identity-resolution
// buffer. The buffer is single-owner, so this is the only goroutine touching
// it.
func (a *App) ingest(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-a.handoff:
			a.buffer.HandlePacket(pkt)
		}
	}
}

// consumeSegments drains finalized segments, transcribes them, runs wake
// detection, and persists the result. It exits when the engine closes its
// queue after the shutdown flush, so no finalized audio is lost.
func (a *App) consumeSegments(ctx context.Context) {
	for seg := range a.engine.Segments() {
		a.metrics.QueueDepth.Add(context.Background(), -1)
		a.processSegment(ctx, seg)
	}
}

// processSegment runs one segment through STT, wake detection, and the store.
// Failures are per-segment: they are logged and the segment is dropped
// without affecting the pipeline.
func (a *App) processSegment(ctx context.Context, seg *pipeline.Segment) {
	// Shutdown flush arrives with a cancelled ctx; give downstream calls a
	// short grace window instead of failing them outright.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	transcript := a.transcribe(ctx, seg)
	det := a.detector.Detect(seg.PCM, seg.SampleRate, transcript)

	attrs := []any{
		"correlation_id", seg.CorrelationID,
		"speaker_id", seg.SpeakerID,
		"duration", seg.Duration(),
		"reason", string(seg.Reason),
		"transcript", transcript,
	}
	if det != nil {
		attrs = append(attrs,
			"wake_phrase", det.Phrase,
			"wake_source", string(det.Source),
			"wake_confidence", det.Confidence,
		)
		a.log.Info("wake phrase detected", attrs...)
	} else {
		a.log.Info("utterance finalized", attrs...)
	}

	u := store.Utterance{
		CorrelationID: seg.CorrelationID,
		SpeakerID:     seg.SpeakerID,
		Transcript:    transcript,
		Start:         seg.Start,
		End:           seg.End,
		Duration:      seg.Duration(),
	}
	if det != nil {
		u.WakePhrase = det.Phrase
		u.WakeSource = string(det.Source)
	}
	if err := a.store.SaveUtterance(ctx, u); err != nil {
		a.log.Warn("failed to persist utterance",
			"correlation_id", seg.CorrelationID, "error", err)
	}
}

// transcribe runs the STT backend over a segment, recording latency. Returns
// "" when no backend is configured or transcription fails.
func (a *App) transcribe(ctx context.Context, seg *pipeline.Segment) string {
	if a.transcriber == nil {
		return ""
	}
	start := time.Now()
	text, err := a.transcriber.Transcribe(ctx, seg.PCM, seg.SampleRate)
	a.metrics.STTDuration.Record(context.Background(), time.Since(start).Seconds())
	if err != nil {
		a.log.Warn("transcription failed",
			"correlation_id", seg.CorrelationID, "error", err)
		return ""
	}
	return text
}

// ─── Health ──────────────────────────────────────────────────────────────────

// Checkers returns the readiness checks for the health endpoint: the voice
// connection phase and the utterance store.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		{
			Name: "voice",
			Check: func(_ context.Context) error {
				if phase := a.manager.Phase(a.target); phase != session.PhaseConnected {
					return fmt.Errorf("voice connection is %s", phase)
				}
				return nil
			},
		},
		{
			Name: "store",
			Check: func(ctx context.Context) error {
				_, err := a.store.RecentUtterances(ctx, "", 1)
				return err
			},
		},
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: the connection manager first so no new
// audio arrives, then the per-subsystem closers in registration order. Safe
// to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("connection manager: %w", err))
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				errs = append(errs, err)
			}
		}

		a.store.Close()
		a.log.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
