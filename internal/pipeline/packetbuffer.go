package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/earshot-voice/earshot/internal/observe"
	"github.com/earshot-voice/earshot/pkg/audio"
)

const (
	// DefaultPendingDepth bounds the per-stream pending buffer, roughly 5s of
	// audio at typical packet rates.
	DefaultPendingDepth = 250

	// DefaultPendingTimeout is how long unresolved packets wait for identity
	// before being discarded.
	DefaultPendingTimeout = 5 * time.Second
)

// pendingPacket is one buffered packet awaiting identity resolution.
type pendingPacket struct {
	pkt       audio.Packet
	arrivedAt time.Time
}

// PacketBuffer resolves raw packets into per-speaker streams. Packets that
// arrive before their stream's speaker mapping is known are buffered per
// stream ID; once a packet on that stream carries an identity, the buffered
// packets are drained in arrival order ahead of it, all stamped with the
// resolved speaker. Buffers are bounded by count (oldest evicted) and by age
// (whole buffer dropped); the two limits are independent — count eviction
// does not extend a buffer's lifetime.
//
// PacketBuffer is owned by the single ingest goroutine and is not safe for
// concurrent use.
type PacketBuffer struct {
	maxDepth int
	timeout  time.Duration
	deliver  func(pkt audio.Packet)

	pending map[uint32][]pendingPacket
	expiry  map[uint32]time.Time

	metrics *observe.Metrics
	log     *slog.Logger

	// now is overridable in tests.
	now func() time.Time
}

// PacketBufferOption customises a [PacketBuffer].
type PacketBufferOption func(*PacketBuffer)

// WithPendingDepth overrides the per-stream buffer depth.
func WithPendingDepth(depth int) PacketBufferOption {
	return func(b *PacketBuffer) {
		if depth > 0 {
			b.maxDepth = depth
		}
	}
}

// WithPendingTimeout overrides the identity-resolution timeout.
func WithPendingTimeout(d time.Duration) PacketBufferOption {
	return func(b *PacketBuffer) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithPacketBufferLogger overrides the logger.
func WithPacketBufferLogger(log *slog.Logger) PacketBufferOption {
	return func(b *PacketBuffer) {
		if log != nil {
			b.log = log
		}
	}
}

// WithPacketBufferMetrics overrides the metrics sink.
func WithPacketBufferMetrics(m *observe.Metrics) PacketBufferOption {
	return func(b *PacketBuffer) {
		if m != nil {
			b.metrics = m
		}
	}
}

// NewPacketBuffer creates a PacketBuffer delivering resolved packets to
// deliver.
func NewPacketBuffer(deliver func(pkt audio.Packet), opts ...PacketBufferOption) *PacketBuffer {
	b := &PacketBuffer{
		maxDepth: DefaultPendingDepth,
		timeout:  DefaultPendingTimeout,
		deliver:  deliver,
		pending:  make(map[uint32][]pendingPacket),
		expiry:   make(map[uint32]time.Time),
		metrics:  observe.DefaultMetrics(),
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// HandlePacket routes one incoming packet. Resolved packets (non-empty
// SpeakerID) flow straight through, preceded by any buffered packets for the
// same stream in their original arrival order. Unresolved packets are
// buffered; unresolved packets with no audio are dropped immediately.
//
// Expired pending buffers are swept opportunistically on every call, so no
// dedicated timer is needed.
func (b *PacketBuffer) HandlePacket(pkt audio.Packet) {
	now := b.now()
	b.sweep(now)

	if pkt.SpeakerID != "" {
		b.drainPending(pkt.StreamID, pkt.SpeakerID)
		b.deliver(pkt)
		return
	}

	if len(pkt.PCM) == 0 {
		b.metrics.RecordPacketDrop(context.Background(), "empty")
		return
	}

	buf := b.pending[pkt.StreamID]
	if len(buf) == 0 {
		// Expiry is anchored to the first pending packet and is not
		// refreshed by later arrivals or count eviction.
		b.expiry[pkt.StreamID] = now.Add(b.timeout)
	}
	buf = append(buf, pendingPacket{pkt: pkt, arrivedAt: now})
	if len(buf) > b.maxDepth {
		evicted := len(buf) - b.maxDepth
		buf = buf[evicted:]
		b.metrics.RecordPacketDrop(context.Background(), "evicted")
		b.metrics.PendingPackets.Add(context.Background(), -int64(evicted))
		b.log.Warn("pending packet buffer full, evicted oldest",
			"stream_id", pkt.StreamID, "evicted", evicted, "depth", b.maxDepth)
	}
	b.pending[pkt.StreamID] = buf
	b.metrics.PendingPackets.Add(context.Background(), 1)
}

// PendingCount returns the number of buffered packets for a stream.
func (b *PacketBuffer) PendingCount(streamID uint32) int {
	return len(b.pending[streamID])
}

// drainPending delivers all buffered packets for streamID in arrival order,
// stamped with the resolved speaker, then clears the buffer.
func (b *PacketBuffer) drainPending(streamID uint32, speakerID string) {
	buf := b.pending[streamID]
	if len(buf) == 0 {
		return
	}
	for _, p := range buf {
		pkt := p.pkt
		pkt.SpeakerID = speakerID
		b.deliver(pkt)
	}
	b.metrics.PendingPackets.Add(context.Background(), -int64(len(buf)))
	b.log.Debug("drained pending packets after identity resolution",
		"stream_id", streamID, "speaker_id", speakerID, "count", len(buf))
	delete(b.pending, streamID)
	delete(b.expiry, streamID)
}

// sweep drops every pending buffer whose expiry has passed.
func (b *PacketBuffer) sweep(now time.Time) {
	for streamID, deadline := range b.expiry {
		if now.Before(deadline) {
			continue
		}
		dropped := len(b.pending[streamID])
		delete(b.pending, streamID)
		delete(b.expiry, streamID)
		if dropped == 0 {
			continue
		}
		for i := 0; i < dropped; i++ {
			b.metrics.RecordPacketDrop(context.Background(), "expired")
		}
		b.metrics.PendingPackets.Add(context.Background(), -int64(dropped))
		b.log.Warn("dropped pending packets, identity never resolved",
			"stream_id", streamID, "dropped", dropped)
	}
}
