package audio

import "time"

// Target identifies one voice channel on the platform. Both fields are
// platform-specific identifiers; for Discord they are guild and channel
// snowflakes.
type Target struct {
	GuildID   string
	ChannelID string
}

// Key returns a stable map key for the target.
func (t Target) Key() string {
	return t.GuildID + "/" + t.ChannelID
}

// Packet is one decoded audio packet as delivered by the transport. A packet
// always carries a transport-level stream id (SSRC) but the stable speaker
// identity may not be known yet — SpeakerID stays empty until the transport
// resolves the mapping. A Packet is immutable once handed off.
type Packet struct {
	// StreamID is the transport-level stream identifier (RTP SSRC).
	StreamID uint32

	// SpeakerID is the resolved speaker identity, or "" when unresolved.
	SpeakerID string

	// PCM is mono 16-bit little-endian PCM audio.
	PCM []byte

	// SampleRate in Hz of the PCM payload.
	SampleRate int

	// ReceivedAt records when the packet arrived at the transport layer.
	ReceivedAt time.Time
}

// PCMFrame is one fixed-duration slice of mono 16-bit PCM attributed to a
// known speaker. Frames are the atomic unit flowing from identity resolution
// into segmentation.
type PCMFrame struct {
	// SpeakerID is the stable speaker identity. Never empty.
	SpeakerID string

	// PCM is mono 16-bit little-endian PCM audio.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Seq increases strictly monotonically per speaker.
	Seq uint64

	// Timestamp marks when the frame's audio starts.
	Timestamp time.Time

	// Duration is the audio duration covered by PCM.
	Duration time.Duration

	// RMS is the root-mean-square energy of PCM in 16-bit units.
	RMS float64
}

// End returns the instant the frame's audio ends.
func (f PCMFrame) End() time.Time {
	return f.Timestamp.Add(f.Duration)
}
