package discord

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/earshot-voice/earshot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. It decodes incoming Opus packets per SSRC,
// downmixes to mono, annotates each packet with the speaker identity when
// the SSRC→user mapping is known, and delivers the result to the installed
// packet handler.
//
// The SSRC→user mapping arrives asynchronously via Discord speaking updates,
// so early packets on a stream may carry an empty SpeakerID. Identity
// reconciliation for those packets is the caller's concern.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc *discordgo.VoiceConnection

	handlerMu sync.RWMutex
	handler   audio.PacketHandler

	ssrcMu   sync.RWMutex
	ssrcUser map[uint32]string // SSRC -> user ID, fed by speaking updates

	disconnectMu sync.Mutex
	onDisconnect func(err error)

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the background receive goroutine.
func newConnection(vc *discordgo.VoiceConnection) *Connection {
	c := &Connection{
		vc:           vc,
		ssrcUser:     make(map[uint32]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	// Speaking updates carry the SSRC→user association.
	vc.AddHandler(c.handleSpeakingUpdate)

	go c.recvLoop()

	return c
}

// SetPacketHandler installs h as the receiver of decoded packets. Passing nil
// uninstalls the handler; packets decoded while no handler is installed are
// dropped.
func (c *Connection) SetPacketHandler(h audio.PacketHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = h
}

// OnDisconnect registers cb to be invoked when the voice connection drops
// without an explicit Disconnect call.
func (c *Connection) OnDisconnect(cb func(err error)) {
	c.disconnectMu.Lock()
	defer c.disconnectMu.Unlock()
	c.onDisconnect = cb
}

// Disconnect cleanly tears down the voice connection and stops the receive
// goroutine. Safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// SpeakerForSSRC returns the user ID mapped to ssrc, or "" if the mapping has
// not arrived yet.
func (c *Connection) SpeakerForSSRC(ssrc uint32) string {
	c.ssrcMu.RLock()
	defer c.ssrcMu.RUnlock()
	return c.ssrcUser[ssrc]
}

// recvLoop reads Opus packets from the Discord voice connection, decodes them
// per SSRC, downmixes to mono, and delivers audio.Packets to the installed
// handler. When the underlying packet channel closes without an explicit
// Disconnect, the registered disconnect callback fires.
func (c *Connection) recvLoop() {
	// Each SSRC keeps its own decoder to preserve decoder state across frames.
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				c.emitDisconnect(errors.New("discord: voice packet stream closed"))
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			stereo, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "error", err)
				continue
			}

			c.deliver(audio.Packet{
				StreamID:   pkt.SSRC,
				SpeakerID:  c.SpeakerForSSRC(pkt.SSRC),
				PCM:        audio.StereoToMono(stereo),
				SampleRate: opusSampleRate,
				ReceivedAt: time.Now(),
			})
		}
	}
}

// deliver hands pkt to the installed handler, if any.
func (c *Connection) deliver(pkt audio.Packet) {
	c.handlerMu.RLock()
	h := c.handler
	c.handlerMu.RUnlock()
	if h != nil {
		h(pkt)
	}
}

// handleSpeakingUpdate records the SSRC→user mapping from Discord speaking
// events. The mapping may arrive after the first packets of a stream.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || su.UserID == "" {
		return
	}
	c.ssrcMu.Lock()
	prev := c.ssrcUser[uint32(su.SSRC)]
	c.ssrcUser[uint32(su.SSRC)] = su.UserID
	c.ssrcMu.Unlock()

	if prev == "" {
		slog.Info("discord: mapped SSRC to user", "ssrc", su.SSRC, "user_id", su.UserID)
	}
}

// emitDisconnect invokes the registered disconnect callback unless Disconnect
// was called explicitly.
func (c *Connection) emitDisconnect(err error) {
	select {
	case <-c.done:
		return // explicit Disconnect; not unsolicited
	default:
	}

	c.disconnectMu.Lock()
	cb := c.onDisconnect
	c.disconnectMu.Unlock()
	if cb != nil {
		go cb(err)
	}
}
