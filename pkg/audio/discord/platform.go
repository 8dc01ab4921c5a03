// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// Discord's Opus-based voice transport with Earshot's mono PCM
// [audio.Packet] pipeline.
//
// The platform requires an active *discordgo.Session (owned by the caller).
// Each call to [Platform.Connect] joins the specified voice channel and
// returns a [Connection] that decodes per-SSRC audio and delivers it to the
// installed packet handler.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/earshot-voice/earshot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using discordgo voice connections.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
}

// New creates a new Discord Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

// Connect joins the voice channel identified by target and returns an active
// [audio.Connection]. The supplied ctx governs the connection-setup phase
// only; once the Connection is returned it lives until
// [Connection.Disconnect] is called.
func (p *Platform) Connect(ctx context.Context, target audio.Target) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: connect cancelled: %w", err)
	}

	// mute=true (we never send audio), deaf=false (we receive audio).
	vc, err := p.session.ChannelVoiceJoin(target.GuildID, target.ChannelID, true, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", target.ChannelID, err)
	}

	return newConnection(vc), nil
}
