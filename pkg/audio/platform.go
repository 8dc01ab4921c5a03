// Package audio defines the interfaces and types for voice-channel
// connectivity within Earshot.
//
// The two primary abstractions are:
//
//   - [Platform] — joins a voice channel and returns a [Connection].
//   - [Connection] — represents an active session on that channel, delivering
//     decoded audio packets to a registered [PacketHandler] and reporting
//     unsolicited disconnects.
//
// Implementations of these interfaces are provided by platform-specific
// adapter packages (e.g., audio/discord). The interfaces are intentionally
// narrow to keep the pipeline decoupled from provider details.
//
// This package lives under pkg/ because external code (third-party platform
// adapters, test doubles) is expected to implement [Platform] and [Connection].
package audio

import "context"

// PacketHandler receives decoded audio packets from a [Connection].
//
// The handler is invoked on the connection's internal receive goroutine,
// which may differ from the goroutine that installed it. Handlers must not
// block and must not panic; a slow handler stalls packet reception for the
// entire connection.
type PacketHandler func(pkt Packet)

// Connection represents an active session on a voice channel.
//
// A Connection is obtained from [Platform.Connect] and remains valid until
// [Connection.Disconnect] is called or the platform drops it. Implementations
// must be safe for concurrent use.
type Connection interface {
	// SetPacketHandler installs h as the receiver of decoded audio packets.
	// Only one handler may be installed at a time; subsequent calls replace
	// the previous handler. Passing nil uninstalls the handler and drops
	// further packets.
	SetPacketHandler(h PacketHandler)

	// OnDisconnect registers cb to be invoked when the connection is lost
	// without a matching Disconnect call. The callback runs on an internal
	// goroutine and must not block. Only one callback may be registered;
	// subsequent calls replace it. It is never invoked for an explicit
	// Disconnect.
	OnDisconnect(cb func(err error))

	// Disconnect cleanly tears down the connection and stops packet
	// delivery. Safe to call more than once; subsequent calls are no-ops
	// and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
// Implementations wrap provider-specific SDKs (Discord, …) and expose a
// uniform [Connection] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel identified by target and returns an
	// active [Connection]. The supplied ctx governs the lifetime of the
	// connection attempt only; once established, the Connection remains
	// alive until [Connection.Disconnect] is called explicitly.
	Connect(ctx context.Context, target Target) (Connection, error)
}
