// Package mock provides in-memory mock implementations of the
// [audio.Platform] and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	conn := &mock.Connection{}
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, audio.Target{GuildID: "g", ChannelID: "c"})
//	conn.DeliverPacket(audio.Packet{StreamID: 7, PCM: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/earshot-voice/earshot/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported Result fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// CallCountSetPacketHandler records how many times SetPacketHandler was called.
	CallCountSetPacketHandler int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	handler      audio.PacketHandler
	onDisconnect func(err error)
}

// SetPacketHandler implements [audio.Connection].
func (c *Connection) SetPacketHandler(h audio.PacketHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountSetPacketHandler++
	c.handler = h
}

// OnDisconnect implements [audio.Connection].
func (c *Connection) OnDisconnect(cb func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = cb
}

// Disconnect implements [audio.Connection]. Returns DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// Handler returns the currently installed packet handler, or nil.
func (c *Connection) Handler() audio.PacketHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// DeliverPacket invokes the installed packet handler with pkt.
// Use this in tests to simulate incoming audio. Packets delivered while no
// handler is installed are silently dropped, matching real connections.
func (c *Connection) DeliverPacket(pkt audio.Packet) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(pkt)
	}
}

// TriggerDisconnect invokes the registered disconnect callback with err.
// Use this in tests to simulate an unsolicited connection loss.
func (c *Connection) TriggerDisconnect(err error) {
	c.mu.Lock()
	cb := c.onDisconnect
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// Target is the target argument passed to Connect.
	Target audio.Target
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectFunc, when non-nil, overrides ConnectResult/ConnectError and is
	// invoked for every Connect call. Useful for fail-N-times scenarios.
	ConnectFunc func(ctx context.Context, target audio.Target) (audio.Connection, error)

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform]. Records the call and returns
// ConnectResult / ConnectError, or delegates to ConnectFunc when set.
func (p *Platform) Connect(ctx context.Context, target audio.Target) (audio.Connection, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Target: target})
	fn := p.ConnectFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, target)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ConnectResult, p.ConnectError
}
