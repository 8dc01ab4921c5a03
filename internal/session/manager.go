// Package session manages the lifecycle of voice connections: joining and
// leaving channels with bounded retries and exponential backoff, and a
// reconnection watchdog that re-establishes connections lost without an
// explicit leave.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/earshot-voice/earshot/internal/observe"
	"github.com/earshot-voice/earshot/pkg/audio"
)

// Default connection parameters.
const (
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = 1 * time.Second
	DefaultMaxBackoff  = 10 * time.Second
)

// Phase is the lifecycle phase of one voice connection.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
)

// String implements [fmt.Stringer].
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// targetState is the per-target connection state. opMu serialises join/leave
// for the target; mu guards the mutable fields.
type targetState struct {
	opMu sync.Mutex

	mu              sync.Mutex
	phase           Phase
	conn            audio.Connection
	lastErr         error
	autoReconnect   bool
	reconnecting    bool
	cancelReconnect context.CancelFunc
}

// Manager owns voice connection lifecycles, one per target. Join and Leave
// for the same target are mutually exclusive; different targets proceed
// independently. Unsolicited disconnects trigger a per-target reconnection
// worker (at most one at a time) that retries indefinitely until shutdown or
// an explicit Leave cancels it.
//
// Manager is safe for concurrent use.
type Manager struct {
	platform    audio.Platform
	handler     audio.PacketHandler
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu      sync.Mutex
	targets map[string]*targetState

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// stopMu makes the done check and worker registration in handleDisconnect
	// atomic with Shutdown closing done, so no worker starts after wg.Wait.
	stopMu sync.Mutex

	metrics *observe.Metrics
	log     *slog.Logger

	// jitter returns a random delay in [0, base). Overridable in tests.
	jitter func(base time.Duration) time.Duration
}

// ManagerOption customises a [Manager].
type ManagerOption func(*Manager)

// WithMaxAttempts sets the join retry budget.
func WithMaxAttempts(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial and maximum retry delays.
func WithBackoff(base, max time.Duration) ManagerOption {
	return func(m *Manager) {
		if base > 0 {
			m.baseBackoff = base
		}
		if max > 0 {
			m.maxBackoff = max
		}
	}
}

// WithPacketHandler sets the receiver installed on every established
// connection.
func WithPacketHandler(h audio.PacketHandler) ManagerOption {
	return func(m *Manager) { m.handler = h }
}

// WithManagerLogger overrides the logger.
func WithManagerLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithManagerMetrics overrides the metrics sink.
func WithManagerMetrics(met *observe.Metrics) ManagerOption {
	return func(m *Manager) {
		if met != nil {
			m.metrics = met
		}
	}
}

// NewManager creates a connection manager for the given platform.
func NewManager(platform audio.Platform, opts ...ManagerOption) *Manager {
	m := &Manager{
		platform:    platform,
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
		maxBackoff:  DefaultMaxBackoff,
		targets:     make(map[string]*targetState),
		done:        make(chan struct{}),
		metrics:     observe.DefaultMetrics(),
		log:         slog.Default(),
	}
	m.jitter = func(base time.Duration) time.Duration {
		if base <= 0 {
			return 0
		}
		return time.Duration(rand.Int64N(int64(base)))
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join connects to the target voice channel, retrying up to the configured
// attempt budget with exponential backoff plus jitter between attempts. A
// pending reconnection worker for the target is cancelled first. On success
// the packet receiver is installed and auto-reconnect is armed.
func (m *Manager) Join(ctx context.Context, target audio.Target) error {
	ts := m.target(target)
	ts.opMu.Lock()
	defer ts.opMu.Unlock()

	m.cancelWorker(ts)
	m.setPhase(ts, PhaseConnecting)

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		conn, err := m.platform.Connect(ctx, target)
		if err == nil {
			m.metrics.RecordReconnectAttempt(ctx, "ok")
			m.install(ts, target, conn)
			m.log.Info("joined voice channel",
				"target", target.Key(), "attempt", attempt)
			return nil
		}

		m.metrics.RecordReconnectAttempt(ctx, "error")
		lastErr = err
		m.log.Warn("join attempt failed",
			"target", target.Key(), "attempt", attempt,
			"max_attempts", m.maxAttempts, "error", err)

		if attempt == m.maxAttempts {
			break
		}
		if err := m.sleep(ctx, m.backoffDelay(attempt)); err != nil {
			m.setPhase(ts, PhaseDisconnected)
			return fmt.Errorf("session: join %s cancelled: %w", target.Key(), err)
		}
	}

	m.setPhase(ts, PhaseDisconnected)
	ts.mu.Lock()
	ts.lastErr = lastErr
	ts.mu.Unlock()
	return fmt.Errorf("session: join %s after %d attempts: %w",
		target.Key(), m.maxAttempts, lastErr)
}

// Leave disconnects from the target, cancelling any pending reconnection and
// suppressing the auto-reconnect watchdog. The receiver and per-target state
// are released even when the underlying disconnect fails.
func (m *Manager) Leave(target audio.Target) error {
	ts := m.target(target)
	ts.opMu.Lock()
	defer ts.opMu.Unlock()

	ts.mu.Lock()
	ts.autoReconnect = false
	if ts.cancelReconnect != nil {
		ts.cancelReconnect()
		ts.cancelReconnect = nil
	}
	conn := ts.conn
	ts.conn = nil
	ts.phase = PhaseDisconnected
	ts.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.SetPacketHandler(nil)
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("session: leave %s: %w", target.Key(), err)
	}
	m.log.Info("left voice channel", "target", target.Key())
	return nil
}

// Move leaves one voice channel and joins another with the usual retry
// policy. A failed leave does not abort the join; both errors are surfaced.
func (m *Manager) Move(ctx context.Context, from, to audio.Target) error {
	if from == to {
		return nil
	}
	leaveErr := m.Leave(from)
	if err := m.Join(ctx, to); err != nil {
		return errors.Join(leaveErr, err)
	}
	if leaveErr != nil {
		return fmt.Errorf("session: move left %s with error: %w", from.Key(), leaveErr)
	}
	return nil
}

// Phase returns the target's current lifecycle phase.
func (m *Manager) Phase(target audio.Target) Phase {
	ts := m.target(target)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.phase
}

// Connection returns the target's active connection, or nil.
func (m *Manager) Connection(target audio.Target) audio.Connection {
	ts := m.target(target)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.conn
}

// Shutdown cancels all reconnection workers, waits for them, then
// disconnects every connection, joining individual failures so one broken
// disconnect does not block the rest of the cleanup.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopMu.Lock()
	m.stopOnce.Do(func() { close(m.done) })
	m.stopMu.Unlock()

	m.mu.Lock()
	states := make([]*targetState, 0, len(m.targets))
	for _, ts := range m.targets {
		states = append(states, ts)
	}
	m.mu.Unlock()

	for _, ts := range states {
		ts.mu.Lock()
		ts.autoReconnect = false
		if ts.cancelReconnect != nil {
			ts.cancelReconnect()
			ts.cancelReconnect = nil
		}
		ts.mu.Unlock()
	}

	m.wg.Wait()

	var errs []error
	for _, ts := range states {
		ts.mu.Lock()
		conn := ts.conn
		ts.conn = nil
		ts.phase = PhaseDisconnected
		ts.mu.Unlock()
		if conn == nil {
			continue
		}
		conn.SetPacketHandler(nil)
		if err := conn.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// target returns the state for a target, creating it on first use.
func (m *Manager) target(target audio.Target) *targetState {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.targets[target.Key()]
	if !ok {
		ts = &targetState{}
		m.targets[target.Key()] = ts
	}
	return ts
}

// install stores an established connection, wires the receiver and the
// disconnect watchdog, and arms auto-reconnect.
func (m *Manager) install(ts *targetState, target audio.Target, conn audio.Connection) {
	conn.SetPacketHandler(m.handler)
	conn.OnDisconnect(func(err error) {
		m.handleDisconnect(ts, target, err)
	})

	ts.mu.Lock()
	ts.conn = conn
	ts.phase = PhaseConnected
	ts.lastErr = nil
	ts.autoReconnect = true
	ts.mu.Unlock()
}

// handleDisconnect reacts to an unsolicited connection loss by scheduling the
// reconnection worker, unless auto-reconnect was suppressed by a Leave or one
// is already running.
func (m *Manager) handleDisconnect(ts *targetState, target audio.Target, cause error) {
	m.stopMu.Lock()
	defer m.stopMu.Unlock()

	select {
	case <-m.done:
		return
	default:
	}

	ts.mu.Lock()
	if !ts.autoReconnect || ts.reconnecting {
		ts.mu.Unlock()
		return
	}
	ts.conn = nil
	ts.phase = PhaseReconnecting
	ts.reconnecting = true
	ctx, cancel := context.WithCancel(context.Background())
	ts.cancelReconnect = cancel
	ts.mu.Unlock()

	m.log.Warn("voice connection lost, scheduling reconnect",
		"target", target.Key(), "error", cause)

	m.wg.Add(1)
	go m.reconnectLoop(ctx, ts, target)
}

// reconnectLoop retries the connection indefinitely with backoff until it
// succeeds, the worker is cancelled, or the manager shuts down.
func (m *Manager) reconnectLoop(ctx context.Context, ts *targetState, target audio.Target) {
	defer m.wg.Done()
	defer func() {
		ts.mu.Lock()
		ts.reconnecting = false
		ts.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		default:
		}

		m.setPhase(ts, PhaseConnecting)
		conn, err := m.platform.Connect(ctx, target)
		if err == nil {
			m.metrics.RecordReconnectAttempt(ctx, "ok")

			ts.mu.Lock()
			active := ts.autoReconnect
			ts.mu.Unlock()
			if !active || ctx.Err() != nil {
				// A Leave or a fresh Join raced the reconnect while Connect was
				// in flight; drop the stale connection.
				_ = conn.Disconnect()
				return
			}

			m.install(ts, target, conn)
			m.log.Info("reconnected to voice channel",
				"target", target.Key(), "attempt", attempt)
			return
		}

		m.metrics.RecordReconnectAttempt(ctx, "error")
		m.setPhase(ts, PhaseReconnecting)
		m.log.Warn("reconnect attempt failed",
			"target", target.Key(), "attempt", attempt, "error", err)

		delay := m.backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-time.After(delay):
		}
	}
}

// backoffDelay computes the delay before retrying after the given 1-based
// attempt: min(maxBackoff, baseBackoff * 2^(attempt-1)) plus uniform jitter
// in [0, baseBackoff).
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.baseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.maxBackoff || delay <= 0 {
			delay = m.maxBackoff
			break
		}
	}
	return delay + m.jitter(m.baseBackoff)
}

// cancelWorker cancels a pending reconnection worker, if any. Cancelling a
// worker that already finished is a no-op.
func (m *Manager) cancelWorker(ts *targetState) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.cancelReconnect != nil {
		ts.cancelReconnect()
		ts.cancelReconnect = nil
	}
}

// setPhase updates a target's phase.
func (m *Manager) setPhase(ts *targetState, p Phase) {
	ts.mu.Lock()
	ts.phase = p
	ts.mu.Unlock()
}

// sleep waits for d or until ctx/shutdown cancels the wait.
func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return errors.New("shutting down")
	case <-time.After(d):
		return nil
	}
}
