// Package session owns authentication, connection establishment and the
// watchdog that repairs disconnections during tradable hours.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"samco_go/internal/infra"
)

// ErrConnectTimeout is returned when the transport does not signal open
// within the configured timeout.
var ErrConnectTimeout = errors.New("session: connect timed out")

// ConnectionState is the session's connection lifecycle state.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Transport is the streaming connection the session supervises.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool
}

// Authenticator establishes broker credentials before the stream opens.
type Authenticator interface {
	Login(ctx context.Context) error
}

// Manager owns the connection state machine. All connect/disconnect attempts
// are serialized under one connection lock; the watchdog reconnects during
// tradable hours only.
type Manager struct {
	transport Transport
	auth      Authenticator
	cal       Calendar

	connMu sync.Mutex // serializes Connect/Disconnect
	state  atomic.Int32

	openedMu sync.Mutex
	opened   chan struct{}

	connectTimeout   time.Duration
	watchdogInterval time.Duration
	now              func() time.Time

	cancelMu        sync.Mutex // guards cancel and watchdogStarted
	watchdogStarted bool
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(transport Transport, auth Authenticator, cal Calendar, connectTimeout, watchdogInterval time.Duration) *Manager {
	return &Manager{
		transport:        transport,
		auth:             auth,
		cal:              cal,
		connectTimeout:   connectTimeout,
		watchdogInterval: watchdogInterval,
		now:              time.Now,
	}
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

// IsConnected reports whether the session is connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect authenticates and opens the transport, blocking until the open
// signal arrives or the timeout fires. No-op if already connected. The first
// successful connect starts the watchdog.
func (m *Manager) Connect(ctx context.Context) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.State() == StateConnected {
		return nil
	}
	m.state.Store(int32(StateConnecting))

	if err := m.auth.Login(ctx); err != nil {
		m.state.Store(int32(StateDisconnected))
		return err
	}

	m.openedMu.Lock()
	m.opened = make(chan struct{}, 1)
	opened := m.opened
	m.openedMu.Unlock()

	if err := m.transport.Open(ctx); err != nil {
		m.state.Store(int32(StateDisconnected))
		return err
	}

	select {
	case <-opened:
	case <-time.After(m.connectTimeout):
		m.transport.Close()
		m.state.Store(int32(StateDisconnected))
		return ErrConnectTimeout
	case <-ctx.Done():
		m.transport.Close()
		m.state.Store(int32(StateDisconnected))
		return ctx.Err()
	}

	m.state.Store(int32(StateConnected))
	slog.Info("Session connected")

	m.cancelMu.Lock()
	if !m.watchdogStarted {
		wdCtx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.wg.Add(1)
		go m.watchdog(wdCtx)
		m.watchdogStarted = true
	}
	m.cancelMu.Unlock()
	return nil
}

// Disconnect closes the transport if open. Idempotent.
func (m *Manager) Disconnect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	err := m.transport.Close()
	m.state.Store(int32(StateDisconnected))
	return err
}

// NotifyOpen is called by the transport handler when the stream reports open.
func (m *Manager) NotifyOpen() {
	m.openedMu.Lock()
	defer m.openedMu.Unlock()
	if m.opened != nil {
		select {
		case m.opened <- struct{}{}:
		default:
		}
	}
}

// NotifyClose is called by the transport handler when the stream drops.
// It must not take the connection lock: a failing dial can report close
// while Connect still holds it.
func (m *Manager) NotifyClose(err error) {
	m.state.Store(int32(StateDisconnected))
	if err != nil {
		slog.Warn("Session stream closed", "err", err)
	}
}

// watchdog periodically repairs a dropped connection, but only while the
// market's extended window is open so it does not hammer reconnects
// overnight. Failures are logged and retried on the next tick.
func (m *Manager) watchdog(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.IsConnected() {
				continue
			}
			if !m.cal.IsExtendedOpen(m.now()) {
				continue
			}

			infra.IncWatchdogReconnect()
			slog.Info("Watchdog reconnecting")

			// Best effort teardown of any half-open state first.
			if err := m.Disconnect(); err != nil {
				slog.Warn("Watchdog disconnect failed", "err", err)
			}
			if err := m.Connect(ctx); err != nil {
				slog.Warn("Watchdog reconnect failed", "err", err)
			}
		}
	}
}

// Close stops the watchdog, waits a bounded grace period for it to finish,
// then disconnects.
func (m *Manager) Close() error {
	// Cancel before touching the connection lock: the watchdog may be
	// inside Connect holding it, waiting out a full connect timeout, and
	// cancellation is what unblocks that attempt.
	m.cancelMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.cancelMu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("Watchdog did not stop within grace period")
	}

	return m.Disconnect()
}
