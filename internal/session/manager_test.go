package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTransport struct {
	mgr       *Manager
	openCalls int32
	open      atomic.Bool
	failOpen  atomic.Bool
	signal    bool // signal NotifyOpen on successful Open
}

func (f *fakeTransport) Open(ctx context.Context) error {
	atomic.AddInt32(&f.openCalls, 1)
	if f.failOpen.Load() {
		return errors.New("dial refused")
	}
	f.open.Store(true)
	if f.signal && f.mgr != nil {
		f.mgr.NotifyOpen()
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.open.Store(false)
	return nil
}

func (f *fakeTransport) IsOpen() bool { return f.open.Load() }

type fakeAuth struct {
	loginCalls int32
	fail       atomic.Bool
}

func (f *fakeAuth) Login(ctx context.Context) error {
	atomic.AddInt32(&f.loginCalls, 1)
	if f.fail.Load() {
		return errors.New("bad credentials")
	}
	return nil
}

type fakeCalendar struct{ open atomic.Bool }

func (f *fakeCalendar) IsOpen(time.Time) bool         { return f.open.Load() }
func (f *fakeCalendar) IsExtendedOpen(time.Time) bool { return f.open.Load() }

func newTestManager(signal bool) (*Manager, *fakeTransport, *fakeAuth, *fakeCalendar) {
	tr := &fakeTransport{signal: signal}
	auth := &fakeAuth{}
	cal := &fakeCalendar{}
	m := NewManager(tr, auth, cal, 100*time.Millisecond, 30*time.Millisecond)
	tr.mgr = m
	return m, tr, auth, cal
}

func TestManager_ConnectAndIdempotence(t *testing.T) {
	m, tr, auth, _ := newTestManager(true)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if m.State() != StateConnected {
		t.Errorf("state = %s, want CONNECTED", m.State())
	}

	// Second connect is a no-op: no extra login, no extra dial.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if got := atomic.LoadInt32(&auth.loginCalls); got != 1 {
		t.Errorf("login calls = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&tr.openCalls); got != 1 {
		t.Errorf("open calls = %d, want 1", got)
	}
}

func TestManager_ConnectTimeout(t *testing.T) {
	// Transport opens but never signals; Connect must time out.
	m, tr, _, _ := newTestManager(false)
	defer m.Close()

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Connect = %v, want ErrConnectTimeout", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED after timeout", m.State())
	}
	if tr.IsOpen() {
		t.Error("transport should have been closed after timeout")
	}
}

func TestManager_ConnectAuthFailure(t *testing.T) {
	m, tr, auth, _ := newTestManager(true)
	defer m.Close()
	auth.fail.Store(true)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected auth error")
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
	if got := atomic.LoadInt32(&tr.openCalls); got != 0 {
		t.Errorf("transport dialed %d times despite auth failure", got)
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	m, _, _, _ := newTestManager(true)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Errorf("second Disconnect failed: %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
}

func TestManager_WatchdogReconnectsDuringMarketHours(t *testing.T) {
	m, tr, _, cal := newTestManager(true)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Drop the connection with the market closed: watchdog must stay quiet.
	cal.open.Store(false)
	tr.Close()
	m.NotifyClose(errors.New("peer reset"))

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&tr.openCalls); got != 1 {
		t.Fatalf("watchdog reconnected outside market hours (open calls = %d)", got)
	}

	// Open the market: watchdog should repair the connection.
	cal.open.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.IsConnected() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !m.IsConnected() {
		t.Error("watchdog did not reconnect during market hours")
	}
}

func TestManager_CloseInterruptsHungReconnect(t *testing.T) {
	// Long connect timeout: a reconnect attempt that never sees the open
	// signal parks inside Connect holding the connection lock. Close must
	// still return promptly.
	tr := &fakeTransport{signal: true}
	auth := &fakeAuth{}
	cal := &fakeCalendar{}
	m := NewManager(tr, auth, cal, 3*time.Second, 20*time.Millisecond)
	tr.mgr = m

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Drop the connection; the next dial opens but never signals.
	tr.signal = false
	tr.Close()
	m.NotifyClose(errors.New("peer reset"))
	cal.open.Store(true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&tr.openCalls) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&tr.openCalls) < 2 {
		t.Fatal("watchdog never attempted a reconnect")
	}

	start := time.Now()
	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close took %v with a reconnect in flight", elapsed)
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED after Close", m.State())
	}
}

func TestManager_WatchdogSurvivesFailures(t *testing.T) {
	m, tr, _, cal := newTestManager(true)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	cal.open.Store(true)
	tr.failOpen.Store(true)
	tr.Close()
	m.NotifyClose(errors.New("peer reset"))

	// Let a few failing ticks pass, then allow dialing again.
	time.Sleep(120 * time.Millisecond)
	tr.failOpen.Store(false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.IsConnected() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !m.IsConnected() {
		t.Error("watchdog did not recover after transient failures")
	}
}
