package infra

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Send when the transport has no live connection.
var ErrNotConnected = errors.New("stream transport not connected")

// StreamHandler receives lifecycle and frame callbacks from a StreamTransport.
// OnFrame is called from the transport's single read goroutine, so frames are
// delivered one at a time in arrival order.
type StreamHandler interface {
	OnOpen()
	OnFrame(msg []byte)
	OnClose(err error)
}

// StreamTransport maintains one persistent full-duplex streaming connection.
// It does not reconnect on its own: reconnection policy (tied to market
// hours) belongs to the session layer.
type StreamTransport struct {
	url     string
	header  http.Header
	handler StreamHandler

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// NewStreamTransport creates a transport for the given endpoint.
func NewStreamTransport(url string, header http.Header, handler StreamHandler) *StreamTransport {
	return &StreamTransport{
		url:          url,
		header:       header,
		handler:      handler,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// SetHeader replaces the handshake header used on the next dial. Session
// tokens rotate on every login, so the header is refreshed before reconnects.
func (t *StreamTransport) SetHeader(h http.Header) {
	t.mu.Lock()
	t.header = h
	t.mu.Unlock()
}

// Open dials the endpoint and starts the read loop. No-op if already open.
func (t *StreamTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	header := t.header
	t.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, header)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readLoop()
	if t.PingInterval > 0 {
		t.wg.Add(1)
		go t.pingLoop(loopCtx)
	}

	slog.Info("Stream connected", "url", t.url)
	t.handler.OnOpen()
	return nil
}

// Send writes one outbound frame. Writes are serialized.
func (t *StreamTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	c := t.conn
	t.mu.RUnlock()

	if c == nil {
		return ErrNotConnected
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

// IsOpen reports whether a connection is live.
func (t *StreamTransport) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

// Close tears down the connection and waits for the read loop to exit.
// Idempotent.
func (t *StreamTransport) Close() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.wg.Wait()
	return nil
}

func (t *StreamTransport) readLoop() {
	defer t.wg.Done()

	for {
		t.mu.RLock()
		c := t.conn
		t.mu.RUnlock()
		if c == nil {
			// Closed locally; Close already tore the connection down.
			t.handler.OnClose(nil)
			return
		}

		c.SetReadDeadline(time.Now().Add(t.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("Stream read error", "err", err)
			t.teardown(c)
			t.handler.OnClose(err)
			return
		}

		t.handler.OnFrame(msg)
	}
}

func (t *StreamTransport) pingLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeMu.Lock()
			t.mu.RLock()
			c := t.conn
			t.mu.RUnlock()
			if c == nil {
				t.writeMu.Unlock()
				return
			}
			err := c.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				slog.Warn("Stream ping error", "err", err)
				return
			}
		}
	}
}

// teardown clears the connection if it is still the current one.
func (t *StreamTransport) teardown(c *websocket.Conn) {
	t.mu.Lock()
	if t.conn == c {
		t.conn = nil
		if t.cancel != nil {
			t.cancel()
			t.cancel = nil
		}
	}
	t.mu.Unlock()
	c.Close()
}
