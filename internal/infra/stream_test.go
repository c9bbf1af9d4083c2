package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// recordingHandler implements StreamHandler for testing
type recordingHandler struct {
	onOpenCalls  int32
	onFrameCalls int32
	onCloseCalls int32
}

func (h *recordingHandler) OnOpen() {
	atomic.AddInt32(&h.onOpenCalls, 1)
}

func (h *recordingHandler) OnFrame(msg []byte) {
	atomic.AddInt32(&h.onFrameCalls, 1)
}

func (h *recordingHandler) OnClose(err error) {
	atomic.AddInt32(&h.onCloseCalls, 1)
}

// createMockWSServer creates a test WebSocket server
func createMockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

// httpToWS converts http:// URL to ws://
func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

func TestStreamTransport_OpenAndReceive(t *testing.T) {
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"response":{}}`))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	h := &recordingHandler{}
	tr := NewStreamTransport(httpToWS(server.URL), nil, h)
	tr.ReadTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := tr.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	tr.Close()

	if atomic.LoadInt32(&h.onOpenCalls) != 1 {
		t.Error("OnOpen was not called")
	}
	if atomic.LoadInt32(&h.onFrameCalls) == 0 {
		t.Error("OnFrame was not called")
	}
	if atomic.LoadInt32(&h.onCloseCalls) == 0 {
		t.Error("OnClose was not called")
	}
}

func TestStreamTransport_OpenIdempotent(t *testing.T) {
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	h := &recordingHandler{}
	tr := NewStreamTransport(httpToWS(server.URL), nil, h)

	ctx := context.Background()
	if err := tr.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	// Second open is a no-op on a live connection
	if err := tr.Open(ctx); err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	tr.Close()

	if got := atomic.LoadInt32(&h.onOpenCalls); got != 1 {
		t.Errorf("OnOpen called %d times, want 1", got)
	}
}

func TestStreamTransport_SendWhenClosed(t *testing.T) {
	h := &recordingHandler{}
	tr := NewStreamTransport("ws://127.0.0.1:0", nil, h)

	if err := tr.Send([]byte("x")); err != ErrNotConnected {
		t.Errorf("Send on closed transport = %v, want ErrNotConnected", err)
	}
	if tr.IsOpen() {
		t.Error("IsOpen should be false before Open")
	}
}

func TestStreamTransport_Send(t *testing.T) {
	received := make(chan []byte, 1)
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			received <- msg
		}
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	h := &recordingHandler{}
	tr := NewStreamTransport(httpToWS(server.URL), nil, h)

	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer tr.Close()

	msg := []byte(`{"request":{"request_type":"subscribe"}}`)
	if err := tr.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(msg) {
			t.Errorf("server received %q, want %q", got, msg)
		}
	case <-time.After(time.Second):
		t.Error("server did not receive the message")
	}
}

func TestStreamTransport_GracefulClose(t *testing.T) {
	serverClosed := make(chan struct{})
	server := createMockWSServer(t, func(conn *websocket.Conn) {
		<-serverClosed
	})
	defer server.Close()
	defer close(serverClosed)

	h := &recordingHandler{}
	tr := NewStreamTransport(httpToWS(server.URL), nil, h)

	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		tr.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Close did not return within timeout")
	}

	if tr.IsOpen() {
		t.Error("IsOpen should be false after Close")
	}
}
