package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// startTestHub runs a hub in a background goroutine. Tests that register
// fake (nil-conn) clients must unregister them before the test ends, since
// hub.Close() writes a close frame to each client's connection.
func startTestHub(t *testing.T) *wsHub {
	t.Helper()
	hub := newWSHub(testLogger())
	go hub.run()
	return hub
}

func unregisterAll(hub *wsHub, clients ...*wsClient) {
	for _, c := range clients {
		hub.unregister <- c
	}
	time.Sleep(20 * time.Millisecond)
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	resp.Body.Close()
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws message: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal ws message: %v (raw: %s)", err, data)
	}
	return msg
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := startTestHub(t)

	client := &wsClient{hub: hub, send: make(chan []byte, 256)}
	hub.register <- client
	time.Sleep(20 * time.Millisecond)

	if hub.clientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.clientCount())
	}

	hub.unregister <- client
	time.Sleep(20 * time.Millisecond)

	if hub.clientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.clientCount())
	}
}

func TestWSHubUnregisterUnknownClient(t *testing.T) {
	hub := startTestHub(t)

	unknown := &wsClient{hub: hub, send: make(chan []byte, 256)}
	hub.unregister <- unknown
	time.Sleep(20 * time.Millisecond)

	if hub.clientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.clientCount())
	}
}

func TestWSHubBroadcastToClients(t *testing.T) {
	hub := startTestHub(t)

	c1 := &wsClient{hub: hub, send: make(chan []byte, 256)}
	c2 := &wsClient{hub: hub, send: make(chan []byte, 256)}
	hub.register <- c1
	hub.register <- c2
	time.Sleep(20 * time.Millisecond)

	hub.Broadcast("sessions", map[string]int{"count": 2})
	time.Sleep(20 * time.Millisecond)

	for i, c := range []*wsClient{c1, c2} {
		select {
		case got := <-c.send:
			var m wsMessage
			if err := json.Unmarshal(got, &m); err != nil {
				t.Fatalf("client %d: unmarshal: %v", i, err)
			}
			if m.Type != "sessions" {
				t.Fatalf("client %d: type = %q, want sessions", i, m.Type)
			}
		default:
			t.Fatalf("client %d: no message received", i)
		}
	}
	unregisterAll(hub, c1, c2)
}

func TestWSHubBroadcastDropsSlowClient(t *testing.T) {
	hub := startTestHub(t)

	slow := &wsClient{hub: hub, send: make(chan []byte, 1)}
	hub.register <- slow
	time.Sleep(20 * time.Millisecond)

	slow.send <- []byte("fill")

	hub.Broadcast("sessions", "x")
	time.Sleep(20 * time.Millisecond)

	if hub.clientCount() != 0 {
		t.Fatalf("expected slow client to be dropped, got %d clients", hub.clientCount())
	}
}

func TestWSHubBroadcastNoClients(t *testing.T) {
	hub := startTestHub(t)

	// Should not panic or block.
	hub.Broadcast("origin", map[string]string{"status": "ok"})
}

func TestWSHubBroadcastMarshalFailure(t *testing.T) {
	hub := startTestHub(t)

	client := &wsClient{hub: hub, send: make(chan []byte, 256)}
	hub.register <- client
	time.Sleep(20 * time.Millisecond)

	// channels cannot be marshaled to JSON
	hub.Broadcast("bad", make(chan int))
	time.Sleep(20 * time.Millisecond)

	select {
	case <-client.send:
		t.Fatal("should not receive message when marshal fails")
	default:
	}
	unregisterAll(hub, client)
}

func TestHandleWSNonUpgradeRequest(t *testing.T) {
	s, _, _ := newTestServer(t, okOrigin())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestBroadcastSessionsReachesClients(t *testing.T) {
	s, reg, _ := newTestServer(t, okOrigin())
	srv := httptest.NewServer(s)
	defer srv.Close()

	reg.Touch(testHash, "Some Show")

	conn := dialWS(t, srv)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	s.BroadcastSessions()

	msg := readWSMessage(t, conn, 2*time.Second)
	if msg.Type != "sessions" {
		t.Fatalf("type = %q, want sessions", msg.Type)
	}
	dataMap, ok := msg.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data is not a map: %T", msg.Data)
	}
	if got := dataMap["count"]; got != float64(1) {
		t.Fatalf("count = %v, want 1", got)
	}
}

func TestBroadcastOriginHealthReachesClients(t *testing.T) {
	s, _, _ := newTestServer(t, okOrigin())
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	s.BroadcastOriginHealth(context.Background())

	msg := readWSMessage(t, conn, 2*time.Second)
	if msg.Type != "origin" {
		t.Fatalf("type = %q, want origin", msg.Type)
	}
}

func TestServerCloseDisconnectsClients(t *testing.T) {
	s, _, _ := newTestServer(t, okOrigin())
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn := dialWS(t, srv)
	time.Sleep(50 * time.Millisecond)

	s.Close()
	time.Sleep(100 * time.Millisecond)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected error after server close")
	}
	conn.Close()
}

func TestBroadcastNilHubIsSafe(t *testing.T) {
	s := &Server{}
	s.BroadcastSessions()
	s.Close()
}

func TestWSHubCloseIdempotent(t *testing.T) {
	hub := startTestHub(t)
	hub.Close()
	hub.Close()
}

func TestServerCloseTwice(t *testing.T) {
	s, _, _ := newTestServer(t, okOrigin())
	s.Close()
	s.Close()
}

func TestWSHubAddAfterClose(t *testing.T) {
	hub := startTestHub(t)
	hub.Close()
	time.Sleep(20 * time.Millisecond)

	client := &wsClient{hub: hub, send: make(chan []byte, 1)}
	if hub.add(client) {
		t.Fatal("add should refuse clients after Close")
	}
	// remove must not block either, e.g. when a readPump exits late.
	done := make(chan struct{})
	go func() {
		hub.remove(client)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("remove blocked after Close")
	}
}

func TestWSHubBroadcastConcurrentWithClients(t *testing.T) {
	hub := startTestHub(t)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				c := &wsClient{hub: hub, send: make(chan []byte, 4)}
				hub.register <- c
				hub.unregister <- c
			}
		}
	}()

	for i := 0; i < 100; i++ {
		hub.Broadcast("sessions", i)
		_ = hub.clientCount()
	}
	close(stop)
	time.Sleep(20 * time.Millisecond)
}
