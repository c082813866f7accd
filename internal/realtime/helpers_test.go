package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/screenerbotio/ScreenerBot-sub005/internal/config"
	"github.com/screenerbotio/ScreenerBot-sub005/internal/protocol"
)

// wsServer is a minimal in-process server used to drive the hub in tests.
type wsServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	msgs chan *protocol.Message
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{
		t:    t,
		msgs: make(chan *protocol.Message, 128),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg protocol.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			select {
			case s.msgs <- &msg:
			default:
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) lastConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

// send pushes a frame to the most recent client connection.
func (s *wsServer) send(msgType string, payload any) {
	s.t.Helper()
	conn := s.lastConn()
	if conn == nil {
		s.t.Fatal("no client connection")
	}
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		s.t.Fatalf("marshal payload: %v", err)
	}
	data, _ := json.Marshal(msg)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.t.Fatalf("server send: %v", err)
	}
}

// dropConn abruptly closes the most recent client connection.
func (s *wsServer) dropConn() {
	if conn := s.lastConn(); conn != nil {
		conn.Close()
	}
}

func (s *wsServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// waitFor blocks until a message of the given type arrives, discarding
// others along the way.
func (s *wsServer) waitFor(msgType string, timeout time.Duration) *protocol.Message {
	s.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-s.msgs:
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			s.t.Fatalf("timed out waiting for %q", msgType)
			return nil
		}
	}
}

// collect drains messages of the given type for the duration.
func (s *wsServer) collect(msgType string, dur time.Duration) []*protocol.Message {
	var out []*protocol.Message
	deadline := time.After(dur)
	for {
		select {
		case msg := <-s.msgs:
			if msg.Type == msgType {
				out = append(out, msg)
			}
		case <-deadline:
			return out
		}
	}
}

func testConfig(url string) *config.Config {
	return &config.Config{
		ServerURL:  url,
		ClientName: "test",
		// Liveness stays out of the way unless a test tightens it.
		PingInterval:     time.Hour,
		StallThreshold:   2 * time.Hour,
		WatchdogInterval: time.Hour,
		ReconnectBase:    10 * time.Millisecond,
		ReconnectCap:     40 * time.Millisecond,
		ReconnectCeiling: 4,
	}
}

func newTestHub(t *testing.T, s *wsServer) *Hub {
	h := New(testConfig(s.URL()), "client-test", zerolog.Nop())
	t.Cleanup(h.Shutdown)
	return h
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
