package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/screenerbotio/ScreenerBot-sub005/internal/protocol"
)

// ErrNotConnected is returned by Send when the connection is not open.
// Callers must not assume delivery; messages are never queued.
var ErrNotConnected = errors.New("realtime: connection not open")

// ConnState is the transport connection state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// Connection parameters
const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	closeGracePeriod = 5 * time.Second
	maxMessageSize   = 512 * 1024
)

// transportHandler receives connection lifecycle events and inbound frames.
type transportHandler interface {
	onOpen()
	onClose(code int, reason string)
	onFailure(err error)
	onFrame(msg *protocol.Message)
}

// Transport owns the single persistent WebSocket connection. There is never
// more than one live socket: Connect while Connecting or Open is a no-op, and
// each connection attempt carries a generation number so a stale dial or read
// loop cannot touch a newer connection's state.
type Transport struct {
	url     string
	log     zerolog.Logger
	handler transportHandler

	mu    sync.Mutex
	conn  *websocket.Conn
	state ConnState
	gen   uint64
}

func newTransport(url string, log zerolog.Logger, handler transportHandler) *Transport {
	return &Transport{
		url:     url,
		log:     log.With().Str("component", "transport").Logger(),
		handler: handler,
	}
}

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect starts a connection attempt. It is idempotent: if the transport is
// already connecting or open the call does nothing. The dial itself runs in
// its own goroutine so Connect never blocks the caller.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.state == StateConnecting || t.state == StateOpen {
		t.mu.Unlock()
		t.log.Debug().Msg("connect ignored, already connecting or open")
		return
	}
	t.state = StateConnecting
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	go t.dial(gen)
}

func (t *Transport) dial(gen uint64) {
	t.log.Debug().Str("url", t.url).Msg("connecting")

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := dialer.Dial(t.url, nil)

	t.mu.Lock()
	if t.gen != gen || t.state != StateConnecting {
		// Superseded by a newer attempt or a shutdown.
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		t.state = StateDisconnected
		t.mu.Unlock()
		t.log.Warn().Err(err).Str("url", t.url).Msg("connect failed")
		t.handler.onFailure(err)
		return
	}

	conn.SetReadLimit(maxMessageSize)
	t.conn = conn
	t.state = StateOpen
	t.mu.Unlock()

	t.log.Info().Str("url", t.url).Msg("connected")

	// Handler runs before the read loop starts so the hello frame and any
	// pending filter flush hit the wire before the first inbound frame is
	// dispatched.
	t.handler.onOpen()

	go t.readLoop(conn, gen)
}

func (t *Transport) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			t.teardown(gen, code, err)
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Warn().Err(err).Str("data", string(data)).Msg("failed to parse frame")
			continue
		}

		t.handler.onFrame(&msg)
	}
}

// teardown clears the connection handle and notifies the handler. It only
// applies to the generation that opened the connection.
func (t *Transport) teardown(gen uint64, code int, err error) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.state = StateDisconnected
	t.mu.Unlock()

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		t.log.Warn().Err(err).Int("code", code).Msg("connection lost")
	} else {
		t.log.Info().Int("code", code).Msg("connection closed")
	}

	t.handler.onClose(code, reason)
}

// Send marshals and writes one message. If the connection is not open the
// message is dropped with a logged warning and ErrNotConnected.
func (t *Transport) Send(msgType string, payload any) error {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateOpen || t.conn == nil {
		t.log.Warn().Str("type", msgType).Msg("send dropped, connection not open")
		return ErrNotConnected
	}

	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// ForceClose unconditionally closes an open connection. The read loop
// observes the closed socket and runs the normal teardown path, so the
// handler still sees onClose and reconnection proceeds as usual.
func (t *Transport) ForceClose(reason string) {
	t.mu.Lock()
	if t.state != StateOpen || t.conn == nil {
		t.mu.Unlock()
		return
	}
	t.state = StateClosing
	conn := t.conn
	t.mu.Unlock()

	t.log.Warn().Str("reason", reason).Msg("force-closing connection")
	conn.Close()
}

// Close closes the connection gracefully and invalidates any in-flight dial.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.gen++ // orphan any in-flight dial or read loop
	conn := t.conn
	t.conn = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(closeGracePeriod)
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
		deadline,
	)
	if err != nil {
		conn.Close()
		return err
	}

	// Wait briefly for close acknowledgment
	time.Sleep(100 * time.Millisecond)
	return conn.Close()
}
