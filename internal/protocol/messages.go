// Package protocol defines the WebSocket message types exchanged with the ScreenerBot server.
package protocol

import "encoding/json"

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given target.
func (m *Message) ParsePayload(target any) error {
	return json.Unmarshal(m.Payload, target)
}

// Message types (server → client)
const (
	TypeData          = "data"
	TypeAck           = "ack"
	TypePong          = "pong"
	TypeError         = "error"
	TypeWarning       = "warning"
	TypeBackpressure  = "backpressure"
	TypeSnapshotBegin = "snapshot_begin"
	TypeSnapshotEnd   = "snapshot_end"
)

// Message types (client → server)
const (
	TypeHello      = "hello"
	TypePing       = "ping"
	TypeSetFilters = "set_filters"
	TypePause      = "pause"
	TypeResume     = "resume"
)

// HelloPayload is sent once after every successful connect.
type HelloPayload struct {
	ClientID      string   `json:"client_id"`
	ClientName    string   `json:"client_name,omitempty"`
	ClientVersion string   `json:"client_version"`
	Pages         []string `json:"pages"` // page types this client can render
}

// AckPayload confirms the handshake.
type AckPayload struct {
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ServerTime      int64  `json:"server_time,omitempty"`
}

// PingPayload carries a monotonically increasing probe id.
type PingPayload struct {
	ID int64 `json:"id"`
}

// PongPayload echoes the probe id from the matching ping.
type PongPayload struct {
	ID int64 `json:"id"`
}

// DataPayload is a single topic update.
type DataPayload struct {
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Seq       int64           `json:"seq,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
	Key       string          `json:"key,omitempty"`
	Snapshot  bool            `json:"snapshot,omitempty"` // part of a snapshot window
}

// ErrorPayload is a topic-scoped server error.
type ErrorPayload struct {
	Topic   string `json:"topic,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WarningPayload is a topic-scoped advisory (including backpressure).
type WarningPayload struct {
	Topic   string `json:"topic,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// SnapshotBeginPayload frames the start of a snapshot window.
type SnapshotBeginPayload struct {
	Topic     string `json:"topic"`
	RequestID string `json:"request_id"`
}

// SnapshotEndPayload frames the end of a snapshot window.
type SnapshotEndPayload struct {
	Topic     string `json:"topic"`
	RequestID string `json:"request_id"`
	Count     int    `json:"count,omitempty"` // items replayed inside the window
}

// SetFiltersPayload replaces the server-side filter map for this client.
// Keys are canonical topic names; an empty map clears all filters.
type SetFiltersPayload struct {
	Filters map[string]map[string]any `json:"filters"`
}

// PausePayload suspends delivery for the listed topics. The same shape is
// used for resume.
type PausePayload struct {
	Topics []string `json:"topics"`
}
