// Package realtime implements the subscription hub that owns the single
// persistent WebSocket connection to the ScreenerBot server. It negotiates
// which topics the visible page needs, reconnects with jittered backoff,
// probes liveness, and correlates snapshot windows so a page that becomes
// active receives a consistent baseline before incremental updates arrive.
package realtime

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/screenerbotio/ScreenerBot-sub005/internal/config"
	"github.com/screenerbotio/ScreenerBot-sub005/internal/protocol"
)

// Version is reported to the server in the hello frame.
const Version = "1.4.2"

// Reserved internal channel names. Lifecycle and advisory events are
// surfaced through the normal emit path so any consumer can subscribe; they
// are never thrown.
const (
	ChannelConnected     = "_connected"
	ChannelDisconnected  = "_disconnected"
	ChannelFailed        = "_failed"
	ChannelDegraded      = "_degraded"
	ChannelError         = "_error"
	ChannelWarning       = "_warning"
	ChannelSnapshotBegin = "_snapshot_begin"
	ChannelSnapshotEnd   = "_snapshot_end"
	ChannelStatus        = "_status"
)

// Connection status strings shown by the connectivity indicator.
const (
	StatusConnected  = "connected"
	StatusConnecting = "connecting"
	StatusDegraded   = "degraded"
	StatusOffline    = "offline"
)

// Hub is the realtime subscription hub. Construct exactly one per process
// with New and share it; all state that must be singular (the connection,
// the registry, pending filters, snapshot contexts) lives here.
type Hub struct {
	cfg      *config.Config
	log      zerolog.Logger
	clientID string

	registry  *Registry
	transport *Transport
	reconnect *reconnectController
	heartbeat *heartbeat
	filters   *negotiator
	snapshots *snapshotCorrelator

	mu     sync.Mutex
	pages  map[string]*PageDecl
	active *activeBinding
	paused map[Topic]bool
	closed bool

	actMu sync.Mutex // serializes page activation
}

// New creates the hub. clientID is the stable identifier persisted by the
// store so the server recognizes reconnects from the same installation.
func New(cfg *config.Config, clientID string, log zerolog.Logger) *Hub {
	h := &Hub{
		cfg:      cfg,
		log:      log.With().Str("component", "hub").Logger(),
		clientID: clientID,
		pages:    make(map[string]*PageDecl),
		paused:   make(map[Topic]bool),
	}

	h.registry = NewRegistry(log)
	h.snapshots = newSnapshotCorrelator(log)
	h.transport = newTransport(cfg.ServerURL, log, h)
	h.reconnect = newReconnectController(
		cfg.ReconnectBase, cfg.ReconnectCap, cfg.ReconnectCeiling,
		log, h.transport.Connect, h.onDegraded,
	)
	h.heartbeat = newHeartbeat(
		cfg.PingInterval, cfg.StallThreshold, cfg.WatchdogInterval,
		log, h.sendPing, h.transport.ForceClose, h.onStall,
	)
	h.filters = newNegotiator(log, h.isOpen, h.sendFilters, h.pageContribution)

	return h
}

// Connect starts the connection. Idempotent while connecting or open.
func (h *Hub) Connect() {
	h.transport.Connect()
}

// Shutdown stops reconnection and closes the connection gracefully.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.reconnect.Stop()
	h.heartbeat.Stop()
	if err := h.transport.Close(); err != nil {
		h.log.Debug().Err(err).Msg("error closing transport")
	}
	h.log.Info().Msg("hub stopped")
}

// IsConnected reports whether the connection is open.
func (h *Hub) IsConnected() bool {
	return h.transport.State() == StateOpen
}

// Status returns the connectivity indicator string: connected, connecting,
// degraded or offline.
func (h *Hub) Status() string {
	switch h.transport.State() {
	case StateOpen:
		return StatusConnected
	case StateConnecting:
		return StatusConnecting
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return StatusOffline
	}
	if h.reconnect.Degraded() {
		return StatusDegraded
	}
	if h.reconnect.Attempts() > 0 {
		return StatusConnecting // retry pending
	}
	return StatusOffline
}

// RTT returns the last measured heartbeat round-trip time.
func (h *Hub) RTT() time.Duration {
	return h.heartbeat.RTT()
}

// Attempts returns the reconnect attempt counter.
func (h *Hub) Attempts() int {
	return h.reconnect.Attempts()
}

// Degraded reports whether reconnection has passed the soft ceiling and
// collaborators should fall back to polling.
func (h *Hub) Degraded() bool {
	return h.reconnect.Degraded()
}

// Subscribe registers a handler on a channel alias, independent of any page.
// The returned token must be kept for Unsubscribe.
func (h *Hub) Subscribe(alias string, handler Handler) *Subscription {
	return h.registry.Subscribe(alias, handler)
}

// Unsubscribe removes a previously registered handler by identity.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.registry.Unsubscribe(sub)
}

// AddPersistentInterest registers an always-present filter contribution not
// tied to any page.
func (h *Hub) AddPersistentInterest(p PersistentInterest) {
	h.filters.AddPersistent(p)
}

// SnapshotInFlight reports whether a snapshot window is open for the topic
// behind the alias.
func (h *Hub) SnapshotInFlight(alias string) bool {
	topic, ok := TopicForAlias(alias)
	if !ok {
		return false
	}
	return h.snapshots.InFlight(topic)
}

// OnStatusChange subscribes to connectivity status transitions. The handler
// receives the same strings Status returns.
func (h *Hub) OnStatusChange(fn func(status string)) *Subscription {
	return h.registry.Subscribe(ChannelStatus, func(data json.RawMessage, _ *MessageContext) {
		var p struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		fn(p.Status)
	})
}

// --- transport handler ---

func (h *Hub) onOpen() {
	h.reconnect.Reset()
	h.heartbeat.Start()
	h.sendHello()
	h.replayPaused()
	h.renegotiateAfterOpen()
	h.emitInternal(ChannelConnected, nil)
	h.emitStatus()
}

func (h *Hub) onClose(code int, reason string) {
	h.heartbeat.Stop()
	// The server forgets filters and open windows per connection.
	h.filters.Invalidate()
	h.snapshots.Clear()
	h.emitInternal(ChannelDisconnected, map[string]any{
		"code":   code,
		"reason": reason,
	})
	h.scheduleReconnect()
	h.emitStatus()
}

func (h *Hub) onFailure(err error) {
	h.heartbeat.Stop()
	h.emitInternal(ChannelFailed, map[string]any{
		"error": err.Error(),
	})
	h.scheduleReconnect()
	h.emitStatus()
}

func (h *Hub) onFrame(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeData:
		var p protocol.DataPayload
		if err := msg.ParsePayload(&p); err != nil {
			h.log.Warn().Err(err).Msg("malformed data frame")
			return
		}
		h.dispatchData(&p)

	case protocol.TypeAck:
		var p protocol.AckPayload
		if err := msg.ParsePayload(&p); err == nil {
			h.log.Info().Str("protocol_version", p.ProtocolVersion).Msg("handshake acknowledged")
		}

	case protocol.TypePong:
		var p protocol.PongPayload
		if err := msg.ParsePayload(&p); err != nil {
			return
		}
		h.heartbeat.HandlePong(p.ID)

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := msg.ParsePayload(&p); err != nil {
			return
		}
		h.log.Warn().Str("topic", p.Topic).Str("code", p.Code).Str("message", p.Message).Msg("server error")
		h.registry.Emit(ChannelError, msg.Payload, &MessageContext{Topic: Topic(p.Topic)})

	case protocol.TypeWarning, protocol.TypeBackpressure:
		var p protocol.WarningPayload
		if err := msg.ParsePayload(&p); err != nil {
			return
		}
		h.registry.Emit(ChannelWarning, msg.Payload, &MessageContext{Topic: Topic(p.Topic)})

	case protocol.TypeSnapshotBegin:
		var p protocol.SnapshotBeginPayload
		if err := msg.ParsePayload(&p); err != nil {
			return
		}
		h.snapshots.HandleBegin(Topic(p.Topic), p.RequestID)
		h.registry.Emit(ChannelSnapshotBegin, msg.Payload, &MessageContext{Topic: Topic(p.Topic)})

	case protocol.TypeSnapshotEnd:
		var p protocol.SnapshotEndPayload
		if err := msg.ParsePayload(&p); err != nil {
			return
		}
		// A mismatched id belongs to a superseded window: no context change,
		// no consumer callback.
		if h.snapshots.HandleEnd(Topic(p.Topic), p.RequestID) {
			h.registry.Emit(ChannelSnapshotEnd, msg.Payload, &MessageContext{Topic: Topic(p.Topic)})
		}

	default:
		h.log.Warn().Str("type", msg.Type).Msg("unknown message type")
	}
}

// dispatchData fans a data frame out to every alias mapped to its topic plus
// the topic-qualified internal channel, in the order the transport delivered
// it. No reordering, batching or coalescing happens here.
func (h *Hub) dispatchData(p *protocol.DataPayload) {
	topic := Topic(p.Topic)
	mctx := &MessageContext{
		Topic:     topic,
		Seq:       p.Seq,
		Timestamp: p.Timestamp,
		Key:       p.Key,
		Snapshot:  p.Snapshot || h.snapshots.InFlight(topic),
	}

	for _, alias := range AliasesForTopic(topic) {
		h.registry.Emit(alias, p.Data, mctx)
	}
	h.registry.Emit(TopicChannel(topic), p.Data, mctx)
}

// --- outbound helpers ---

func (h *Hub) sendHello() {
	h.mu.Lock()
	pages := make([]string, 0, len(h.pages))
	for name := range h.pages {
		pages = append(pages, name)
	}
	h.mu.Unlock()
	sort.Strings(pages)

	payload := protocol.HelloPayload{
		ClientID:      h.clientID,
		ClientName:    h.cfg.ClientName,
		ClientVersion: Version,
		Pages:         pages,
	}
	if err := h.transport.Send(protocol.TypeHello, payload); err != nil {
		h.log.Error().Err(err).Msg("failed to send hello")
		return
	}
	h.log.Debug().Str("client_id", h.clientID).Msg("hello sent")
}

func (h *Hub) sendPing(id int64) error {
	return h.transport.Send(protocol.TypePing, protocol.PingPayload{ID: id})
}

func (h *Hub) sendFilters(merged map[Topic]Filter) error {
	return h.transport.Send(protocol.TypeSetFilters, setFiltersPayload(merged))
}

func (h *Hub) isOpen() bool {
	return h.transport.State() == StateOpen
}

// renegotiateAfterOpen restores server-side state after a (re)connect. An
// active page with declared topics gets a fresh snapshot request, which also
// carries the page's filters; otherwise any map computed while disconnected
// is flushed as-is.
func (h *Hub) renegotiateAfterOpen() {
	h.mu.Lock()
	binding := h.active
	h.mu.Unlock()

	if binding != nil && len(binding.decl.Topics) > 0 {
		h.RequestSnapshot(binding.decl.Topics)
		return
	}
	h.filters.FlushPending()
}

func (h *Hub) scheduleReconnect() {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if !closed {
		h.reconnect.Schedule()
	}
}

func (h *Hub) onDegraded(attempts int) {
	h.log.Warn().Int("attempts", attempts).Msg("reconnect ceiling reached, recommend polling fallback")
	h.emitInternal(ChannelDegraded, map[string]any{
		"attempts": attempts,
		"fallback": "polling",
	})
	h.emitStatus()
}

func (h *Hub) onStall(gap time.Duration) {
	h.emitInternal(ChannelWarning, map[string]any{
		"reason": "liveness_stalled",
		"gap_ms": gap.Milliseconds(),
	})
}

func (h *Hub) emitInternal(channel string, payload any) {
	var data json.RawMessage
	if payload != nil {
		data, _ = json.Marshal(payload)
	}
	h.registry.Emit(channel, data, &MessageContext{})
}

func (h *Hub) emitStatus() {
	data, _ := json.Marshal(map[string]string{"status": h.Status()})
	h.registry.Emit(ChannelStatus, data, &MessageContext{})
}
