package realtime

import (
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"github.com/screenerbotio/ScreenerBot-sub005/internal/protocol"
)

// Filter is the criteria map sent to the server for one topic.
type Filter map[string]any

// PersistentInterest is an always-present filter contribution not tied to any
// single page, such as the global connectivity indicator. Relevant is
// evaluated fresh on every negotiation pass; nil means always relevant.
// Filters may be nil for a bare interest in the topic.
type PersistentInterest struct {
	Name     string
	Topic    Topic
	Relevant func() bool
	Filters  func() Filter
}

// negotiator computes the effective topic→filter map from persistent
// interests and the active page, and pushes it to the server only when it
// changed or a snapshot was requested. While disconnected the computed map is
// held as pending and flushed on the next open.
type negotiator struct {
	log         zerolog.Logger
	isOpen      func() bool
	send        func(map[Topic]Filter) error
	pageContrib func() map[Topic]Filter

	mu          sync.Mutex
	persistent  []PersistentInterest
	lastSent    map[Topic]Filter
	pending     map[Topic]Filter
	havePending bool
}

func newNegotiator(log zerolog.Logger, isOpen func() bool, send func(map[Topic]Filter) error, pageContrib func() map[Topic]Filter) *negotiator {
	return &negotiator{
		log:         log.With().Str("component", "filters").Logger(),
		isOpen:      isOpen,
		send:        send,
		pageContrib: pageContrib,
	}
}

// AddPersistent registers a persistent interest declaration.
func (n *negotiator) AddPersistent(p PersistentInterest) {
	n.mu.Lock()
	n.persistent = append(n.persistent, p)
	n.mu.Unlock()
}

// Negotiate runs one pass. snapshots maps topics to the request ids generated
// for this cycle; pass nil for a plain pass. The pass supersedes any pending
// map since the effective filters are recomputed from scratch every time.
func (n *negotiator) Negotiate(snapshots map[Topic]string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.pending = nil
	n.havePending = false

	merged := n.computeLocked()
	for topic, id := range snapshots {
		f := merged[topic]
		if f == nil {
			f = Filter{}
			merged[topic] = f
		}
		f["snapshot"] = true
		f["request_id"] = id
	}

	if !n.isOpen() {
		n.pending = merged
		n.havePending = true
		n.log.Debug().Int("topics", len(merged)).Msg("filters pending until connected")
		return
	}

	// Skip the send when nothing changed and no fresh baseline was asked
	// for. An empty map that follows an empty map falls out of the same
	// comparison, so a clear directive goes out once, not repeatedly.
	if len(snapshots) == 0 && filtersEqual(merged, n.lastSent) {
		n.log.Debug().Msg("filters unchanged, send skipped")
		return
	}

	n.sendLocked(merged)
}

// FlushPending sends the map computed while disconnected, if any.
func (n *negotiator) FlushPending() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.havePending {
		return
	}
	merged := n.pending
	n.pending = nil
	n.havePending = false

	if filtersEqual(merged, n.lastSent) {
		return
	}
	n.sendLocked(merged)
}

// Invalidate forgets the last-sent baseline. Called on disconnect: the server
// does not remember filters across connections, so the next pass after a
// reconnect must send unconditionally.
func (n *negotiator) Invalidate() {
	n.mu.Lock()
	n.lastSent = nil
	n.mu.Unlock()
}

// LastSent returns the baseline currently assumed to be on the server.
func (n *negotiator) LastSent() map[Topic]Filter {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastSent
}

func (n *negotiator) computeLocked() map[Topic]Filter {
	merged := make(map[Topic]Filter)

	for _, p := range n.persistent {
		if p.Relevant != nil && !p.Relevant() {
			continue
		}
		var f Filter
		if p.Filters != nil {
			f = p.Filters()
		}
		mergeEntry(merged, p.Topic, f)
	}

	if n.pageContrib != nil {
		for topic, f := range n.pageContrib() {
			mergeEntry(merged, topic, f)
		}
	}

	return merged
}

func (n *negotiator) sendLocked(merged map[Topic]Filter) {
	if err := n.send(merged); err != nil {
		// Raced a disconnect; keep the map for the next open.
		n.pending = merged
		n.havePending = true
		n.log.Debug().Err(err).Msg("filter send failed, held as pending")
		return
	}
	n.lastSent = merged
	n.log.Debug().Int("topics", len(merged)).Msg("filters sent")
}

// mergeEntry shallow-unions f into the topic's entry, creating it if needed.
// Later contributions win on key collisions (last-write-wins).
func mergeEntry(m map[Topic]Filter, topic Topic, f Filter) {
	e := m[topic]
	if e == nil {
		e = Filter{}
		m[topic] = e
	}
	for k, v := range f {
		e[k] = v
	}
}

// filtersEqual compares two topic→filter maps by deep equality, treating nil
// and empty maps as equal.
func filtersEqual(a, b map[Topic]Filter) bool {
	if len(a) != len(b) {
		return false
	}
	for topic, fa := range a {
		fb, ok := b[topic]
		if !ok || !reflect.DeepEqual(fa, fb) {
			return false
		}
	}
	return true
}

// setFiltersPayload converts the typed map to its wire shape.
func setFiltersPayload(merged map[Topic]Filter) protocol.SetFiltersPayload {
	filters := make(map[string]map[string]any, len(merged))
	for topic, f := range merged {
		filters[string(topic)] = map[string]any(f)
	}
	return protocol.SetFiltersPayload{Filters: filters}
}
