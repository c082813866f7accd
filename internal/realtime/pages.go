package realtime

import (
	"fmt"
	"sort"

	"github.com/screenerbotio/ScreenerBot-sub005/internal/protocol"
)

// PageDecl declares a page's realtime needs. Every field is optional; a page
// with none of them simply receives nothing and contributes nothing.
type PageDecl struct {
	// Name identifies the page; used by Activate and reported in the
	// hello frame as a supported page type.
	Name string

	// Topics lists the alias names the page cares about. Declaring a
	// topic puts it into the negotiated filter map and requests a
	// snapshot baseline on activation.
	Topics []string

	// Channels maps alias → handler, bound while the page is active.
	Channels map[string]Handler

	// GetFilters returns per-alias filter criteria contributed by this
	// page, merged on top of the persistent contributions.
	GetFilters func() map[string]Filter

	// OnInitial is called once, synchronously, on activation with the
	// current connection status so the page can render a best-effort view
	// before any message arrives.
	OnInitial func(status string)

	// OnEnter is called after channel binding and the snapshot request.
	OnEnter func(status string)

	// OnExit is called before the page's channels are unbound.
	OnExit func()
}

// activeBinding is the single page currently considered foreground, plus the
// subscriptions it installed so they can be precisely removed on deactivation.
type activeBinding struct {
	decl *PageDecl
	subs []*Subscription
}

// Register makes a page declaration known to the hub. Aliases must resolve;
// re-registering a name replaces the previous declaration.
func (h *Hub) Register(decl *PageDecl) error {
	if decl == nil || decl.Name == "" {
		return fmt.Errorf("realtime: page declaration needs a name")
	}
	for _, alias := range decl.Topics {
		if _, ok := TopicForAlias(alias); !ok {
			return fmt.Errorf("realtime: page %q declares unknown alias %q", decl.Name, alias)
		}
	}
	for alias := range decl.Channels {
		if _, ok := TopicForAlias(alias); !ok {
			return fmt.Errorf("realtime: page %q binds unknown alias %q", decl.Name, alias)
		}
	}

	h.mu.Lock()
	h.pages[decl.Name] = decl
	h.mu.Unlock()

	h.log.Debug().Str("page", decl.Name).Strs("topics", decl.Topics).Msg("page registered")
	return nil
}

// Activate makes the named page the single active one. The previous page is
// finalized first: its exit hook runs, then exactly its own subscriptions are
// removed, never anyone else's. The new page's handlers are bound before its
// enter hook runs so no message is dropped in the gap, and the pass finishes
// with a snapshot request (or a plain negotiation pass when the page declares
// no topics, which drops filters solely owned by the previous page).
func (h *Hub) Activate(name string) error {
	h.actMu.Lock()
	defer h.actMu.Unlock()

	h.mu.Lock()
	decl := h.pages[name]
	h.mu.Unlock()
	if decl == nil {
		return fmt.Errorf("realtime: unknown page %q", name)
	}

	h.mu.Lock()
	prev := h.active
	h.active = nil
	h.mu.Unlock()

	if prev != nil {
		if prev.decl.OnExit != nil {
			h.safeCall(prev.decl.Name, "onExit", prev.decl.OnExit)
		}
		for _, sub := range prev.subs {
			h.registry.Unsubscribe(sub)
		}
		h.log.Debug().Str("page", prev.decl.Name).Msg("page deactivated")
	}

	binding := &activeBinding{decl: decl}
	h.mu.Lock()
	h.active = binding
	h.mu.Unlock()

	status := h.Status()
	if decl.OnInitial != nil {
		h.safeCall(name, "onInitial", func() { decl.OnInitial(status) })
	}

	aliases := make([]string, 0, len(decl.Channels))
	for alias := range decl.Channels {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		binding.subs = append(binding.subs, h.registry.Subscribe(alias, decl.Channels[alias]))
	}

	if decl.OnEnter != nil {
		h.safeCall(name, "onEnter", func() { decl.OnEnter(status) })
	}

	if len(decl.Topics) > 0 {
		h.RequestSnapshot(decl.Topics)
	} else {
		h.filters.Negotiate(nil)
	}

	h.log.Info().Str("page", name).Str("status", status).Msg("page activated")
	return nil
}

// ActivePage returns the name of the active page, or "".
func (h *Hub) ActivePage() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return ""
	}
	return h.active.decl.Name
}

// RequestSnapshot asks the server for a fresh baseline for the given aliases.
// While disconnected no window can open; the negotiation pass is held as
// pending and a fresh snapshot is requested once the connection opens.
func (h *Hub) RequestSnapshot(aliases []string) {
	if h.transport.State() == StateOpen {
		ids := h.snapshots.Request(aliases)
		h.filters.Negotiate(ids)
		return
	}
	h.filters.Negotiate(nil)
}

// SetAliasPaused pauses or resumes live delivery for the alias's topic. The
// directive goes out immediately when connected; the paused set is replayed
// after every reconnect since the server forgets it per connection.
func (h *Hub) SetAliasPaused(alias string, paused bool) error {
	topic, ok := TopicForAlias(alias)
	if !ok {
		return fmt.Errorf("realtime: unknown alias %q", alias)
	}

	h.mu.Lock()
	if paused {
		h.paused[topic] = true
	} else {
		delete(h.paused, topic)
	}
	h.mu.Unlock()

	h.log.Debug().Str("topic", string(topic)).Bool("paused", paused).Msg("pause state changed")

	if h.transport.State() != StateOpen {
		return nil
	}
	msgType := protocol.TypeResume
	if paused {
		msgType = protocol.TypePause
	}
	// Dropped sends are fine: the paused set is replayed on reconnect.
	_ = h.transport.Send(msgType, protocol.PausePayload{Topics: []string{string(topic)}})
	return nil
}

// PausedTopics returns the currently paused topics, sorted.
func (h *Hub) PausedTopics() []string {
	h.mu.Lock()
	topics := make([]string, 0, len(h.paused))
	for t := range h.paused {
		topics = append(topics, string(t))
	}
	h.mu.Unlock()
	sort.Strings(topics)
	return topics
}

// replayPaused re-sends the paused set as one pause directive after a
// reconnect.
func (h *Hub) replayPaused() {
	topics := h.PausedTopics()
	if len(topics) == 0 {
		return
	}
	_ = h.transport.Send(protocol.TypePause, protocol.PausePayload{Topics: topics})
	h.log.Debug().Strs("topics", topics).Msg("paused topics replayed")
}

// pageContribution builds the active page's topic→filter contribution for a
// negotiation pass. Declared topics always contribute an entry, even with no
// criteria, so bare interest still reaches the server.
func (h *Hub) pageContribution() map[Topic]Filter {
	h.mu.Lock()
	binding := h.active
	h.mu.Unlock()
	if binding == nil {
		return nil
	}

	decl := binding.decl
	var declared map[string]Filter
	if decl.GetFilters != nil {
		h.safeCall(decl.Name, "getFilters", func() { declared = decl.GetFilters() })
	}

	contrib := make(map[Topic]Filter, len(decl.Topics))
	for _, alias := range decl.Topics {
		topic, ok := TopicForAlias(alias)
		if !ok {
			continue // unknown aliases are rejected at Register
		}
		mergeEntry(contrib, topic, declared[alias])
	}
	return contrib
}

// safeCall runs a page hook, logging a panic instead of letting it cross the
// hub boundary.
func (h *Hub) safeCall(page, hook string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error().
				Str("page", page).
				Str("hook", hook).
				Interface("panic", rec).
				Msg("page hook panicked")
		}
	}()
	fn()
}
