package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// MessageContext carries frame metadata alongside the payload.
type MessageContext struct {
	Topic     Topic
	Seq       int64
	Timestamp int64
	Key       string
	Snapshot  bool // frame arrived inside a snapshot window
}

// Handler receives messages for a subscribed channel.
type Handler func(data json.RawMessage, mctx *MessageContext)

// Subscription identifies one registered handler so it can be removed later.
// Whoever subscribes must keep the token; removal is by identity, never by
// holder.
type Subscription struct {
	alias   string
	handler Handler
}

// Alias returns the channel alias this subscription is registered under.
func (s *Subscription) Alias() string {
	return s.alias
}

// Registry is the channel-scoped publish/subscribe table. It is independent
// of transport state: subscribing works while disconnected.
type Registry struct {
	log zerolog.Logger

	mu       sync.Mutex
	channels map[string][]*Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:      log.With().Str("component", "registry").Logger(),
		channels: make(map[string][]*Subscription),
	}
}

// Subscribe appends the handler to the alias's handler list and returns the
// token needed to unsubscribe it.
func (r *Registry) Subscribe(alias string, h Handler) *Subscription {
	sub := &Subscription{alias: alias, handler: h}

	r.mu.Lock()
	r.channels[alias] = append(r.channels[alias], sub)
	r.mu.Unlock()

	r.log.Debug().Str("channel", alias).Msg("handler subscribed")
	return sub
}

// Unsubscribe removes the subscription by identity and drops the channel
// entry entirely once empty. Unknown tokens are a no-op.
func (r *Registry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	subs := r.channels[sub.alias]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(r.channels, sub.alias)
	} else {
		r.channels[sub.alias] = subs
	}
	r.mu.Unlock()
}

// Emit invokes every handler registered for the alias in registration order.
// Iteration runs over a snapshot of the handler list, so a handler that
// (de)registers another handler mid-dispatch cannot corrupt the loop. A
// handler that panics is logged and does not prevent siblings from running.
func (r *Registry) Emit(alias string, data json.RawMessage, mctx *MessageContext) {
	r.mu.Lock()
	subs := make([]*Subscription, len(r.channels[alias]))
	copy(subs, r.channels[alias])
	r.mu.Unlock()

	for _, sub := range subs {
		r.invoke(alias, sub, data, mctx)
	}
}

func (r *Registry) invoke(alias string, sub *Subscription, data json.RawMessage, mctx *MessageContext) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Str("channel", alias).
				Interface("panic", rec).
				Msg("handler panicked")
		}
	}()
	sub.handler(data, mctx)
}

// HandlerCount returns the number of handlers registered for the alias.
func (r *Registry) HandlerCount(alias string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[alias])
}
