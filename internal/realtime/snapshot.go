package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SnapshotContext tracks one in-flight snapshot window. Its presence in the
// correlator means a window is open for the topic; downstream consumers may
// use that to suppress optimistic UI updates until the window closes.
type SnapshotContext struct {
	Topic     Topic
	RequestID string
	Aliases   []string
	CreatedAt time.Time
	StartedAt time.Time // zero until the server acknowledges the window
}

// snapshotCorrelator assigns request ids to baseline requests and reconciles
// begin/end framing against them. At most one active context exists per
// topic; a newer request for the same topic supersedes the old one, and late
// end frames for a superseded window are discarded.
type snapshotCorrelator struct {
	log zerolog.Logger

	mu       sync.Mutex
	contexts map[Topic]*SnapshotContext
}

func newSnapshotCorrelator(log zerolog.Logger) *snapshotCorrelator {
	return &snapshotCorrelator{
		log:      log.With().Str("component", "snapshot").Logger(),
		contexts: make(map[Topic]*SnapshotContext),
	}
}

// newRequestID builds an id from the topic slug, a timestamp and a random
// suffix. Unique enough without a central counter.
func newRequestID(t Topic) string {
	return fmt.Sprintf("%s-%d-%s", t.Slug(), time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Request opens one context per distinct topic behind the given aliases and
// returns the topic→request-id map to thread into the next negotiation pass.
// Aliases that do not resolve are skipped with a warning.
func (c *snapshotCorrelator) Request(aliases []string) map[Topic]string {
	byTopic := make(map[Topic][]string)
	for _, alias := range aliases {
		topic, ok := TopicForAlias(alias)
		if !ok {
			c.log.Warn().Str("alias", alias).Msg("unknown alias in snapshot request")
			continue
		}
		byTopic[topic] = append(byTopic[topic], alias)
	}

	ids := make(map[Topic]string, len(byTopic))

	c.mu.Lock()
	for topic, topicAliases := range byTopic {
		ctx := &SnapshotContext{
			Topic:     topic,
			RequestID: newRequestID(topic),
			Aliases:   topicAliases,
			CreatedAt: time.Now(),
		}
		if old := c.contexts[topic]; old != nil {
			c.log.Debug().
				Str("topic", string(topic)).
				Str("old", old.RequestID).
				Str("new", ctx.RequestID).
				Msg("snapshot context superseded")
		}
		c.contexts[topic] = ctx
		ids[topic] = ctx.RequestID
	}
	c.mu.Unlock()

	return ids
}

// HandleBegin records the server-acknowledged start of a window. If the
// frame's id differs from the tracked context the server started a newer
// window and the context adopts its id; if no context exists one is created
// reactively.
func (c *snapshotCorrelator) HandleBegin(topic Topic, requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := c.contexts[topic]
	if ctx == nil {
		if requestID == "" {
			return
		}
		ctx = &SnapshotContext{
			Topic:     topic,
			RequestID: requestID,
			CreatedAt: time.Now(),
		}
		c.contexts[topic] = ctx
		c.log.Debug().Str("topic", string(topic)).Str("request_id", requestID).Msg("snapshot context created reactively")
	}
	if requestID != "" && requestID != ctx.RequestID {
		ctx.RequestID = requestID
	}
	ctx.StartedAt = time.Now()
}

// HandleEnd closes the window if the frame's id matches the tracked context.
// Mismatched ids belong to a superseded window and are ignored; the caller
// must not surface them to consumers.
func (c *snapshotCorrelator) HandleEnd(topic Topic, requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := c.contexts[topic]
	if ctx == nil {
		return false
	}
	if requestID != ctx.RequestID {
		c.log.Debug().
			Str("topic", string(topic)).
			Str("got", requestID).
			Str("want", ctx.RequestID).
			Msg("stale snapshot end ignored")
		return false
	}
	delete(c.contexts, topic)
	return true
}

// InFlight reports whether a snapshot window is open for the topic.
func (c *snapshotCorrelator) InFlight(topic Topic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contexts[topic] != nil
}

// Context returns the active context for the topic, or nil.
func (c *snapshotCorrelator) Context(topic Topic) *SnapshotContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contexts[topic]
}

// Clear drops every open context; used when the connection is lost, since
// windows cannot complete across a reconnect.
func (c *snapshotCorrelator) Clear() {
	c.mu.Lock()
	c.contexts = make(map[Topic]*SnapshotContext)
	c.mu.Unlock()
}
