package realtime

import "strings"

// Topic is a canonical, server-recognized subject of a message stream.
type Topic string

// Slug returns a filesystem/id-safe form of the topic name.
func (t Topic) Slug() string {
	return strings.ReplaceAll(string(t), ".", "-")
}

// aliasTopics maps the short alias names used by page code to canonical wire
// topics. The table is static; both directions are pure lookups.
var aliasTopics = map[string]Topic{
	"status":    "system.status",
	"events":    "events.new",
	"positions": "positions.update",
	"tokens":    "tokens.discovered",
	"services":  "services.health",
	"wallet":    "wallet.balance",
	"trades":    "trades.executed",
	"logs":      "logs.stream",
}

var topicAliases = func() map[Topic][]string {
	m := make(map[Topic][]string, len(aliasTopics))
	for alias, topic := range aliasTopics {
		m[topic] = append(m[topic], alias)
	}
	return m
}()

// TopicForAlias resolves an alias to its canonical topic.
func TopicForAlias(alias string) (Topic, bool) {
	t, ok := aliasTopics[alias]
	return t, ok
}

// AliasesForTopic resolves a canonical topic to the aliases that map to it.
// Unknown topics resolve to no aliases; the frame is still emitted on the
// topic-qualified internal channel.
func AliasesForTopic(t Topic) []string {
	return topicAliases[t]
}

// TopicChannel is the internal channel name for raw-topic subscribers.
func TopicChannel(t Topic) string {
	return "topic:" + string(t)
}
