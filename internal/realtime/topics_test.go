package realtime

import "testing"

func TestTopicAliasTable(t *testing.T) {
	topic, ok := TopicForAlias("events")
	if !ok || topic != "events.new" {
		t.Fatalf("events resolved to %q (ok=%v)", topic, ok)
	}

	if _, ok := TopicForAlias("nonsense"); ok {
		t.Fatal("unknown alias must not resolve")
	}

	aliases := AliasesForTopic("events.new")
	if len(aliases) != 1 || aliases[0] != "events" {
		t.Fatalf("reverse lookup returned %v", aliases)
	}

	if got := TopicChannel("events.new"); got != "topic:events.new" {
		t.Fatalf("topic channel = %q", got)
	}

	if got := Topic("system.status").Slug(); got != "system-status" {
		t.Fatalf("slug = %q", got)
	}
}
