package realtime

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSnapshot_RequestGroupsAliasesByTopic(t *testing.T) {
	c := newSnapshotCorrelator(zerolog.Nop())

	ids := c.Request([]string{"events", "positions", "bogus"})
	if len(ids) != 2 {
		t.Fatalf("expected contexts for 2 topics, got %v", ids)
	}

	id, ok := ids["events.new"]
	if !ok || id == "" {
		t.Fatalf("missing request id for events.new: %v", ids)
	}
	if !strings.HasPrefix(id, "events-new-") {
		t.Fatalf("request id %q should start with the topic slug", id)
	}
	if !c.InFlight("events.new") || !c.InFlight("positions.update") {
		t.Fatal("contexts should be in flight after request")
	}
}

func TestSnapshot_NewerRequestSupersedes(t *testing.T) {
	c := newSnapshotCorrelator(zerolog.Nop())

	first := c.Request([]string{"events"})["events.new"]
	second := c.Request([]string{"events"})["events.new"]
	if first == second {
		t.Fatal("request ids must differ")
	}

	// An end frame for the superseded window must not close the new one.
	if closed := c.HandleEnd("events.new", first); closed {
		t.Fatal("stale end frame closed the window")
	}
	if !c.InFlight("events.new") {
		t.Fatal("context deleted by stale end frame")
	}

	if closed := c.HandleEnd("events.new", second); !closed {
		t.Fatal("matching end frame should close the window")
	}
	if c.InFlight("events.new") {
		t.Fatal("context should be gone after matching end")
	}
}

func TestSnapshot_BeginAdoptsServerID(t *testing.T) {
	c := newSnapshotCorrelator(zerolog.Nop())

	c.Request([]string{"events"})
	// Server started a newer window under its own id.
	c.HandleBegin("events.new", "events-new-server-77")

	ctx := c.Context("events.new")
	if ctx == nil || ctx.RequestID != "events-new-server-77" {
		t.Fatalf("context did not adopt server id: %+v", ctx)
	}
	if ctx.StartedAt.IsZero() {
		t.Fatal("begin frame should mark the window as started")
	}

	if closed := c.HandleEnd("events.new", "events-new-server-77"); !closed {
		t.Fatal("end with adopted id should close the window")
	}
}

func TestSnapshot_ReactiveContextFromBegin(t *testing.T) {
	c := newSnapshotCorrelator(zerolog.Nop())

	// No request was made, but the frame carries an id.
	c.HandleBegin("positions.update", "positions-update-99")
	if !c.InFlight("positions.update") {
		t.Fatal("begin frame with id should create a context reactively")
	}

	// Without an id there is nothing to correlate.
	c.HandleBegin("wallet.balance", "")
	if c.InFlight("wallet.balance") {
		t.Fatal("begin frame without id must not create a context")
	}
}

func TestSnapshot_EndWithoutContextIgnored(t *testing.T) {
	c := newSnapshotCorrelator(zerolog.Nop())
	if closed := c.HandleEnd("events.new", "whatever"); closed {
		t.Fatal("end frame without context should be ignored")
	}
}

func TestSnapshot_ClearDropsAllContexts(t *testing.T) {
	c := newSnapshotCorrelator(zerolog.Nop())
	c.Request([]string{"events", "positions"})
	c.Clear()
	if c.InFlight("events.new") || c.InFlight("positions.update") {
		t.Fatal("clear should drop every context")
	}
}
