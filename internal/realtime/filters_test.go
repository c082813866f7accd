package realtime

import (
	"testing"

	"github.com/rs/zerolog"
)

type filterRecorder struct {
	open  bool
	sends []map[Topic]Filter
	fail  error
}

func (f *filterRecorder) isOpen() bool { return f.open }

func (f *filterRecorder) send(m map[Topic]Filter) error {
	if f.fail != nil {
		return f.fail
	}
	f.sends = append(f.sends, m)
	return nil
}

func newTestNegotiator(rec *filterRecorder, pageContrib func() map[Topic]Filter) *negotiator {
	return newNegotiator(zerolog.Nop(), rec.isOpen, rec.send, pageContrib)
}

func TestNegotiate_DiffStable(t *testing.T) {
	rec := &filterRecorder{open: true}
	n := newTestNegotiator(rec, nil)
	n.AddPersistent(PersistentInterest{
		Name:    "hot-tokens",
		Topic:   "tokens.discovered",
		Filters: func() Filter { return Filter{"min_liquidity": 1000} },
	})

	n.Negotiate(nil)
	n.Negotiate(nil)

	if len(rec.sends) != 1 {
		t.Fatalf("identical passes must produce one directive, got %d", len(rec.sends))
	}
	if rec.sends[0]["tokens.discovered"]["min_liquidity"] != 1000 {
		t.Fatalf("unexpected filter payload: %v", rec.sends[0])
	}
}

func TestNegotiate_SnapshotForcesSend(t *testing.T) {
	rec := &filterRecorder{open: true}
	n := newTestNegotiator(rec, nil)
	n.AddPersistent(PersistentInterest{
		Name:  "events-feed",
		Topic: "events.new",
	})

	n.Negotiate(nil)
	n.Negotiate(map[Topic]string{"events.new": "events-new-1"})

	if len(rec.sends) != 2 {
		t.Fatalf("snapshot pass must send even when filters are unchanged, got %d sends", len(rec.sends))
	}
	f := rec.sends[1]["events.new"]
	if f["snapshot"] != true || f["request_id"] != "events-new-1" {
		t.Fatalf("snapshot flags missing: %v", f)
	}
}

func TestNegotiate_ShallowUnionOfContributions(t *testing.T) {
	rec := &filterRecorder{open: true}
	page := func() map[Topic]Filter {
		return map[Topic]Filter{
			"events.new": {"severity": "high"},
		}
	}
	n := newTestNegotiator(rec, page)
	n.AddPersistent(PersistentInterest{
		Name:    "notifier",
		Topic:   "events.new",
		Filters: func() Filter { return Filter{"kinds": "all"} },
	})
	n.AddPersistent(PersistentInterest{
		Name:    "badge-counter",
		Topic:   "events.new",
		Filters: func() Filter { return Filter{"unread_only": true} },
	})

	n.Negotiate(nil)

	if len(rec.sends) != 1 {
		t.Fatalf("expected one send, got %d", len(rec.sends))
	}
	f := rec.sends[0]["events.new"]
	if f["kinds"] != "all" || f["unread_only"] != true || f["severity"] != "high" {
		t.Fatalf("merged filter is not the shallow union: %v", f)
	}
}

func TestNegotiate_RelevancePredicateEvaluatedEachPass(t *testing.T) {
	rec := &filterRecorder{open: true}
	relevant := true
	n := newTestNegotiator(rec, nil)
	n.AddPersistent(PersistentInterest{
		Name:     "services-health",
		Topic:    "services.health",
		Relevant: func() bool { return relevant },
	})

	n.Negotiate(nil)
	if _, ok := rec.sends[0]["services.health"]; !ok {
		t.Fatalf("relevant interest missing from %v", rec.sends[0])
	}

	relevant = false
	n.Negotiate(nil)
	if len(rec.sends) != 2 {
		t.Fatalf("expected a clear directive, got %d sends", len(rec.sends))
	}
	if len(rec.sends[1]) != 0 {
		t.Fatalf("expected empty map after relevance flipped, got %v", rec.sends[1])
	}

	// The clear goes out once, not repeatedly.
	n.Negotiate(nil)
	if len(rec.sends) != 2 {
		t.Fatalf("empty map re-sent, got %d sends", len(rec.sends))
	}
}

func TestNegotiate_PendingWhileClosedFlushedOnOpen(t *testing.T) {
	rec := &filterRecorder{open: false}
	n := newTestNegotiator(rec, nil)
	n.AddPersistent(PersistentInterest{
		Name:  "positions-feed",
		Topic: "positions.update",
	})

	n.Negotiate(nil)
	if len(rec.sends) != 0 {
		t.Fatalf("nothing should be sent while closed, got %d", len(rec.sends))
	}

	rec.open = true
	n.FlushPending()
	if len(rec.sends) != 1 {
		t.Fatalf("pending map not flushed, got %d sends", len(rec.sends))
	}
	if _, ok := rec.sends[0]["positions.update"]; !ok {
		t.Fatalf("flushed map missing topic: %v", rec.sends[0])
	}

	// Nothing left to flush.
	n.FlushPending()
	if len(rec.sends) != 1 {
		t.Fatalf("flush repeated a send, got %d", len(rec.sends))
	}
}

func TestNegotiate_InvalidateForcesResend(t *testing.T) {
	rec := &filterRecorder{open: true}
	n := newTestNegotiator(rec, nil)
	n.AddPersistent(PersistentInterest{
		Name:  "wallet",
		Topic: "wallet.balance",
	})

	n.Negotiate(nil)
	n.Invalidate() // connection dropped; server forgot everything
	n.Negotiate(nil)

	if len(rec.sends) != 2 {
		t.Fatalf("expected resend after invalidate, got %d sends", len(rec.sends))
	}
}
