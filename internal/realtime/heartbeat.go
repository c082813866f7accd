package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// heartbeat sends liveness probes while the connection is open and watches
// for silence. Probes carry a monotonically increasing id; round-trip time is
// measured only when the echoed id matches the last probe sent, so a stale
// echo after a slow network window cannot skew the measurement. A separate,
// more frequent watchdog tick force-closes the connection when no liveness
// response arrived within the stall threshold, which guards against a socket
// that is technically open but has stopped delivering data.
type heartbeat struct {
	log          zerolog.Logger
	interval     time.Duration
	stallAfter   time.Duration
	watchdogTick time.Duration

	send       func(id int64) error
	forceClose func(reason string)
	onStall    func(gap time.Duration)

	mu         sync.Mutex
	lastID     int64
	lastSentAt time.Time
	lastPongAt time.Time
	rtt        time.Duration
	stop       chan struct{}
}

func newHeartbeat(interval, stallAfter, watchdogTick time.Duration, log zerolog.Logger,
	send func(int64) error, forceClose func(string), onStall func(time.Duration)) *heartbeat {
	return &heartbeat{
		log:          log.With().Str("component", "heartbeat").Logger(),
		interval:     interval,
		stallAfter:   stallAfter,
		watchdogTick: watchdogTick,
		send:         send,
		forceClose:   forceClose,
		onStall:      onStall,
	}
}

// Start begins probing. The stall clock starts now: a connection that never
// delivers a single pong is closed once the threshold elapses.
func (h *heartbeat) Start() {
	h.mu.Lock()
	if h.stop != nil {
		h.mu.Unlock()
		return
	}
	h.stop = make(chan struct{})
	h.lastPongAt = time.Now()
	stop := h.stop
	h.mu.Unlock()

	go h.loop(stop)
}

// Stop halts probing; called when the connection closes.
func (h *heartbeat) Stop() {
	h.mu.Lock()
	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
	h.mu.Unlock()
}

func (h *heartbeat) loop(stop chan struct{}) {
	probe := time.NewTicker(h.interval)
	watchdog := time.NewTicker(h.watchdogTick)
	defer probe.Stop()
	defer watchdog.Stop()

	for {
		select {
		case <-stop:
			return

		case <-probe.C:
			h.sendProbe()

		case <-watchdog.C:
			h.mu.Lock()
			gap := time.Since(h.lastPongAt)
			h.mu.Unlock()

			if gap > h.stallAfter {
				h.log.Warn().Dur("gap", gap).Msg("liveness stalled")
				if h.onStall != nil {
					h.onStall(gap)
				}
				h.forceClose("liveness timeout")
				return // exactly one forced close per stall
			}
		}
	}
}

func (h *heartbeat) sendProbe() {
	h.mu.Lock()
	h.lastID++
	id := h.lastID
	h.lastSentAt = time.Now()
	h.mu.Unlock()

	if err := h.send(id); err != nil {
		h.log.Debug().Err(err).Int64("id", id).Msg("probe send failed")
		return
	}
	h.log.Debug().Int64("id", id).Msg("probe sent")
}

// HandlePong records a liveness response. Responses whose id does not match
// the last probe sent are stale echoes and are ignored entirely.
func (h *heartbeat) HandlePong(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id != h.lastID {
		h.log.Debug().Int64("id", id).Int64("want", h.lastID).Msg("stale pong ignored")
		return
	}
	h.lastPongAt = time.Now()
	h.rtt = h.lastPongAt.Sub(h.lastSentAt)
}

// RTT returns the last measured round-trip time.
func (h *heartbeat) RTT() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rtt
}

// LastPong returns the timestamp of the last accepted liveness response.
func (h *heartbeat) LastPong() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPongAt
}
