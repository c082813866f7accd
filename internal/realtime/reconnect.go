package realtime

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// reconnectController schedules the next connection attempt after every
// failed or closed cycle. Delays grow exponentially with jitter in
// [0.5, 1.5] of the nominal delay, capped, and the controller never gives
// up: past the soft ceiling it pins the attempt counter and reports degraded
// mode so collaborators can fall back to polling.
type reconnectController struct {
	log        zerolog.Logger
	ceiling    int
	connect    func()
	onDegraded func(attempts int)

	mu       sync.Mutex
	bo       *backoff.ExponentialBackOff
	attempts int
	degraded bool
	timer    *time.Timer
	stopped  bool
}

func newReconnectController(base, max time.Duration, ceiling int, log zerolog.Logger, connect func(), onDegraded func(int)) *reconnectController {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.RandomizationFactor = 0.5
	bo.Multiplier = 2
	bo.MaxInterval = max
	bo.MaxElapsedTime = 0 // retry forever
	bo.Reset()

	return &reconnectController{
		log:        log.With().Str("component", "reconnect").Logger(),
		ceiling:    ceiling,
		connect:    connect,
		onDegraded: onDegraded,
		bo:         bo,
	}
}

// next advances the attempt counter and returns the jittered delay plus
// whether this attempt crossed into degraded mode.
func (r *reconnectController) next() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attempts < r.ceiling {
		r.attempts++
	}
	justDegraded := false
	if r.attempts >= r.ceiling && !r.degraded {
		r.degraded = true
		justDegraded = true
	}

	delay := r.bo.NextBackOff()
	if delay == backoff.Stop {
		delay = r.bo.MaxInterval
	}
	return delay, justDegraded
}

// Schedule arms a deferred connect. Connect is never called synchronously
// from a close/error handler; at most one timer is pending at a time.
func (r *reconnectController) Schedule() {
	r.mu.Lock()
	if r.stopped || r.timer != nil {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	delay, justDegraded := r.next()

	r.mu.Lock()
	if r.stopped || r.timer != nil {
		r.mu.Unlock()
		return
	}
	attempts := r.attempts
	r.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		r.timer = nil
		stopped := r.stopped
		r.mu.Unlock()
		if !stopped {
			r.connect()
		}
	})
	r.mu.Unlock()

	r.log.Warn().
		Int("attempts", attempts).
		Dur("delay", delay).
		Msg("reconnect scheduled")

	if justDegraded && r.onDegraded != nil {
		r.onDegraded(attempts)
	}
}

// Reset clears the attempt counter after a confirmed successful open.
func (r *reconnectController) Reset() {
	r.mu.Lock()
	r.attempts = 0
	r.degraded = false
	r.bo.Reset()
	r.mu.Unlock()
}

// Stop cancels any pending attempt; used on shutdown.
func (r *reconnectController) Stop() {
	r.mu.Lock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
}

// Attempts returns the current (pinned) attempt counter.
func (r *reconnectController) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Degraded reports whether the attempt ceiling has been reached.
func (r *reconnectController) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}
