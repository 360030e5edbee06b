package guard

import (
	"sync"
	"time"

	"github.com/altays/shortly/internal/clock"
	"github.com/rs/zerolog/log"
)

const (
	// MaxAttempts failed passcodes from one client lock the slug for the
	// block window.
	MaxAttempts = 5
	BlockWindow = 3 * time.Hour

	idleExpiry = 24 * time.Hour
)

// Status is the guard's answer for one (slug, client) pair.
type Status struct {
	Blocked      bool
	Attempts     int
	BlockedUntil time.Time
}

// AttemptsLeft reports how many failures remain before the block kicks in.
func (s Status) AttemptsLeft() int {
	left := MaxAttempts - s.Attempts
	if left < 0 {
		return 0
	}
	return left
}

type record struct {
	attempts      int
	blockedUntil  time.Time
	lastAttemptAt time.Time
}

// Guard tracks failed passcode attempts per (slug, client) and locks out
// clients that hit the threshold. State is process-local on purpose: each
// instance enforces its own view, a best-effort brute-force mitigation
// rather than a strict security boundary.
type Guard struct {
	clock clock.Clock

	mu      sync.Mutex
	records map[string]*record
}

func New(clk clock.Clock) *Guard {
	return &Guard{
		clock:   clk,
		records: map[string]*record{},
	}
}

func key(slug, client string) string {
	return slug + "|" + client
}

// CheckBlocked reports the current state without mutating the attempt
// count. An elapsed block window deletes the record, so the client starts
// clean instead of resuming a stale count.
func (g *Guard) CheckBlocked(slug, client string) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(slug, client)
	rec, ok := g.records[k]
	if !ok {
		return Status{}
	}

	if !rec.blockedUntil.IsZero() {
		if g.clock.Now().After(rec.blockedUntil) {
			delete(g.records, k)
			return Status{}
		}
		return Status{Blocked: true, Attempts: rec.attempts, BlockedUntil: rec.blockedUntil}
	}

	return Status{Attempts: rec.attempts}
}

// RecordFailure increments the attempt count and flips the record to
// blocked at the threshold. The increment and threshold comparison happen
// under one lock so concurrent failures cannot both observe the
// pre-threshold count.
func (g *Guard) RecordFailure(slug, client string) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	k := key(slug, client)

	rec, ok := g.records[k]
	if ok && !rec.blockedUntil.IsZero() {
		if now.After(rec.blockedUntil) {
			// Window elapsed: the record is gone, this failure starts over.
			delete(g.records, k)
			rec = nil
			ok = false
		} else {
			// Attempts are frozen while blocked.
			return Status{Blocked: true, Attempts: rec.attempts, BlockedUntil: rec.blockedUntil}
		}
	}

	if !ok {
		rec = &record{}
		g.records[k] = rec
	}

	rec.attempts++
	rec.lastAttemptAt = now

	if rec.attempts >= MaxAttempts {
		rec.blockedUntil = now.Add(BlockWindow)
		log.Warn().Str("slug", slug).Str("client", client).Int("attempts", rec.attempts).Time("blocked_until", rec.blockedUntil).Msg("client blocked after repeated passcode failures")
		return Status{Blocked: true, Attempts: rec.attempts, BlockedUntil: rec.blockedUntil}
	}

	return Status{Attempts: rec.attempts}
}

// Reset drops the record for a (slug, client) pair, called on a successful
// passcode match.
func (g *Guard) Reset(slug, client string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, key(slug, client))
}

// Sweep purges records whose block window has elapsed or that have been
// idle for over 24h, bounding memory without waiting for the client to
// come back. Returns the number of records removed.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	removed := 0
	for k, rec := range g.records {
		elapsed := !rec.blockedUntil.IsZero() && now.After(rec.blockedUntil)
		idle := now.Sub(rec.lastAttemptAt) > idleExpiry
		if elapsed || idle {
			delete(g.records, k)
			removed++
		}
	}

	return removed
}

func (g *Guard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}
