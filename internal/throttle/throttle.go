// Package throttle rate-limits high-frequency event kinds so continuous
// signals like mouse movement are sampled down while discrete signals
// (clicks, keys, focus changes) always pass.
package throttle

import (
	"sync"
	"time"

	"github.com/vincentbai/activity-agent/internal/models"
)

const (
	DefaultMouseMoveInterval   = 50 * time.Millisecond
	DefaultMouseScrollInterval = 100 * time.Millisecond
)

// Intervals maps each kind to its minimum inter-event interval. A zero
// interval means the kind is never throttled.
type Intervals map[models.Kind]time.Duration

// DefaultIntervals returns the stock configuration: movement and scroll are
// sampled down, everything else passes untouched.
func DefaultIntervals() Intervals {
	return Intervals{
		models.KindMouseMove:   DefaultMouseMoveInterval,
		models.KindMouseScroll: DefaultMouseScrollInterval,
		models.KindMouseClick:  0,
		models.KindKeyPress:    0,
		models.KindWindowFocus: 0,
	}
}

// Policy decides whether a newly arrived event should be accepted based on
// the recency of the last accepted event of the same kind. Safe for
// concurrent use; one lock guards the whole policy, which is fine at input
// event rates.
type Policy struct {
	mu           sync.Mutex
	minInterval  Intervals
	lastAccepted map[models.Kind]time.Time
}

// NewPolicy builds a policy from the given intervals. Kinds missing from the
// map are treated as unthrottled.
func NewPolicy(intervals Intervals) *Policy {
	min := make(Intervals, len(intervals))
	for kind, interval := range intervals {
		min[kind] = interval
	}
	return &Policy{
		minInterval:  min,
		lastAccepted: make(map[models.Kind]time.Time, len(min)),
	}
}

// ShouldAccept reports whether an event of the given kind arriving at now
// passes the throttle, recording now as the last accepted instant when it
// does. The read-check-update sequence is a single critical section. An
// invalid kind is a caller defect and is always rejected.
func (p *Policy) ShouldAccept(kind models.Kind, now time.Time) bool {
	if !kind.Valid() {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	interval := p.minInterval[kind]
	if interval <= 0 {
		p.lastAccepted[kind] = now
		return true
	}
	last, seen := p.lastAccepted[kind]
	if seen && now.Sub(last) < interval {
		return false
	}
	p.lastAccepted[kind] = now
	return true
}
