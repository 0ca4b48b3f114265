package presence

import "time"

// Tracker ages users based on their last activity: recently active
// users are online, quiet ones go away, and long-quiet ones are dropped
// entirely. Like the batcher it has no internal timer; the caller's
// ticker drives Sweep.
type Tracker struct {
	awayAfter    time.Duration
	offlineAfter time.Duration
	lastActive   map[string]time.Time
	reported     map[string]Status
}

// NewTracker creates a tracker with the given staleness thresholds.
func NewTracker(awayAfter, offlineAfter time.Duration) *Tracker {
	return &Tracker{
		awayAfter:    awayAfter,
		offlineAfter: offlineAfter,
		lastActive:   make(map[string]time.Time),
		reported:     make(map[string]Status),
	}
}

// Touch records activity for a user. New users start as reported
// online; a status change away from that surfaces on the next Sweep.
func (t *Tracker) Touch(userID string, at time.Time) {
	if _, tracked := t.lastActive[userID]; !tracked {
		t.reported[userID] = StatusOnline
	}

	t.lastActive[userID] = at
}

// Remove forgets a user (explicit leave).
func (t *Tracker) Remove(userID string) {
	delete(t.lastActive, userID)
	delete(t.reported, userID)
}

// Status returns the user's current status as of now.
func (t *Tracker) Status(userID string, now time.Time) Status {
	at, ok := t.lastActive[userID]
	if !ok {
		return StatusOffline
	}

	return t.classify(now.Sub(at))
}

// Sweep classifies every tracked user as of now and returns the status
// changes since the previous sweep. Users that aged to offline are
// dropped from tracking but still reported, so peers see the offline
// transition; unchanged users are not repeated tick after tick.
func (t *Tracker) Sweep(now time.Time) map[string]Status {
	transitions := make(map[string]Status)

	for userID, at := range t.lastActive {
		status := t.classify(now.Sub(at))
		if status == t.reported[userID] {
			continue
		}

		transitions[userID] = status

		if status == StatusOffline {
			delete(t.lastActive, userID)
			delete(t.reported, userID)

			continue
		}

		t.reported[userID] = status
	}

	return transitions
}

func (t *Tracker) classify(idle time.Duration) Status {
	switch {
	case idle >= t.offlineAfter:
		return StatusOffline
	case idle >= t.awayAfter:
		return StatusAway
	default:
		return StatusOnline
	}
}
