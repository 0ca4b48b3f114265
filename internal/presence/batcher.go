package presence

import (
	"sort"
	"time"
)

// Status is a user's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Update is an ephemeral presence notification. It is never persisted
// or conflict-resolved; within a batch window the latest update for a
// user overwrites earlier ones.
type Update struct {
	UserID    string    `json:"userId"`
	Status    Status    `json:"status"`
	Color     string    `json:"color,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	IsTyping  bool      `json:"isTyping"`
	Timestamp time.Time `json:"timestamp"`
}

// CursorPosition is a user's current cursor location, last-write-wins
// like Update.
type CursorPosition struct {
	UserID    string    `json:"userId"`
	Line      int       `json:"line"`
	Column    int       `json:"column"`
	Timestamp time.Time `json:"timestamp"`
}

// Batcher bounds the rate of presence/cursor broadcasts. Updates are
// buffered per user and drained as one batch when either the flush
// interval elapses or the combined pending count reaches the max batch
// size.
//
// Batcher is not safe for concurrent use; callers must serialize
// access. Flush timing is a polling check: an external driver calls
// ShouldFlush periodically (see collab.Session).
type Batcher struct {
	flushInterval time.Duration
	maxBatchSize  int

	presence  map[string]Update
	cursors   map[string]CursorPosition
	lastFlush time.Time
	now       func() time.Time
}

// BatcherConfig holds configuration for creating a batcher.
type BatcherConfig struct {
	FlushInterval time.Duration // zero defaults to 100ms
	MaxBatchSize  int           // zero defaults to 50
	Clock         func() time.Time
}

// NewBatcher creates a batcher with the given flush triggers.
func NewBatcher(cfg BatcherConfig) *Batcher {
	interval := cfg.FlushInterval
	if interval == 0 {
		interval = 100 * time.Millisecond
	}

	maxSize := cfg.MaxBatchSize
	if maxSize == 0 {
		maxSize = 50
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Batcher{
		flushInterval: interval,
		maxBatchSize:  maxSize,
		presence:      make(map[string]Update),
		cursors:       make(map[string]CursorPosition),
		lastFlush:     clock(),
		now:           clock,
	}
}

// AddPresence upserts a presence update for the user. A later call for
// the same user replaces the earlier one before the next flush.
func (b *Batcher) AddPresence(update Update) {
	b.presence[update.UserID] = update
}

// AddCursor upserts a cursor position for the user.
func (b *Batcher) AddCursor(cursor CursorPosition) {
	b.cursors[cursor.UserID] = cursor
}

// Pending returns the combined count of buffered updates.
func (b *Batcher) Pending() int {
	return len(b.presence) + len(b.cursors)
}

// ShouldFlush reports whether a flush is due: either the flush interval
// has elapsed since the last flush, or the pending count has reached
// the max batch size. The two triggers are independent.
func (b *Batcher) ShouldFlush() bool {
	if b.Pending() == 0 {
		return false
	}

	if b.Pending() >= b.maxBatchSize {
		return true
	}

	return b.now().Sub(b.lastFlush) >= b.flushInterval
}

// Flush drains both buffers and resets the flush timer. The returned
// slices are ordered by user id so broadcasts are deterministic.
func (b *Batcher) Flush() ([]Update, []CursorPosition) {
	updates := make([]Update, 0, len(b.presence))
	for _, u := range b.presence {
		updates = append(updates, u)
	}

	cursors := make([]CursorPosition, 0, len(b.cursors))
	for _, c := range b.cursors {
		cursors = append(cursors, c)
	}

	sort.Slice(updates, func(i, j int) bool { return updates[i].UserID < updates[j].UserID })
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].UserID < cursors[j].UserID })

	b.presence = make(map[string]Update)
	b.cursors = make(map[string]CursorPosition)
	b.lastFlush = b.now()

	return updates, cursors
}
