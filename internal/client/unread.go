package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ReadStatePersister stores the viewer's read position on the server
type ReadStatePersister interface {
	PersistReadState(ctx context.Context, roomID int64) error
}

// UnreadTracker keeps per-room unread counters and their sum.
// Every mutation updates both under the same lock.
type UnreadTracker struct {
	persister ReadStatePersister
	logger    *slog.Logger

	// OnChange is called outside the lock after any counter changes
	OnChange func(roomID int64, count, total int)

	mu     sync.Mutex
	counts map[int64]int
	total  int
	epoch  uint64 // bumped by Reset
}

// NewUnreadTracker creates a tracker that persists reads through p
func NewUnreadTracker(p ReadStatePersister, logger *slog.Logger) *UnreadTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnreadTracker{
		persister: p,
		logger:    logger,
		counts:    make(map[int64]int),
	}
}

// Increment adds one unread message to roomID
func (u *UnreadTracker) Increment(roomID int64) int {
	u.mu.Lock()
	u.counts[roomID]++
	u.total++
	n, total := u.counts[roomID], u.total
	u.mu.Unlock()

	u.changed(roomID, n, total)
	return n
}

// Set overwrites the counter of roomID
func (u *UnreadTracker) Set(roomID int64, count int) {
	if count < 0 {
		count = 0
	}
	u.mu.Lock()
	u.total += count - u.counts[roomID]
	if count == 0 {
		delete(u.counts, roomID)
	} else {
		u.counts[roomID] = count
	}
	total := u.total
	u.mu.Unlock()

	u.changed(roomID, count, total)
}

// Replace swaps in a complete set of counters, as loaded with the room list
func (u *UnreadTracker) Replace(counts map[int64]int) {
	u.mu.Lock()
	u.counts = make(map[int64]int, len(counts))
	u.total = 0
	for id, n := range counts {
		if n <= 0 {
			continue
		}
		u.counts[id] = n
		u.total += n
	}
	total := u.total
	u.mu.Unlock()

	u.changed(0, 0, total)
}

// Count returns the unread counter of roomID
func (u *UnreadTracker) Count(roomID int64) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[roomID]
}

// Total returns the aggregate badge count
func (u *UnreadTracker) Total() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.total
}

// Snapshot returns a copy of all non-zero counters
func (u *UnreadTracker) Snapshot() map[int64]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[int64]int, len(u.counts))
	for id, n := range u.counts {
		out[id] = n
	}
	return out
}

// MarkRead persists the read state of roomID and zeroes its counter.
// When persisting fails the counter is left unchanged. A Reset while the
// request is in flight wins: the counters that replaced the old ones are kept.
func (u *UnreadTracker) MarkRead(ctx context.Context, roomID int64) error {
	u.mu.Lock()
	epoch := u.epoch
	u.mu.Unlock()

	if u.persister != nil {
		if err := u.persister.PersistReadState(ctx, roomID); err != nil {
			u.logger.Warn("unread.mark_read failed", "room", roomID, "error", err)
			return fmt.Errorf("mark room %d read: %w", roomID, err)
		}
	}

	u.mu.Lock()
	if epoch != u.epoch {
		u.mu.Unlock()
		u.logger.Debug("unread.mark_read stale", "room", roomID)
		return nil
	}
	u.total -= u.counts[roomID]
	delete(u.counts, roomID)
	total := u.total
	u.mu.Unlock()

	u.changed(roomID, 0, total)
	return nil
}

// Reset zeroes every counter
func (u *UnreadTracker) Reset() {
	u.mu.Lock()
	u.counts = make(map[int64]int)
	u.total = 0
	u.epoch++
	u.mu.Unlock()

	u.changed(0, 0, 0)
}

func (u *UnreadTracker) changed(roomID int64, count, total int) {
	if u.OnChange != nil {
		u.OnChange(roomID, count, total)
	}
}
