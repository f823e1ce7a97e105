// Package limiter implements sliding-window abuse control for code issuance.
// State lives in memory only: a restart resets the window, which is an
// accepted trade-off for abuse control, not a correctness invariant.
package limiter

import (
	"sync"
	"time"
)

const shardCount = 16

type shard struct {
	mu   sync.Mutex
	hits map[int64][]time.Time
}

// SlidingWindow admits at most limit attempts per key per rolling window.
// Keys are sharded over independent locks so one hot key cannot serialize
// every issuance request in the process. Denied attempts do not consume a
// slot. Timestamps are pruned lazily on every check.
type SlidingWindow struct {
	limit  int
	window time.Duration
	shards [shardCount]*shard

	now func() time.Time // overridable in tests
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = 3
	}
	if window <= 0 {
		window = time.Hour
	}
	l := &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{hits: make(map[int64][]time.Time)}
	}
	return l
}

// Admit reports whether the home account may issue another code now, and
// records the attempt when admitted.
func (l *SlidingWindow) Admit(homeAccountId int64) bool {
	sh := l.shards[uint64(homeAccountId)%shardCount]
	now := l.now()
	cutoff := now.Add(-l.window)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	recent := sh.hits[homeAccountId][:0]
	for _, t := range sh.hits[homeAccountId] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.limit {
		sh.hits[homeAccountId] = recent
		return false
	}
	sh.hits[homeAccountId] = append(recent, now)
	return true
}
