package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockStripes = 64

// userLocks serializes work per user without keeping a mutex per user id.
// Two users may share a stripe; that only costs throughput.
type userLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *userLocks) stripe(userID string) int {
	return int(xxhash.Sum64String(userID) % lockStripes)
}

// lock acquires the stripe for userID and returns its unlock func.
// A nil receiver is a no-op lock.
func (l *userLocks) lock(userID string) func() {
	if l == nil {
		return func() {}
	}
	mu := &l.stripes[l.stripe(userID)]
	mu.Lock()
	return mu.Unlock
}
