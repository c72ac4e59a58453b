package consistency

import (
	"sync"

	"github.com/google/uuid"
)

const lockStripes = 128

// keyedLocks serializes operations on the same UUID through a fixed set of
// striped mutexes. Two different keys may share a stripe; that costs a
// little contention but keeps memory flat regardless of key cardinality.
type keyedLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyedLocks) lock(key uuid.UUID) func() {
	m := &l.stripes[stripeFor(key)]
	m.Lock()
	return m.Unlock
}

func stripeFor(key uuid.UUID) int {
	// First bytes of a v4 UUID are uniformly random, good enough to pick
	// a stripe.
	return int(uint16(key[0])<<8|uint16(key[1])) % lockStripes
}
