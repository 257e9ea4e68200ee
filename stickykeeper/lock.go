package stickykeeper

import (
	"sync"
)

// channelLock is the per-channel synchronization primitive: an exclusive
// lock, a condition for "not busy", and the busy flag itself.
//
// The busy flag marks a repost in flight for the channel. It is set and
// cleared only while mu is held; waiters block in waitNotBusy until a
// Broadcast from clearBusy wakes them to re-check the predicate.
type channelLock struct {
	mu   sync.Mutex
	cond *sync.Cond
	busy bool
}

func newChannelLock() *channelLock {
	cl := &channelLock{}
	cl.cond = sync.NewCond(&cl.mu)
	return cl
}

// waitNotBusy blocks until the channel has no repost in flight.
// Callers must hold mu.
func (cl *channelLock) waitNotBusy() {
	for cl.busy {
		cl.cond.Wait()
	}
}

// clearBusy clears the busy flag and wakes every waiter. Waiters re-check
// their own state rather than assuming the previous repost succeeded.
func (cl *channelLock) clearBusy() {
	cl.mu.Lock()
	cl.busy = false
	cl.cond.Broadcast()
	cl.mu.Unlock()
}

// ChannelLockTable hands out one channelLock per channel ID, creating
// locks lazily on first use. Locks live for the process lifetime - the
// memory cost is one small struct per distinct channel ever touched.
//
// The table's own mutex guards only the map lookup; once a caller holds
// a *channelLock, contention is scoped to that channel alone.
type ChannelLockTable struct {
	mu    sync.Mutex
	locks map[string]*channelLock
}

func NewChannelLockTable() *ChannelLockTable {
	return &ChannelLockTable{locks: map[string]*channelLock{}}
}

// Get returns the lock for the given channel ID, creating it exactly
// once even under concurrent first access.
func (t *ChannelLockTable) Get(channelID string) *channelLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	cl := t.locks[channelID]
	if cl == nil {
		cl = newChannelLock()
		t.locks[channelID] = cl
	}
	return cl
}

// Len returns the number of channels with an allocated lock.
func (t *ChannelLockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
